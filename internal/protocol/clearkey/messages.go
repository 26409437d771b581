package clearkey

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"opencdm/internal/domain"
)

// KeySystem is the identifier of the ClearKey key system.
const KeySystem domain.KeySystem = "org.w3.clearkey"

// KeySize is the length of a ClearKey content key (AES-128).
const KeySize = 16

var (
	// ErrMalformed is returned for messages that are not valid JSON of the
	// expected shape.
	ErrMalformed = errors.New("clearkey: malformed message")
	// ErrNoKeys is returned for requests or licenses that carry no key.
	ErrNoKeys = errors.New("clearkey: no keys")
)

var b64 = base64.RawURLEncoding

// Request is a decoded license or release request.
type Request struct {
	KeyIDs      []domain.KeyID
	LicenseType domain.LicenseType
	Release     bool
}

type wireRequest struct {
	KIDs    []string `json:"kids"`
	Type    string   `json:"type,omitempty"`
	Release bool     `json:"release,omitempty"`
}

type wireKey struct {
	Kty string `json:"kty"`
	KID string `json:"kid"`
	K   string `json:"k"`
}

type wireLicense struct {
	Keys []wireKey `json:"keys"`
	Type string    `json:"type,omitempty"`
}

// EncodeRequest returns the license request for kids.
func EncodeRequest(kids []domain.KeyID, lt domain.LicenseType) ([]byte, error) {
	if len(kids) == 0 {
		return nil, ErrNoKeys
	}
	return json.Marshal(wireRequest{KIDs: encodeIDs(kids), Type: lt.String()})
}

// EncodeRelease returns the release request for kids.
func EncodeRelease(kids []domain.KeyID) ([]byte, error) {
	if len(kids) == 0 {
		return nil, ErrNoKeys
	}
	return json.Marshal(wireRequest{KIDs: encodeIDs(kids), Type: domain.PersistentLicense.String(), Release: true})
}

// DecodeRequest parses a license or release request.
func DecodeRequest(b []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(b, &w); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(w.KIDs) == 0 {
		return Request{}, ErrNoKeys
	}
	kids, err := decodeIDs(w.KIDs)
	if err != nil {
		return Request{}, err
	}
	return Request{KeyIDs: kids, LicenseType: domain.ParseLicenseType(w.Type), Release: w.Release}, nil
}

// EncodeLicense returns the JWK set carrying keys.
func EncodeLicense(keys []domain.ContentKey, lt domain.LicenseType) ([]byte, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	w := wireLicense{Type: lt.String(), Keys: make([]wireKey, 0, len(keys))}
	for _, k := range keys {
		w.Keys = append(w.Keys, wireKey{Kty: "oct", KID: b64.EncodeToString(k.ID), K: b64.EncodeToString(k.Key)})
	}
	return json.Marshal(w)
}

// EncodeReleaseAck returns the acknowledgement of a release request.
func EncodeReleaseAck(kids []domain.KeyID) ([]byte, error) {
	if len(kids) == 0 {
		return nil, ErrNoKeys
	}
	return json.Marshal(wireRequest{KIDs: encodeIDs(kids)})
}

// Response is a decoded license-server answer: either a license (Keys set)
// or a release acknowledgement (Released set).
type Response struct {
	Keys     []domain.ContentKey
	Released []domain.KeyID
}

// DecodeResponse parses a license or a release acknowledgement. License keys
// must be symmetric ("oct") and KeySize bytes long.
func DecodeResponse(b []byte) (Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, ok := raw["keys"]; ok {
		keys, err := decodeLicense(b)
		return Response{Keys: keys}, err
	}
	if _, ok := raw["kids"]; ok {
		req, err := DecodeRequest(b)
		return Response{Released: req.KeyIDs}, err
	}
	return Response{}, fmt.Errorf("%w: neither keys nor kids", ErrMalformed)
}

func decodeLicense(b []byte) ([]domain.ContentKey, error) {
	var w wireLicense
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(w.Keys) == 0 {
		return nil, ErrNoKeys
	}
	out := make([]domain.ContentKey, 0, len(w.Keys))
	for i, k := range w.Keys {
		if k.Kty != "oct" {
			return nil, fmt.Errorf("%w: key %d has kty %q", ErrMalformed, i, k.Kty)
		}
		kid, err := b64.DecodeString(k.KID)
		if err != nil || len(kid) == 0 {
			return nil, fmt.Errorf("%w: key %d has a bad kid", ErrMalformed, i)
		}
		key, err := b64.DecodeString(k.K)
		if err != nil || len(key) != KeySize {
			return nil, fmt.Errorf("%w: key %d is not %d bytes", ErrMalformed, i, KeySize)
		}
		out = append(out, domain.ContentKey{ID: kid, Key: key})
	}
	return out, nil
}

func encodeIDs(kids []domain.KeyID) []string {
	out := make([]string, len(kids))
	for i, k := range kids {
		out[i] = b64.EncodeToString(k)
	}
	return out
}

func decodeIDs(in []string) ([]domain.KeyID, error) {
	out := make([]domain.KeyID, 0, len(in))
	for _, s := range in {
		kid, err := b64.DecodeString(s)
		if err != nil || len(kid) == 0 {
			return nil, fmt.Errorf("%w: bad key id %q", ErrMalformed, s)
		}
		out = append(out, kid)
	}
	return out, nil
}
