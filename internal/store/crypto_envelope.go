package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"opencdm/internal/crypto"
)

const (
	// The current supported version of the sealed license format stored on disk.
	licenseFormatVersion = 1
)

var (
	// Returned when the passphrase is incorrect or the ciphertext has been modified / corrupted.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted license")
)

// KDFParams are the scrypt cost parameters used when sealing.
type KDFParams struct {
	N, R, P int
}

// DefaultKDFParams is the interactive-login cost recommended for scrypt.
var DefaultKDFParams = KDFParams{N: 1 << 15, R: 8, P: 1}

// blob is the on-disk JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// seal derives a key from passphrase and seals raw into a JSON blob. The
// record name is bound as additional data so a file renamed on disk fails to
// open.
func seal(passphrase, name string, raw []byte, kp KDFParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := newAEAD(passphrase, salt[:], kp)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; salt-bound key guarantees uniqueness
	ct := aead.Seal(nil, nonce[:], raw, additionalData(salt[:], name))

	return json.Marshal(blob{
		V:      licenseFormatVersion,
		Salt:   salt[:],
		N:      kp.N,
		R:      kp.R,
		P:      kp.P,
		Cipher: ct,
	})
}

// open reverses seal.
func open(passphrase, name string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, err
	}
	if bl.V > licenseFormatVersion {
		return nil, fmt.Errorf("unsupported license format version %d", bl.V)
	}
	aead, err := newAEAD(passphrase, bl.Salt, KDFParams{N: bl.N, R: bl.R, P: bl.P})
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, additionalData(bl.Salt, name))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func newAEAD(passphrase string, salt []byte, kp KDFParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, kp.N, kp.R, kp.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	return chacha20poly1305.New(key)
}

func additionalData(salt []byte, name string) []byte {
	ad := make([]byte, 0, len(salt)+len(name))
	ad = append(ad, salt...)
	return append(ad, name...)
}
