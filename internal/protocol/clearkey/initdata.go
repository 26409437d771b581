package clearkey

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"opencdm/internal/domain"
)

// Init data types.
const (
	InitDataKeyIDs = "keyids"
	InitDataCENC   = "cenc"
	InitDataWebM   = "webm"
)

// CommonSystemID is the PSSH system id shared by all key systems that carry
// plain key id lists.
var CommonSystemID = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")

// ErrUnsupportedInitData is returned for unknown init data types.
var ErrUnsupportedInitData = errors.New("clearkey: unsupported init data type")

const maxWebMKeyID = 512

// ParseInitData extracts the key ids named by init data of the given type.
func ParseInitData(initDataType string, data []byte) ([]domain.KeyID, error) {
	switch initDataType {
	case InitDataKeyIDs:
		var w wireRequest
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if len(w.KIDs) == 0 {
			return nil, ErrNoKeys
		}
		return decodeIDs(w.KIDs)
	case InitDataCENC:
		return parsePSSH(data)
	case InitDataWebM:
		if len(data) == 0 || len(data) > maxWebMKeyID {
			return nil, fmt.Errorf("%w: webm key id of %d bytes", ErrMalformed, len(data))
		}
		return []domain.KeyID{append(domain.KeyID(nil), data...)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedInitData, initDataType)
	}
}

// EncodeKeyIDs returns "keyids" init data for kids.
func EncodeKeyIDs(kids []domain.KeyID) ([]byte, error) {
	if len(kids) == 0 {
		return nil, ErrNoKeys
	}
	return json.Marshal(wireRequest{KIDs: encodeIDs(kids)})
}

// BuildPSSH returns a version 1 PSSH box with the common system id listing
// kids. Every key id must be 16 bytes.
func BuildPSSH(kids []domain.KeyID) ([]byte, error) {
	if len(kids) == 0 {
		return nil, ErrNoKeys
	}
	size := 8 + 4 + 16 + 4 + 16*len(kids) + 4
	b := make([]byte, 0, size)
	b = binary.BigEndian.AppendUint32(b, uint32(size))
	b = append(b, "pssh"...)
	b = append(b, 1, 0, 0, 0)
	b = append(b, CommonSystemID[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(kids)))
	for _, k := range kids {
		if len(k) != 16 {
			return nil, fmt.Errorf("%w: pssh key id must be 16 bytes, got %d", ErrMalformed, len(k))
		}
		b = append(b, k...)
	}
	b = binary.BigEndian.AppendUint32(b, 0)
	return b, nil
}

// parsePSSH walks a sequence of PSSH boxes. Key ids from boxes with the
// common system id are preferred; other version 1 boxes are used otherwise.
func parsePSSH(data []byte) ([]domain.KeyID, error) {
	var common, other []domain.KeyID
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, fmt.Errorf("%w: truncated box header", ErrMalformed)
		}
		size := binary.BigEndian.Uint32(data)
		if size < 32 || uint64(size) > uint64(len(data)) || string(data[4:8]) != "pssh" {
			return nil, fmt.Errorf("%w: bad pssh box", ErrMalformed)
		}
		box := data[8:size]
		data = data[size:]

		version := box[0]
		system, err := uuid.FromBytes(box[4:20])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if version == 0 {
			continue
		}
		body := box[20:]
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: truncated key id count", ErrMalformed)
		}
		n := binary.BigEndian.Uint32(body)
		body = body[4:]
		if uint64(n)*16 > uint64(len(body)) {
			return nil, fmt.Errorf("%w: %d key ids do not fit", ErrMalformed, n)
		}
		for i := range n {
			kid := append(domain.KeyID(nil), body[i*16:(i+1)*16]...)
			if system == CommonSystemID {
				common = append(common, kid)
			} else {
				other = append(other, kid)
			}
		}
	}
	if len(common) > 0 {
		return common, nil
	}
	if len(other) > 0 {
		return other, nil
	}
	return nil, ErrNoKeys
}
