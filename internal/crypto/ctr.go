package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrBadIV is returned for IVs that are neither 8 nor 16 bytes.
var ErrBadIV = errors.New("crypto: iv must be 8 or 16 bytes")

// DecryptCTR decrypts data in place with AES-CTR. An 8-byte iv is the
// per-sample IV of common encryption and is zero-extended to a full counter
// block.
func DecryptCTR(key, iv, data []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("crypto: %w", err)
	}
	var counter [aes.BlockSize]byte
	switch len(iv) {
	case 8, aes.BlockSize:
		copy(counter[:], iv)
	default:
		return ErrBadIV
	}
	cipher.NewCTR(block, counter[:]).XORKeyStream(data, data)
	return nil
}
