package crypto_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/crypto"
)

func encryptCTR(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	var counter [aes.BlockSize]byte
	copy(counter[:], iv)
	out := make([]byte, len(plain))
	cipher.NewCTR(block, counter[:]).XORKeyStream(out, plain)
	return out
}

func TestDecryptCTR_InPlace(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	plain := []byte("a sample that spans more than one aes block")

	for _, iv := range [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		bytes.Repeat([]byte{9}, 16),
	} {
		buf := encryptCTR(t, key, iv, plain)
		require.NoError(t, crypto.DecryptCTR(key, iv, buf))
		assert.Equal(t, plain, buf)
	}
}

func TestDecryptCTR_Errors(t *testing.T) {
	assert.ErrorIs(t, crypto.DecryptCTR(make([]byte, 16), []byte{1, 2, 3}, []byte{0}), crypto.ErrBadIV)
	assert.Error(t, crypto.DecryptCTR([]byte{1}, make([]byte, 16), []byte{0}))
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	crypto.Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	crypto.Wipe(nil)
}

func TestFingerprint(t *testing.T) {
	fp := crypto.Fingerprint([]byte{1, 2, 3})
	assert.Len(t, fp, 12)
	assert.Equal(t, fp, crypto.Fingerprint([]byte{1, 2, 3}))
	assert.NotEqual(t, fp, crypto.Fingerprint([]byte{1, 2, 4}))
	assert.Empty(t, crypto.Fingerprint(nil))
}
