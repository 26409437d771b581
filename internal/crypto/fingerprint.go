package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short hex fingerprint of a key id, suitable for logs
// that must not carry the id itself.
//
// It hashes with SHA-256 and truncates to 6 bytes (12 hex chars).
func Fingerprint(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	sum := sha256.Sum256(id)
	return hex.EncodeToString(sum[:6])
}
