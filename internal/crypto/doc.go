// Package crypto exposes the minimal primitives used by opencdm.
//
// Contents
//
//   - AES-128-CTR sample decryption as used by common encryption (DecryptCTR)
//   - Best-effort memory wiping for key material (Wipe)
//   - Short key-id fingerprints for display and logging (Fingerprint)
//
// # Notes
//
// DecryptCTR works in place so that sample buffers are never copied. Callers
// holding content keys should Wipe them once the owning session is closed.
package crypto
