// Package store persists licenses for persistent-license sessions.
//
// It contains implementations of domain.LicenseStore:
//   - LicenseFileStore keeps one sealed file per license under a directory.
//     Records are JSON, sealed with ChaCha20-Poly1305 under a key derived
//     from a passphrase with scrypt, and written atomically (temp file then
//     rename).
//   - MemoryStore keeps records in memory, for tests and ephemeral use.
//
// All methods are concurrency-safe via internal locking.
package store
