// Package media decrypts sequences of encrypted samples.
//
// Each sample names its key; the service waits, up to the configured key
// wait, for a session holding that key to become usable.
package media
