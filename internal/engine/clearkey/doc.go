// Package clearkey is a software decryption engine for the org.w3.clearkey
// key system.
//
// The engine keeps content keys in memory, answers key-availability waits
// across all of its sessions, and decrypts AES-128-CTR samples in place.
// Persistent-license sessions save their keys to a domain.LicenseStore when
// a license is installed and restore them on Load.
//
// Notifications are delivered synchronously from the call that causes them,
// under the session's callback lock, so that none is delivered once Revoke
// has returned.
package clearkey
