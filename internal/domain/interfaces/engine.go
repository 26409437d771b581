package interfaces

import (
	"time"

	domaintypes "opencdm/internal/domain/types"
)

// Engine is the decryption module the core delegates to. It owns key
// material and the license protocol; the core only coordinates.
type Engine interface {
	// CreateSession opens a session synchronously and registers cb for its
	// notifications. The returned session already carries its identifier.
	CreateSession(req domaintypes.SessionRequest, cb EngineCallback) (EngineSession, error)
	IsTypeSupported(keySystem domaintypes.KeySystem, mimeType string) bool
	SetServerCertificate(keySystem domaintypes.KeySystem, cert []byte) error

	// WaitForKey blocks until keyID reaches status in any session, or the
	// timeout elapses. A zero timeout checks once.
	WaitForKey(keyID domaintypes.KeyID, timeout time.Duration, status domaintypes.KeyStatus) bool
	// SessionForKey returns the id of the session currently holding keyID.
	SessionForKey(keyID domaintypes.KeyID) (string, bool)
	// KeysChanged returns a channel closed at the next change of the key
	// table: a key added, its status changed, or its owner gone.
	KeysChanged() <-chan struct{}
}

// EngineSession is one engine-side decryption context.
type EngineSession interface {
	ID() string
	BufferID() string

	Load() error
	Update(response []byte) error
	Remove() error
	Decrypt(req domaintypes.DecryptRequest) error

	// Revoke unregisters the notification callback; no notification is
	// delivered after it returns.
	Revoke()
	// Close releases the engine resources. It is called exactly once.
	Close() error
}

// EngineCallback receives asynchronous notifications from an engine session.
// Implementations must not block.
type EngineCallback interface {
	OnKeyMessage(challenge []byte, url string)
	OnKeyReady()
	OnKeyError(code int16, systemCode uint32, message string)
	OnKeyStatusUpdate(status domaintypes.KeyStatus)
}
