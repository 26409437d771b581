package types

import "errors"

// ErrorCode is the integer outcome reported to callers; zero is success.
type ErrorCode uint32

const (
	CodeNone                  ErrorCode = 0
	CodeUnknown               ErrorCode = 1
	CodeInvalidAccessor       ErrorCode = 0x80000001
	CodeKeySystemNotSupported ErrorCode = 0x80000002
	CodeInvalidSession        ErrorCode = 0x80000003
	CodeInvalidDecryptBuffer  ErrorCode = 0x80000004
	CodeInvalidKeySystem      ErrorCode = 0x80000006
	CodeTimeout               ErrorCode = 0x80000007
	CodeFail                  ErrorCode = 0x80004005
)

var (
	// ErrInvalidAccessor is returned when no engine is available.
	ErrInvalidAccessor = errors.New("no decryption engine available")
	// ErrInvalidSession is returned for operations on a nil or closed session.
	ErrInvalidSession = errors.New("invalid or closed session")
	// ErrInvalidKeySystem is returned when no key system has been selected.
	ErrInvalidKeySystem = errors.New("no key system selected")
	// ErrKeySystemNotSupported is returned when the engine does not handle a key system.
	ErrKeySystemNotSupported = errors.New("key system not supported")
	// ErrInvalidSessionOperation is returned when the engine rejects load, update or remove.
	ErrInvalidSessionOperation = errors.New("session operation rejected")
	// ErrSessionBusy is returned when a license exchange is already in flight on the session.
	ErrSessionBusy = errors.New("license exchange already in progress")
	// ErrTimeout is returned when a wait expires. It is not fatal; the caller may retry.
	ErrTimeout = errors.New("wait timed out")
	// ErrInvalidDecryptBuffer is returned for empty payloads or malformed IVs.
	ErrInvalidDecryptBuffer = errors.New("invalid decrypt buffer")
	// ErrInternal reports an engine or transport failure.
	ErrInternal = errors.New("internal engine failure")
)

var codes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidAccessor, CodeInvalidAccessor},
	{ErrInvalidSession, CodeInvalidSession},
	{ErrInvalidKeySystem, CodeInvalidKeySystem},
	{ErrKeySystemNotSupported, CodeKeySystemNotSupported},
	{ErrInvalidSessionOperation, CodeUnknown},
	{ErrSessionBusy, CodeUnknown},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidDecryptBuffer, CodeInvalidDecryptBuffer},
	{ErrInternal, CodeFail},
}

// Code maps an error chain to its ErrorCode. Nil is CodeNone; errors outside
// the taxonomy are CodeUnknown.
func Code(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
