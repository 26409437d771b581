package domain

import (
	interfaces "opencdm/internal/domain/interfaces"
	types "opencdm/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	KeySystem        = types.KeySystem
	KeyID            = types.KeyID
	KeyStatus        = types.KeyStatus
	LicenseType      = types.LicenseType
	ErrorCode        = types.ErrorCode
	SessionRequest   = types.SessionRequest
	DecryptRequest   = types.DecryptRequest
	ContentKey       = types.ContentKey
	PersistedLicense = types.PersistedLicense
	AcquireRequest   = types.AcquireRequest
	LicenseResult    = types.LicenseResult
	Sample           = types.Sample
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Engine         = interfaces.Engine
	EngineSession  = interfaces.EngineSession
	EngineCallback = interfaces.EngineCallback
	LicenseStore   = interfaces.LicenseStore
	LicenseClient  = interfaces.LicenseClient
	LicenseService = interfaces.LicenseService
	MediaService   = interfaces.MediaService
)

const (
	StatusPending = types.StatusPending
	Usable        = types.Usable
	Released      = types.Released
	Expired       = types.Expired
	InternalError = types.InternalError

	Temporary         = types.Temporary
	PersistentLicense = types.PersistentLicense

	Infinite = types.Infinite

	CodeNone                  = types.CodeNone
	CodeUnknown               = types.CodeUnknown
	CodeInvalidAccessor       = types.CodeInvalidAccessor
	CodeKeySystemNotSupported = types.CodeKeySystemNotSupported
	CodeInvalidSession        = types.CodeInvalidSession
	CodeInvalidDecryptBuffer  = types.CodeInvalidDecryptBuffer
	CodeInvalidKeySystem      = types.CodeInvalidKeySystem
	CodeTimeout               = types.CodeTimeout
	CodeFail                  = types.CodeFail
)

// Sentinel errors of the taxonomy.
var (
	ErrInvalidAccessor         = types.ErrInvalidAccessor
	ErrInvalidSession          = types.ErrInvalidSession
	ErrInvalidKeySystem        = types.ErrInvalidKeySystem
	ErrKeySystemNotSupported   = types.ErrKeySystemNotSupported
	ErrInvalidSessionOperation = types.ErrInvalidSessionOperation
	ErrSessionBusy             = types.ErrSessionBusy
	ErrTimeout                 = types.ErrTimeout
	ErrInvalidDecryptBuffer    = types.ErrInvalidDecryptBuffer
	ErrInternal                = types.ErrInternal
)

// Code maps an error chain to its ErrorCode.
func Code(err error) ErrorCode { return types.Code(err) }

// ParseLicenseType converts the wire name of a license type.
func ParseLicenseType(s string) LicenseType { return types.ParseLicenseType(s) }
