package interfaces

import (
	"context"

	domaintypes "opencdm/internal/domain/types"
)

// LicenseService drives license exchanges over the session core.
type LicenseService interface {
	Acquire(ctx context.Context, req domaintypes.AcquireRequest) (domaintypes.LicenseResult, error)
	Restore(ctx context.Context, keySystem domaintypes.KeySystem, name string) (domaintypes.LicenseResult, error)
	Release(ctx context.Context, keySystem domaintypes.KeySystem, name string) error
	Close(sessionID string) error
}

// MediaService decrypts sample sequences with whichever session holds each
// sample's key.
type MediaService interface {
	DecryptSamples(ctx context.Context, samples []domaintypes.Sample) (int, error)
}
