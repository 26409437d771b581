package interfaces

import "context"

// LicenseClient moves challenges to a license server and returns its
// response. Payloads are opaque to the client.
type LicenseClient interface {
	Acquire(ctx context.Context, url string, challenge []byte) ([]byte, error)
}
