package types

// AcquireRequest describes a license to obtain through a full license
// exchange.
type AcquireRequest struct {
	KeySystem    KeySystem
	LicenseType  LicenseType
	InitDataType string
	InitData     []byte
	// Name identifies a persistent license in the license store. Ignored for
	// temporary licenses.
	Name string
}

// LicenseResult is the outcome of a completed exchange. The session stays
// open so its keys can decrypt; close it by SessionID when done.
type LicenseResult struct {
	SessionID string
	Name      string
	Status    KeyStatus
	// Rounds counts the challenges sent to the license server.
	Rounds int
}

// Sample is one encrypted media sample, decrypted in place.
type Sample struct {
	KeyID KeyID
	IV    []byte
	Data  []byte
}
