package types

// SessionRequest carries everything the engine needs to open a session.
type SessionRequest struct {
	KeySystem    KeySystem
	LicenseType  LicenseType
	InitDataType string
	InitData     []byte
	CustomData   []byte
}

// DecryptRequest describes one in-place decryption. KeyID may be empty, in
// which case the session's own key is used.
type DecryptRequest struct {
	Data  []byte
	IV    []byte
	KeyID KeyID
}
