package types

// ContentKey is a key id with its clear key material.
type ContentKey struct {
	ID  KeyID  `json:"kid"`
	Key []byte `json:"k"`
}

// PersistedLicense is the state a persistent-license session saves so that a
// later Load can restore its keys.
type PersistedLicense struct {
	Name       string       `json:"name"`
	KeySystem  KeySystem    `json:"key_system"`
	Keys       []ContentKey `json:"keys"`
	CreatedUTC int64        `json:"created_utc"`
}
