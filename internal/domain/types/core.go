package types

import (
	"encoding/hex"
	"time"
)

// KeySystem identifies a DRM scheme, e.g. "org.w3.clearkey".
type KeySystem string

// String returns the string form of the key system.
func (k KeySystem) String() string { return string(k) }

// KeyID identifies a content key within a license.
type KeyID []byte

// String returns the key id as lowercase hex.
func (k KeyID) String() string { return hex.EncodeToString(k) }

// Infinite is the timeout value that waits until the awaited condition
// holds or the session is closed.
const Infinite time.Duration = -1
