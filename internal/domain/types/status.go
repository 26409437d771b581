package types

// KeyStatus is the lifecycle state of a content key within a session.
type KeyStatus uint8

const (
	StatusPending KeyStatus = iota
	Usable
	Released
	Expired
	InternalError
)

// String returns the status name used in logs and CLI output.
func (s KeyStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case Usable:
		return "usable"
	case Released:
		return "released"
	case Expired:
		return "expired"
	case InternalError:
		return "internal-error"
	default:
		return "unknown"
	}
}

// Known reports whether s is one of the defined statuses.
func (s KeyStatus) Known() bool { return s <= InternalError }

// LicenseType selects temporary or persistent license semantics.
type LicenseType uint8

const (
	Temporary LicenseType = iota
	PersistentLicense
)

// String returns the license type as used on the wire ("temporary",
// "persistent-license").
func (t LicenseType) String() string {
	if t == PersistentLicense {
		return "persistent-license"
	}
	return "temporary"
}

// ParseLicenseType is the inverse of LicenseType.String; unknown values are
// treated as temporary.
func ParseLicenseType(s string) LicenseType {
	if s == "persistent-license" {
		return PersistentLicense
	}
	return Temporary
}
