package interfaces

import domaintypes "opencdm/internal/domain/types"

// LicenseStore persists licenses of persistent-license sessions.
type LicenseStore interface {
	SaveLicense(license domaintypes.PersistedLicense) error
	LoadLicense(name string) (domaintypes.PersistedLicense, bool, error)
	DeleteLicense(name string) error
}
