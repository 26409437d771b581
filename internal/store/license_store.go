package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"opencdm/internal/domain"
)

const licenseExt = ".lic"

// ErrBadName is returned for license names that cannot be used as file
// names.
var ErrBadName = errors.New("license name must be 1-128 characters of [A-Za-z0-9._-] and not start with '.'")

var validName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)

// LicenseFileStore keeps sealed licenses under a directory.
type LicenseFileStore struct {
	dir        string
	passphrase string
	kdf        KDFParams

	mu sync.Mutex
}

var _ domain.LicenseStore = (*LicenseFileStore)(nil)

// NewLicenseFileStore returns a store rooted at dir, creating it if needed.
func NewLicenseFileStore(dir, passphrase string, kdf KDFParams) (*LicenseFileStore, error) {
	if dir == "" {
		return nil, errors.New("license store directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create license store: %w", err)
	}
	if kdf.N == 0 {
		kdf = DefaultKDFParams
	}
	return &LicenseFileStore{dir: dir, passphrase: passphrase, kdf: kdf}, nil
}

func (s *LicenseFileStore) SaveLicense(l domain.PersistedLicense) error {
	if !validName.MatchString(l.Name) {
		return ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	b, err := seal(s.passphrase, l.Name, raw, s.kdf)
	if err != nil {
		return fmt.Errorf("seal license %s: %w", l.Name, err)
	}
	return writeFile(s.path(l.Name), b, 0o600)
}

func (s *LicenseFileStore) LoadLicense(name string) (domain.PersistedLicense, bool, error) {
	if !validName.MatchString(name) {
		return domain.PersistedLicense{}, false, ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, found, err := readFile(s.path(name))
	if err != nil || !found {
		return domain.PersistedLicense{}, false, err
	}
	raw, err := open(s.passphrase, name, b)
	if err != nil {
		return domain.PersistedLicense{}, false, fmt.Errorf("open license %s: %w", name, err)
	}
	var l domain.PersistedLicense
	if err := json.Unmarshal(raw, &l); err != nil {
		return domain.PersistedLicense{}, false, fmt.Errorf("decode license %s: %w", name, err)
	}
	return l, true, nil
}

func (s *LicenseFileStore) DeleteLicense(name string) error {
	if !validName.MatchString(name) {
		return ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path(name))
}

// Names returns the names of the stored licenses, sorted.
func (s *LicenseFileStore) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), licenseExt); ok && !e.IsDir() && validName.MatchString(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *LicenseFileStore) path(name string) string {
	return filepath.Join(s.dir, name+licenseExt)
}
