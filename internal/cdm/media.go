package cdm

import (
	"fmt"
	"sync"
	"time"

	"opencdm/internal/domain"
)

// Media is a decryption context for one stream: a selected key system and
// at most one current session. It is safe for concurrent use.
type Media struct {
	accessor *Accessor

	mu        sync.Mutex
	keySystem domain.KeySystem
	session   *Session
}

// Media returns a new context with no key system selected.
func (a *Accessor) Media() *Media {
	return &Media{accessor: a}
}

// SelectKeySystem chooses the key system later calls operate on.
func (m *Media) SelectKeySystem(ks domain.KeySystem) error {
	if m.accessor == nil {
		return domain.ErrInvalidAccessor
	}
	if !m.accessor.IsTypeSupported(ks, "") {
		return fmt.Errorf("select %s: %w", ks, domain.ErrKeySystemNotSupported)
	}
	m.mu.Lock()
	m.keySystem = ks
	m.mu.Unlock()
	return nil
}

// KeySystem returns the selected key system, "" if none.
func (m *Media) KeySystem() domain.KeySystem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keySystem
}

// SetServerCertificate installs cert for the selected key system.
func (m *Media) SetServerCertificate(cert []byte) error {
	ks := m.KeySystem()
	if ks == "" {
		return domain.ErrInvalidKeySystem
	}
	return m.accessor.SetServerCertificate(ks, cert)
}

// CreateSession opens a waiting session for the selected key system and
// makes it current. It fails if a session is already current.
func (m *Media) CreateSession(lt domain.LicenseType, initDataType string, initData, customData []byte) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keySystem == "" {
		return nil, domain.ErrInvalidKeySystem
	}
	if m.session.IsValid() {
		return nil, fmt.Errorf("create session: %w: session %s is current", domain.ErrInvalidSessionOperation, m.session.ID())
	}
	s, err := m.accessor.CreateSession(domain.SessionRequest{
		KeySystem:    m.keySystem,
		LicenseType:  lt,
		InitDataType: initDataType,
		InitData:     initData,
		CustomData:   customData,
	}, nil)
	if err != nil {
		return nil, err
	}
	m.session = s
	return s, nil
}

// Attach makes the session holding a usable keyID current, waiting up to
// timeout. It reports whether a session is current afterwards. The wait runs
// without the context's lock; a session made current meanwhile wins.
func (m *Media) Attach(keyID domain.KeyID, timeout time.Duration) bool {
	if m.Session().IsValid() {
		return true
	}
	found := m.accessor.SessionByKey(keyID, timeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsValid() && found != nil {
		m.session = found
	}
	return m.session.IsValid()
}

// Session returns the current session, nil if none.
func (m *Media) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Status returns the key status of the current session, StatusPending when
// there is none.
func (m *Media) Status() domain.KeyStatus {
	s := m.Session()
	if s == nil {
		return domain.StatusPending
	}
	return s.Status(nil)
}

// Decrypt decrypts req.Data with the current session, first attaching the
// session that holds req.KeyID if none is current.
func (m *Media) Decrypt(req domain.DecryptRequest, timeout time.Duration) error {
	if len(req.KeyID) > 0 {
		m.Attach(req.KeyID, timeout)
	}
	s := m.Session()
	if !s.IsValid() {
		return domain.ErrInvalidSession
	}
	return s.Decrypt(req, timeout)
}

// Close closes and forgets the current session.
func (m *Media) Close() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
