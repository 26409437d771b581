package store

import (
	"bytes"
	"sync"

	"opencdm/internal/domain"
)

// MemoryStore is a LicenseStore that keeps records in memory.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]domain.PersistedLicense
}

var _ domain.LicenseStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.PersistedLicense)}
}

func (s *MemoryStore) SaveLicense(l domain.PersistedLicense) error {
	if l.Name == "" {
		return ErrBadName
	}
	s.mu.Lock()
	s.recs[l.Name] = clone(l)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadLicense(name string) (domain.PersistedLicense, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.recs[name]
	if !ok {
		return domain.PersistedLicense{}, false, nil
	}
	return clone(l), true, nil
}

func (s *MemoryStore) DeleteLicense(name string) error {
	s.mu.Lock()
	delete(s.recs, name)
	s.mu.Unlock()
	return nil
}

func clone(l domain.PersistedLicense) domain.PersistedLicense {
	keys := make([]domain.ContentKey, len(l.Keys))
	for i, k := range l.Keys {
		keys[i] = domain.ContentKey{ID: bytes.Clone(k.ID), Key: bytes.Clone(k.Key)}
	}
	l.Keys = keys
	return l
}
