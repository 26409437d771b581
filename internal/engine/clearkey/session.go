package clearkey

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"opencdm/internal/crypto"
	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
)

// Codes passed to OnKeyError.
const (
	errCodeNoLicense int16 = 1
	errCodeStore     int16 = 2
)

type session struct {
	engine      *Engine
	id          string
	buffer      string
	name        string
	licenseType domain.LicenseType
	log         logrus.FieldLogger

	// cbMu is held while a notification is delivered.
	cbMu sync.Mutex
	cb   domain.EngineCallback

	mu             sync.Mutex
	requested      []domain.KeyID
	keys           map[string][]byte
	releasePending []domain.KeyID
	closed         bool
}

var _ domain.EngineSession = (*session)(nil)

func (s *session) ID() string       { return s.id }
func (s *session) BufferID() string { return s.buffer }

// Load restores the keys of a persistent license. A missing record is
// reported through OnKeyError.
func (s *session) Load() error {
	if s.licenseType != domain.PersistentLicense {
		return ErrNotPersistent
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	l, ok, err := s.engine.store.LoadLicense(s.name)
	if err != nil {
		return fmt.Errorf("load license %s: %w", s.name, err)
	}
	if !ok {
		s.notify(func(cb domain.EngineCallback) {
			cb.OnKeyError(errCodeNoLicense, 0, "no stored license named "+s.name)
		})
		return nil
	}
	s.install(l.Keys)
	s.log.WithField("keys", fingerprints(kidsOf(l.Keys))).Info("license restored")
	s.notify(func(cb domain.EngineCallback) { cb.OnKeyReady() })
	return nil
}

// Update installs a license or completes a release. Malformed responses are
// rejected synchronously.
func (s *session) Update(response []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	r, err := protocol.DecodeResponse(response)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if len(r.Released) > 0 {
		return s.completeRelease()
	}

	s.install(r.Keys)
	if s.licenseType == domain.PersistentLicense {
		// Every key held is saved, so a license completed over several
		// rounds is stored whole.
		err := s.engine.store.SaveLicense(domain.PersistedLicense{
			Name:       s.name,
			KeySystem:  protocol.KeySystem,
			Keys:       s.heldKeys(),
			CreatedUTC: s.engine.clock.Now().UTC().Unix(),
		})
		if err != nil {
			s.log.WithError(err).Warn("persist license failed")
			s.notify(func(cb domain.EngineCallback) {
				cb.OnKeyError(errCodeStore, 0, "persist license: "+err.Error())
			})
			return nil
		}
	}

	if missing := s.missing(); len(missing) > 0 {
		s.log.WithField("missing", fingerprints(missing)).Debug("license incomplete, requesting again")
		return s.requestLicense(missing)
	}
	s.log.WithField("keys", fingerprints(kidsOf(r.Keys))).Info("license installed")
	s.notify(func(cb domain.EngineCallback) { cb.OnKeyReady() })
	return nil
}

// Remove drops the keys. A persistent license is deleted from the store and
// a release request is produced; the server acknowledgement is fed back
// through Update.
func (s *session) Remove() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	kids := s.clearKeys()

	if s.licenseType != domain.PersistentLicense || len(kids) == 0 {
		s.engine.dropKeys(s.id)
		if s.licenseType == domain.PersistentLicense {
			if err := s.engine.store.DeleteLicense(s.name); err != nil {
				return fmt.Errorf("remove license %s: %w", s.name, err)
			}
		}
		s.notify(func(cb domain.EngineCallback) { cb.OnKeyStatusUpdate(domain.StatusPending) })
		return nil
	}

	if err := s.engine.store.DeleteLicense(s.name); err != nil {
		return fmt.Errorf("remove license %s: %w", s.name, err)
	}
	msg, err := protocol.EncodeRelease(kids)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.releasePending = kids
	s.mu.Unlock()
	s.engine.setKeys(s.id, kids, domain.Released)

	s.log.WithField("keys", fingerprints(kids)).Info("license removed, release pending")
	s.notify(func(cb domain.EngineCallback) { cb.OnKeyMessage(msg, s.engine.licenseURL) })
	return nil
}

func (s *session) completeRelease() error {
	s.mu.Lock()
	pending := s.releasePending
	s.releasePending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return ErrNoRelease
	}
	s.engine.dropKeys(s.id)
	s.log.Info("release acknowledged")
	s.notify(func(cb domain.EngineCallback) { cb.OnKeyStatusUpdate(domain.Released) })
	return nil
}

// Decrypt decrypts req.Data in place. Without a key id the session's only
// key, or its first requested key, is used.
func (s *session) Decrypt(req domain.DecryptRequest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	key, ok := s.keyFor(req.KeyID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotUsable, crypto.Fingerprint(req.KeyID))
	}

	if err := crypto.DecryptCTR(key, req.IV, req.Data); err != nil {
		if errors.Is(err, crypto.ErrBadIV) {
			return fmt.Errorf("%w: %w", domain.ErrInvalidDecryptBuffer, err)
		}
		return err
	}
	return nil
}

// keyFor must be called with mu held.
func (s *session) keyFor(kid domain.KeyID) ([]byte, bool) {
	if len(kid) > 0 {
		k, ok := s.keys[string(kid)]
		return k, ok
	}
	for _, r := range s.requested {
		if k, ok := s.keys[string(r)]; ok {
			return k, true
		}
	}
	if len(s.keys) == 1 {
		for _, k := range s.keys {
			return k, true
		}
	}
	return nil, false
}

func (s *session) Revoke() {
	s.cbMu.Lock()
	s.cb = nil
	s.cbMu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.clearKeys()
	s.engine.dropKeys(s.id)
	s.log.Debug("session closed")
	return nil
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *session) requestLicense(kids []domain.KeyID) error {
	msg, err := protocol.EncodeRequest(kids, s.licenseType)
	if err != nil {
		return err
	}
	s.notify(func(cb domain.EngineCallback) { cb.OnKeyMessage(msg, s.engine.licenseURL) })
	return nil
}

func (s *session) install(keys []domain.ContentKey) {
	kids := kidsOf(keys)
	s.mu.Lock()
	for _, k := range keys {
		s.keys[string(k.ID)] = append([]byte(nil), k.Key...)
	}
	if len(s.requested) == 0 {
		s.requested = kids
	}
	s.mu.Unlock()
	s.engine.setKeys(s.id, kids, domain.Usable)
}

// heldKeys returns a copy of the installed keys ordered by key id.
func (s *session) heldKeys() []domain.ContentKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ContentKey, 0, len(s.keys))
	for kid, k := range s.keys {
		out = append(out, domain.ContentKey{ID: domain.KeyID(kid), Key: bytes.Clone(k)})
	}
	slices.SortFunc(out, func(a, b domain.ContentKey) int { return bytes.Compare(a.ID, b.ID) })
	return out
}

// clearKeys wipes the key material and returns the ids that were held.
func (s *session) clearKeys() []domain.KeyID {
	s.mu.Lock()
	defer s.mu.Unlock()
	kids := make([]domain.KeyID, 0, len(s.keys))
	for kid, k := range s.keys {
		crypto.Wipe(k)
		kids = append(kids, domain.KeyID(kid))
	}
	clear(s.keys)
	return kids
}

func (s *session) missing() []domain.KeyID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.KeyID
	for _, r := range s.requested {
		if _, ok := s.keys[string(r)]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// notify delivers a notification unless the callback was revoked.
func (s *session) notify(fn func(domain.EngineCallback)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.cb != nil {
		fn(s.cb)
	}
}

func kidsOf(keys []domain.ContentKey) []domain.KeyID {
	out := make([]domain.KeyID, len(keys))
	for i, k := range keys {
		out[i] = k.ID
	}
	return out
}
