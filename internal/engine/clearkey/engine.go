package clearkey

import (
	"errors"
	"fmt"
	"mime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"opencdm/internal/clock"
	"opencdm/internal/crypto"
	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
)

var (
	ErrNoStore       = errors.New("clearkey: persistent licenses need a license store")
	ErrNotPersistent = errors.New("clearkey: session is not persistent")
	ErrClosed        = errors.New("clearkey: session closed")
	ErrKeyNotUsable  = errors.New("clearkey: key not usable")
	ErrNoRelease     = errors.New("clearkey: no release pending")
)

// containers lists the media types the engine decrypts; codecs are not
// checked.
var containers = map[string]bool{
	"video/mp4":  true,
	"audio/mp4":  true,
	"video/webm": true,
	"audio/webm": true,
}

// Config configures an Engine.
type Config struct {
	// LicenseURL is reported with every license request.
	LicenseURL string
	// Store keeps persistent licenses; nil disables them.
	Store domain.LicenseStore
	Clock clock.Clock
	Log   logrus.FieldLogger
}

type keyEntry struct {
	owner  string
	status domain.KeyStatus
}

// Engine implements domain.Engine for ClearKey.
type Engine struct {
	licenseURL string
	store      domain.LicenseStore
	clock      clock.Clock
	log        logrus.FieldLogger

	mu      sync.Mutex
	keys    map[string]keyEntry
	certs   map[domain.KeySystem][]byte
	changed chan struct{}
}

var _ domain.Engine = (*Engine)(nil)

// New returns an engine with no sessions.
func New(cfg Config) *Engine {
	e := &Engine{
		licenseURL: cfg.LicenseURL,
		store:      cfg.Store,
		clock:      cfg.Clock,
		log:        cfg.Log,
		keys:       make(map[string]keyEntry),
		certs:      make(map[domain.KeySystem][]byte),
		changed:    make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("engine", string(protocol.KeySystem))
	return e
}

// IsTypeSupported reports whether ks is ClearKey and mimeType, if given, is a
// supported container.
func (e *Engine) IsTypeSupported(ks domain.KeySystem, mimeType string) bool {
	if ks != protocol.KeySystem {
		return false
	}
	if mimeType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	return err == nil && containers[mt]
}

// SetServerCertificate records cert. ClearKey does not use it.
func (e *Engine) SetServerCertificate(ks domain.KeySystem, cert []byte) error {
	if ks != protocol.KeySystem {
		return domain.ErrKeySystemNotSupported
	}
	if len(cert) == 0 {
		return errors.New("clearkey: empty server certificate")
	}
	e.mu.Lock()
	e.certs[ks] = append([]byte(nil), cert...)
	e.mu.Unlock()
	return nil
}

// CreateSession opens a session. When the init data names key ids, the
// license request is delivered before CreateSession returns.
func (e *Engine) CreateSession(req domain.SessionRequest, cb domain.EngineCallback) (domain.EngineSession, error) {
	if req.KeySystem != protocol.KeySystem {
		return nil, domain.ErrKeySystemNotSupported
	}
	if req.LicenseType == domain.PersistentLicense && e.store == nil {
		return nil, ErrNoStore
	}
	var kids []domain.KeyID
	if len(req.InitData) > 0 {
		var err error
		if kids, err = protocol.ParseInitData(req.InitDataType, req.InitData); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	s := &session{
		engine:      e,
		id:          uuid.NewString(),
		buffer:      uuid.NewString(),
		licenseType: req.LicenseType,
		requested:   kids,
		keys:        make(map[string][]byte),
		cb:          cb,
	}
	s.name = string(req.CustomData)
	if s.name == "" {
		s.name = s.id
	}
	s.log = e.log.WithField("session_id", s.id)
	s.log.WithFields(logrus.Fields{
		"license_type": req.LicenseType,
		"keys":         len(kids),
	}).Debug("session opened")

	if len(kids) > 0 {
		if err := s.requestLicense(kids); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WaitForKey blocks until keyID has status in some session or timeout
// elapses.
func (e *Engine) WaitForKey(keyID domain.KeyID, timeout time.Duration, status domain.KeyStatus) bool {
	var deadline <-chan time.Time
	armed := false
	for {
		e.mu.Lock()
		k, ok := e.keys[string(keyID)]
		changed := e.changed
		e.mu.Unlock()

		if ok && k.status == status {
			return true
		}
		if !armed {
			deadline = clock.Deadline(e.clock, timeout)
			armed = true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// SessionForKey returns the id of the session that holds keyID.
func (e *Engine) SessionForKey(keyID domain.KeyID) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.keys[string(keyID)]
	return k.owner, ok
}

// KeysChanged returns a channel closed at the next key table change.
func (e *Engine) KeysChanged() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

func (e *Engine) setKeys(owner string, kids []domain.KeyID, status domain.KeyStatus) {
	e.mu.Lock()
	for _, kid := range kids {
		e.keys[string(kid)] = keyEntry{owner: owner, status: status}
	}
	e.broadcast()
	e.mu.Unlock()
}

// broadcast must be called with mu held.
func (e *Engine) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) dropKeys(owner string) {
	e.mu.Lock()
	for kid, k := range e.keys {
		if k.owner == owner {
			delete(e.keys, kid)
		}
	}
	e.broadcast()
	e.mu.Unlock()
}

func fingerprints(kids []domain.KeyID) []string {
	out := make([]string, len(kids))
	for i, k := range kids {
		out[i] = crypto.Fingerprint(k)
	}
	return out
}
