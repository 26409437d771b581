// Package cdmtest provides a scriptable domain.Engine for tests of the
// session core and the services built on it.
package cdmtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"opencdm/internal/clock"
	"opencdm/internal/domain"
)

// KeySystem is the key system the fake engine supports by default.
const KeySystem domain.KeySystem = "org.test.fake"

// ErrRejected is what a hook returns to make an engine call fail.
var ErrRejected = errors.New("cdmtest: rejected")

type keyEntry struct {
	owner  string
	status domain.KeyStatus
}

// Engine is an in-memory domain.Engine. Its sessions do nothing unless the
// test installs hooks or emits notifications through them.
type Engine struct {
	// Clock drives WaitForKey deadlines; nil means real time.
	Clock clock.Clock
	// CreateErr, when set, makes CreateSession fail.
	CreateErr error
	// OnCreate runs inside CreateSession, after the callback is registered.
	OnCreate func(s *Session)

	mu       sync.Mutex
	next     int
	sessions map[string]*Session
	keys     map[string]keyEntry
	certs    map[domain.KeySystem][]byte
	changed  chan struct{}
}

var _ domain.Engine = (*Engine)(nil)

// NewEngine returns an engine using c for deadlines.
func NewEngine(c clock.Clock) *Engine {
	return &Engine{
		Clock:    c,
		sessions: make(map[string]*Session),
		keys:     make(map[string]keyEntry),
		certs:    make(map[domain.KeySystem][]byte),
		changed:  make(chan struct{}),
	}
}

func (e *Engine) CreateSession(req domain.SessionRequest, cb domain.EngineCallback) (domain.EngineSession, error) {
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	e.mu.Lock()
	e.next++
	s := &Session{
		engine:  e,
		id:      fmt.Sprintf("session-%d", e.next),
		buffer:  fmt.Sprintf("buffer-%d", e.next),
		Request: req,
		cb:      cb,
	}
	e.sessions[s.id] = s
	hook := e.OnCreate
	e.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

func (e *Engine) IsTypeSupported(ks domain.KeySystem, _ string) bool {
	return ks == KeySystem
}

func (e *Engine) SetServerCertificate(ks domain.KeySystem, cert []byte) error {
	if len(cert) == 0 {
		return ErrRejected
	}
	e.mu.Lock()
	e.certs[ks] = cert
	e.mu.Unlock()
	return nil
}

// Certificate returns the certificate installed for ks.
func (e *Engine) Certificate(ks domain.KeySystem) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.certs[ks]
}

// SetKey records that session owner holds keyID with status and wakes
// WaitForKey callers.
func (e *Engine) SetKey(keyID domain.KeyID, owner string, status domain.KeyStatus) {
	e.mu.Lock()
	e.keys[string(keyID)] = keyEntry{owner: owner, status: status}
	e.broadcast()
	e.mu.Unlock()
}

// KeysChanged returns a channel closed at the next key table change.
func (e *Engine) KeysChanged() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// broadcast must be called with mu held.
func (e *Engine) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) WaitForKey(keyID domain.KeyID, timeout time.Duration, status domain.KeyStatus) bool {
	c := e.Clock
	if c == nil {
		c = clock.Real{}
	}
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
			deadline = clock.Deadline(c, timeout)
			armed = true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

func (e *Engine) SessionForKey(keyID domain.KeyID) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.keys[string(keyID)]
	return k.owner, ok
}

// Session returns the engine session with the given id.
func (e *Engine) Session(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

// Session is one fake engine session. Hooks run synchronously inside the
// corresponding call; a nil hook accepts the call and does nothing.
type Session struct {
	engine *Engine
	id     string
	buffer string

	// Request is what the session was created with.
	Request domain.SessionRequest

	OnLoad    func(s *Session) error
	OnUpdate  func(s *Session, response []byte) error
	OnRemove  func(s *Session) error
	OnDecrypt func(s *Session, req domain.DecryptRequest) error

	mu     sync.Mutex
	cb     domain.EngineCallback
	calls  []string
	closed int
}

var _ domain.EngineSession = (*Session)(nil)

func (s *Session) ID() string       { return s.id }
func (s *Session) BufferID() string { return s.buffer }

func (s *Session) Load() error {
	s.record("load")
	if s.OnLoad != nil {
		return s.OnLoad(s)
	}
	return nil
}

func (s *Session) Update(response []byte) error {
	s.record("update")
	if s.OnUpdate != nil {
		return s.OnUpdate(s, response)
	}
	return nil
}

func (s *Session) Remove() error {
	s.record("remove")
	if s.OnRemove != nil {
		return s.OnRemove(s)
	}
	return nil
}

func (s *Session) Decrypt(req domain.DecryptRequest) error {
	s.record("decrypt")
	if s.OnDecrypt != nil {
		return s.OnDecrypt(s, req)
	}
	return nil
}

func (s *Session) Revoke() {
	s.mu.Lock()
	s.cb = nil
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()

	s.engine.mu.Lock()
	delete(s.engine.sessions, s.id)
	for kid, k := range s.engine.keys {
		if k.owner == s.id {
			delete(s.engine.keys, kid)
		}
	}
	s.engine.broadcast()
	s.engine.mu.Unlock()
	return nil
}

// Calls returns the engine calls made on the session, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Revoked reports whether the notification callback has been revoked.
func (s *Session) Revoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb == nil
}

// EmitMessage delivers a key-message notification.
func (s *Session) EmitMessage(challenge []byte, url string) {
	if cb := s.callback(); cb != nil {
		cb.OnKeyMessage(challenge, url)
	}
}

// EmitKeyReady delivers a key-ready notification.
func (s *Session) EmitKeyReady() {
	if cb := s.callback(); cb != nil {
		cb.OnKeyReady()
	}
}

// EmitError delivers a key-error notification.
func (s *Session) EmitError(code int16, systemCode uint32, text string) {
	if cb := s.callback(); cb != nil {
		cb.OnKeyError(code, systemCode, text)
	}
}

// EmitStatus delivers a key-status-update notification.
func (s *Session) EmitStatus(status domain.KeyStatus) {
	if cb := s.callback(); cb != nil {
		cb.OnKeyStatusUpdate(status)
	}
}

// MakeUsable records keyID as usable in this session and emits key-ready.
func (s *Session) MakeUsable(keyID domain.KeyID) {
	s.engine.SetKey(keyID, s.id, domain.Usable)
	s.EmitKeyReady()
}

func (s *Session) callback() domain.EngineCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

func (s *Session) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}
