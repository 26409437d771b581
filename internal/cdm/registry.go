package cdm

import (
	"sort"
	"sync"
	"time"
	"weak"

	"opencdm/internal/clock"
	"opencdm/internal/domain"
)

// KeyIndex is the part of the engine the registry resolves keys through.
type KeyIndex interface {
	WaitForKey(keyID domain.KeyID, timeout time.Duration, status domain.KeyStatus) bool
	SessionForKey(keyID domain.KeyID) (string, bool)
	KeysChanged() <-chan struct{}
}

// Registry is the collection of live sessions. It holds them weakly: a
// session stays alive only while a caller references it.
type Registry struct {
	keys  KeyIndex
	clock clock.Clock

	mu      sync.Mutex
	byID    map[string]weak.Pointer[Session]
	changed chan struct{}
}

// NewRegistry returns an empty registry resolving keys through keys.
func NewRegistry(keys KeyIndex, c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{
		keys:    keys,
		clock:   c,
		byID:    make(map[string]weak.Pointer[Session]),
		changed: make(chan struct{}),
	}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.byID[s.c.id] = weak.Make(s)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// LookupByID returns the open session with the given identifier.
func (r *Registry) LookupByID(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id)
}

func (r *Registry) lookupLocked(id string) *Session {
	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	s := p.Value()
	if s == nil || !s.IsValid() {
		return nil
	}
	return s
}

// LookupByKey waits until keyID reaches status in a registered session, then
// returns that session. It returns nil if that does not happen within
// timeout. It wakes on both the engine's key table and registrations, so a
// key that becomes ready before its session is registered is still found,
// and so is a key that moves to another session after the first owner went
// away.
func (r *Registry) LookupByKey(keyID domain.KeyID, timeout time.Duration, status domain.KeyStatus) *Session {
	if r == nil || r.keys == nil || len(keyID) == 0 {
		return nil
	}
	var deadline <-chan time.Time
	armed := false
	for {
		// Both signals are taken before the check so no change is missed.
		r.mu.Lock()
		registered := r.changed
		r.mu.Unlock()
		keysChanged := r.keys.KeysChanged()

		if s := r.resolve(keyID, status); s != nil {
			return s
		}
		if !armed {
			deadline = clock.Deadline(r.clock, timeout)
			armed = true
		}
		select {
		case <-registered:
		case <-keysChanged:
		case <-deadline:
			return r.resolve(keyID, status)
		}
	}
}

// resolve returns the registered session holding keyID with status, or nil.
func (r *Registry) resolve(keyID domain.KeyID, status domain.KeyStatus) *Session {
	if !r.keys.WaitForKey(keyID, 0, status) {
		return nil
	}
	id, ok := r.keys.SessionForKey(keyID)
	if !ok {
		return nil
	}
	return r.LookupByID(id)
}

// holdsUsable reports whether session id holds keyID and the key is usable
// right now.
func (r *Registry) holdsUsable(id string, keyID domain.KeyID) bool {
	if r == nil || r.keys == nil {
		return false
	}
	owner, ok := r.keys.SessionForKey(keyID)
	return ok && owner == id && r.keys.WaitForKey(keyID, 0, domain.Usable)
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return len(r.Sessions())
}

// Sessions returns the open sessions ordered by identifier.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.byID))
	for id := range r.byID {
		if s := r.lookupLocked(id); s != nil {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].c.id < out[j].c.id })
	return out
}
