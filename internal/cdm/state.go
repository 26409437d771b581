package cdm

import (
	"sync"
	"time"

	"opencdm/internal/clock"
	"opencdm/internal/domain"
)

// Flags is the set of license-exchange milestones a session has observed.
type Flags uint32

const (
	MessagePending Flags = 1 << iota
	KeyReady
	ErrorRaised
	UpdateComplete

	// closedFlag is terminal. Every wait includes it.
	closedFlag
)

// Closed reports whether the flags were observed after the session closed.
func (f Flags) Closed() bool { return f&closedFlag != 0 }

// Has reports whether any bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask != 0 }

// State is the milestone set and key status of one session. Mutations and
// the wake-up of waiters happen under the same lock, so a flag set between a
// caller's Clear and WaitAny is always observed.
type State struct {
	clock clock.Clock

	mu      sync.Mutex
	flags   Flags
	key     domain.KeyStatus
	changed chan struct{}
}

// NewState returns a State with no flags set and a pending key.
func NewState(c clock.Clock) *State {
	if c == nil {
		c = clock.Real{}
	}
	return &State{
		clock:   c,
		key:     domain.StatusPending,
		changed: make(chan struct{}),
	}
}

// Set adds f to the flags and wakes every waiter.
func (s *State) Set(f Flags) {
	s.mu.Lock()
	s.flags |= f
	s.broadcast()
	s.mu.Unlock()
}

// Clear removes f from the flags.
func (s *State) Clear(f Flags) {
	s.mu.Lock()
	s.flags &^= f
	s.mu.Unlock()
}

// Flags returns the current flags.
func (s *State) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// KeyStatus returns the last key status recorded.
func (s *State) KeyStatus() domain.KeyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// update records status and sets f in one step, so a woken waiter reads the
// status that belongs to the flags it saw.
func (s *State) update(status domain.KeyStatus, f Flags) {
	s.mu.Lock()
	s.key = status
	s.flags |= f
	s.broadcast()
	s.mu.Unlock()
}

func (s *State) setKeyStatus(status domain.KeyStatus) {
	s.mu.Lock()
	s.key = status
	s.mu.Unlock()
}

// broadcast must be called with mu held.
func (s *State) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// WaitAny blocks until at least one bit of mask is set, the state is closed,
// or timeout elapses. It returns the flags observed at wake-up; on timeout
// the error is domain.ErrTimeout. A zero timeout checks once and a negative
// timeout (domain.Infinite) waits without a deadline.
func (s *State) WaitAny(mask Flags, timeout time.Duration) (Flags, error) {
	mask |= closedFlag

	var deadline <-chan time.Time
	armed := false
	for {
		s.mu.Lock()
		flags, changed := s.flags, s.changed
		s.mu.Unlock()

		if flags.Has(mask) {
			return flags, nil
		}
		if !armed {
			deadline = clock.Deadline(s.clock, timeout)
			armed = true
		}

		select {
		case <-changed:
		case <-deadline:
			if flags = s.Flags(); flags.Has(mask) {
				return flags, nil
			}
			return flags, domain.ErrTimeout
		}
	}
}
