package cdm

import (
	"bytes"
	"weak"

	"opencdm/internal/domain"
)

// Callbacks receives a session's notifications instead of its State. The
// methods run on the session's dispatcher goroutine, one at a time.
type Callbacks interface {
	// ProcessChallenge is called when the engine produced a challenge for
	// the license server.
	ProcessChallenge(s *Session, url string, challenge []byte)
	// KeyUpdate is called when the key status changed; query Status.
	KeyUpdate(s *Session, keyID domain.KeyID)
	// Message carries the text of an engine error.
	Message(s *Session, text string)
}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields are skipped.
type CallbackFuncs struct {
	OnChallenge func(s *Session, url string, challenge []byte)
	OnKeyUpdate func(s *Session, keyID domain.KeyID)
	OnMessage   func(s *Session, text string)
}

func (f CallbackFuncs) ProcessChallenge(s *Session, url string, challenge []byte) {
	if f.OnChallenge != nil {
		f.OnChallenge(s, url, challenge)
	}
}

func (f CallbackFuncs) KeyUpdate(s *Session, keyID domain.KeyID) {
	if f.OnKeyUpdate != nil {
		f.OnKeyUpdate(s, keyID)
	}
}

func (f CallbackFuncs) Message(s *Session, text string) {
	if f.OnMessage != nil {
		f.OnMessage(s, text)
	}
}

// notifier is the variant part of notification handling, fixed at session
// creation. Both variants keep the key status current; only stateNotifier
// sets milestones.
type notifier interface {
	challenge(url string, challenge []byte)
	keyUpdate(status domain.KeyStatus)
	failure(text string)
	// waits reports whether license-exchange calls block for the outcome.
	waits() bool
}

// stateNotifier records milestones in the session's State.
type stateNotifier struct{ state *State }

func (n stateNotifier) challenge(string, []byte) {
	n.state.Set(MessagePending | UpdateComplete)
}

func (n stateNotifier) keyUpdate(status domain.KeyStatus) {
	n.state.update(status, KeyReady|UpdateComplete)
}

func (n stateNotifier) failure(string) {
	n.state.update(domain.InternalError, ErrorRaised|UpdateComplete)
}

func (n stateNotifier) waits() bool { return true }

// callbackNotifier forwards to caller Callbacks. It holds the session weakly
// so the engine's reference to the sink does not keep the session alive.
type callbackNotifier struct {
	state   *State
	session weak.Pointer[Session]
	cb      Callbacks
}

func (n callbackNotifier) challenge(url string, challenge []byte) {
	if s := n.session.Value(); s != nil {
		n.cb.ProcessChallenge(s, url, challenge)
	}
}

func (n callbackNotifier) keyUpdate(status domain.KeyStatus) {
	n.state.setKeyStatus(status)
	if s := n.session.Value(); s != nil {
		n.cb.KeyUpdate(s, nil)
	}
}

func (n callbackNotifier) failure(text string) {
	n.state.setKeyStatus(domain.InternalError)
	if s := n.session.Value(); s != nil {
		n.cb.KeyUpdate(s, nil)
		n.cb.Message(s, text)
	}
}

func (n callbackNotifier) waits() bool { return false }

// engineSink is the domain.EngineCallback registered with the engine. It
// copies the payload and queues the work; it never blocks the engine.
type engineSink struct{ c *core }

var _ domain.EngineCallback = engineSink{}

func (k engineSink) OnKeyMessage(challenge []byte, url string) {
	msg := bytes.Clone(challenge)
	k.c.events.post(func() {
		k.c.recordMessage(msg, url)
		k.c.notify.challenge(url, msg)
	})
}

func (k engineSink) OnKeyReady() {
	k.c.events.post(func() {
		k.c.log.Debug("key ready")
		k.c.notify.keyUpdate(domain.Usable)
	})
}

func (k engineSink) OnKeyError(code int16, systemCode uint32, text string) {
	k.c.events.post(func() {
		k.c.recordError(code, systemCode, text)
		k.c.notify.failure(text)
	})
}

func (k engineSink) OnKeyStatusUpdate(status domain.KeyStatus) {
	status = publicStatus(status)
	k.c.events.post(func() {
		k.c.log.WithField("status", status).Debug("key status update")
		k.c.notify.keyUpdate(status)
	})
}

// publicStatus maps an engine-reported status onto the public taxonomy.
func publicStatus(s domain.KeyStatus) domain.KeyStatus {
	if !s.Known() {
		return domain.InternalError
	}
	return s
}
