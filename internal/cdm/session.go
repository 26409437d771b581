package cdm

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"opencdm/internal/crypto"
	"opencdm/internal/domain"
)

// messagePrefix marks a response that carries a challenge to send to the
// license server rather than a final outcome.
const messagePrefix = "message:"

// Session is one decryption context bound to a key system. The zero of
// *Session (nil) is an invalid session: identifier queries return "" and
// every operation fails with domain.ErrInvalidSession.
type Session struct {
	c *core
}

// core holds everything the notification path touches. It never refers
// back to the Session handle.
type core struct {
	id          string
	bufferID    string
	keySystem   domain.KeySystem
	licenseType domain.LicenseType

	state    *State
	events   *dispatcher
	notify   notifier
	registry *Registry
	timeout  time.Duration
	log      logrus.FieldLogger

	// busy admits one license exchange at a time.
	busy atomic.Bool

	mu          sync.RWMutex
	engine      domain.EngineSession
	message     []byte
	url         string
	lastError   string
	errorCode   uint32
	systemError uint32
}

// ID returns the engine-assigned session identifier.
func (s *Session) ID() string {
	if s == nil || s.c == nil {
		return ""
	}
	return s.c.id
}

// BufferID returns the identifier of the session's decryption buffer.
func (s *Session) BufferID() string {
	if s == nil || s.c == nil {
		return ""
	}
	return s.c.bufferID
}

// KeySystem returns the key system the session is bound to.
func (s *Session) KeySystem() domain.KeySystem {
	if s == nil || s.c == nil {
		return ""
	}
	return s.c.keySystem
}

// LicenseType returns the license semantics the session was created with.
func (s *Session) LicenseType() domain.LicenseType {
	if s == nil || s.c == nil {
		return domain.Temporary
	}
	return s.c.licenseType
}

// IsValid reports whether the session still holds its engine handle.
func (s *Session) IsValid() bool {
	return s != nil && s.c != nil && s.c.handle() != nil
}

// Flags returns the milestones observed so far.
func (s *Session) Flags() Flags {
	if s == nil || s.c == nil {
		return closedFlag
	}
	return s.c.state.Flags()
}

// RequestKeyMessage waits until a challenge is ready or the key is already
// usable. A usable key with no challenge yields an empty challenge: there
// is nothing to send. If no challenge ever arrives before the session
// timeout, the outputs are empty and no error is reported.
func (s *Session) RequestKeyMessage() (challenge []byte, url string, err error) {
	c, err := s.open()
	if err != nil {
		return nil, "", err
	}
	if !c.notify.waits() {
		return nil, "", fmt.Errorf("request key message: %w: session uses callbacks", domain.ErrInvalidSessionOperation)
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, "", domain.ErrSessionBusy
	}
	defer c.busy.Store(false)

	flags, err := c.state.WaitAny(MessagePending|KeyReady|ErrorRaised, c.timeout)
	switch {
	case err != nil:
		c.log.Debug("no key message before timeout")
		return nil, "", nil
	case flags.Closed():
		return nil, "", domain.ErrInvalidSession
	case flags.Has(MessagePending):
		msg, u := c.lastMessage()
		return msg, u, nil
	default:
		return nil, "", nil
	}
}

// Load asks the engine to restore persisted session state and waits for the
// outcome. It succeeds when the key becomes usable, or when the engine
// produced a new challenge; in the latter case the response is
// "message:" followed by the challenge, which the caller must send.
func (s *Session) Load() (string, error) {
	c, err := s.open()
	if err != nil {
		return "", err
	}
	flags, err := c.exchange("load", domain.EngineSession.Load, UpdateComplete)
	if err != nil || !c.notify.waits() {
		return "", err
	}
	if c.state.KeyStatus() == domain.Usable {
		return "", nil
	}
	if flags.Has(MessagePending) {
		return c.messageResponse(), nil
	}
	return "", fmt.Errorf("load: %w: key is %s", domain.ErrInvalidSessionOperation, c.state.KeyStatus())
}

// Update feeds a license-server response to the engine and waits for the
// outcome. It returns the resulting key status and, if the engine answered
// with a fresh challenge instead of settling the key, a response of
// "message:" followed by that challenge.
func (s *Session) Update(response []byte) (domain.KeyStatus, string, error) {
	c, err := s.open()
	if err != nil {
		return domain.InternalError, "", err
	}
	update := func(e domain.EngineSession) error { return e.Update(response) }
	flags, err := c.exchange("update", update, UpdateComplete|MessagePending)
	if err != nil {
		return c.state.KeyStatus(), "", err
	}
	var out string
	if flags.Has(MessagePending) {
		out = c.messageResponse()
	}
	return c.state.KeyStatus(), out, nil
}

// Remove asks the engine to revoke the session's license and waits for the
// outcome. It succeeds when the key reverts to pending, or when the engine
// produced a release message to send ("message:" response).
func (s *Session) Remove() (string, error) {
	c, err := s.open()
	if err != nil {
		return "", err
	}
	flags, err := c.exchange("remove", domain.EngineSession.Remove, UpdateComplete)
	if err != nil || !c.notify.waits() {
		return "", err
	}
	if flags.Has(MessagePending) {
		return c.messageResponse(), nil
	}
	if c.state.KeyStatus() == domain.StatusPending {
		return "", nil
	}
	return "", fmt.Errorf("remove: %w: key is %s", domain.ErrInvalidSessionOperation, c.state.KeyStatus())
}

// Status returns the last known status of the session's key. It never
// blocks. An invalid session reports InternalError.
func (s *Session) Status(domain.KeyID) domain.KeyStatus {
	if s == nil || s.c == nil {
		return domain.InternalError
	}
	return s.c.state.KeyStatus()
}

// Error returns the last engine error code reported for the key, zero if
// none.
func (s *Session) Error(domain.KeyID) uint32 {
	if s == nil || s.c == nil {
		return math.MaxUint32
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.errorCode
}

// SystemError returns the last transport or engine level error code,
// independent of any key.
func (s *Session) SystemError() uint32 {
	if s == nil || s.c == nil {
		return uint32(domain.CodeInvalidSession)
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.systemError
}

// LastError returns the text of the last engine error.
func (s *Session) LastError() string {
	if s == nil || s.c == nil {
		return ""
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.lastError
}

// Close releases the engine handle. It is safe to call more than once;
// callers blocked in a license exchange on this session return
// domain.ErrInvalidSession.
func (s *Session) Close() error {
	if s == nil || s.c == nil {
		return domain.ErrInvalidSession
	}
	return s.c.close()
}

// Decrypt decrypts req.Data in place. Unless req.KeyID is empty or names a
// usable key of this session, it waits up to timeout for a session holding
// that key to become usable, which may be this one, and decrypts there.
func (s *Session) Decrypt(req domain.DecryptRequest, timeout time.Duration) error {
	c, err := s.open()
	if err != nil {
		return err
	}
	if len(req.Data) == 0 {
		return domain.ErrInvalidDecryptBuffer
	}
	if len(req.KeyID) == 0 || c.registry.holdsUsable(c.id, req.KeyID) {
		return c.decrypt(req)
	}
	owner := c.registry.LookupByKey(req.KeyID, timeout, domain.Usable)
	if owner == nil {
		return fmt.Errorf("decrypt: no usable session for key %s: %w", crypto.Fingerprint(req.KeyID), domain.ErrInvalidSession)
	}
	return owner.c.decrypt(req)
}

func (s *Session) open() (*core, error) {
	if s == nil || s.c == nil || s.c.handle() == nil {
		return nil, domain.ErrInvalidSession
	}
	return s.c, nil
}

func (c *core) handle() domain.EngineSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

// exchange runs one license-exchange step: drain notifications already
// delivered, clear the milestones of earlier calls, call the engine, then
// wait for any bit of mask. Sessions with callbacks skip the wait.
func (c *core) exchange(op string, call func(domain.EngineSession) error, mask Flags) (Flags, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return 0, domain.ErrSessionBusy
	}
	defer c.busy.Store(false)

	engine := c.handle()
	if engine == nil {
		return 0, domain.ErrInvalidSession
	}

	if c.notify.waits() {
		c.events.barrier()
		c.state.Clear(UpdateComplete | MessagePending)
	}

	if err := call(engine); err != nil {
		c.log.WithError(err).Warnf("%s rejected by engine", op)
		return 0, fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidSessionOperation, err)
	}
	if !c.notify.waits() {
		return 0, nil
	}

	flags, err := c.state.WaitAny(mask, c.timeout)
	if err != nil {
		return flags, fmt.Errorf("%s: %w", op, err)
	}
	if flags.Closed() {
		return flags, fmt.Errorf("%s: %w", op, domain.ErrInvalidSession)
	}
	return flags, nil
}

func (c *core) decrypt(req domain.DecryptRequest) error {
	engine := c.handle()
	if engine == nil {
		return domain.ErrInvalidSession
	}
	if err := engine.Decrypt(req); err != nil {
		if domain.Code(err) == domain.CodeUnknown {
			err = fmt.Errorf("%w: %w", domain.ErrInternal, err)
		}
		return fmt.Errorf("decrypt: %w", err)
	}
	return nil
}

func (c *core) recordMessage(msg []byte, url string) {
	c.mu.Lock()
	c.message = msg
	c.url = url
	c.mu.Unlock()
	c.log.WithField("url", url).Debugf("key message received (%d bytes)", len(msg))
}

func (c *core) recordError(code int16, systemCode uint32, text string) {
	c.mu.Lock()
	c.errorCode = uint32(code)
	c.systemError = systemCode
	c.lastError = text
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{
		"code":        code,
		"system_code": systemCode,
	}).Warnf("engine error: %s", text)
}

func (c *core) lastMessage() ([]byte, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.message, c.url
}

func (c *core) messageResponse() string {
	msg, _ := c.lastMessage()
	return messagePrefix + string(msg)
}

// close releases the engine handle exactly once. The notification callback
// is revoked first so no notification reaches a released session.
func (c *core) close() error {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()
	if engine == nil {
		return nil
	}

	engine.Revoke()
	c.events.close()
	c.state.Set(closedFlag)
	c.registry.remove(c.id)

	if err := engine.Close(); err != nil {
		c.log.WithError(err).Warn("engine close failed")
		return fmt.Errorf("close session %s: %w", c.id, err)
	}
	c.log.Debug("session closed")
	return nil
}

// ChallengeFromResponse strips the "message:" prefix of a Load, Update or
// Remove response. ok is false when the response carries no challenge.
func ChallengeFromResponse(response string) (challenge []byte, ok bool) {
	if len(response) < len(messagePrefix) || response[:len(messagePrefix)] != messagePrefix {
		return nil, false
	}
	return []byte(response[len(messagePrefix):]), true
}
