package cdm

import (
	"errors"
	"fmt"
	"runtime"
	"time"
	"weak"

	"github.com/sirupsen/logrus"

	"opencdm/internal/clock"
	"opencdm/internal/domain"
)

// DefaultExchangeTimeout bounds Load, Update, Remove and RequestKeyMessage
// unless WithExchangeTimeout says otherwise.
const DefaultExchangeTimeout = 5 * time.Second

// Accessor creates sessions against an engine and keeps the registry of the
// open ones. Construct one per process and pass it to whatever needs
// sessions.
type Accessor struct {
	engine   domain.Engine
	registry *Registry
	clock    clock.Clock
	timeout  time.Duration
	log      logrus.FieldLogger
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithClock sets the time source for every wait.
func WithClock(c clock.Clock) Option {
	return func(a *Accessor) { a.clock = c }
}

// WithExchangeTimeout sets how long license-exchange calls wait for the
// engine. domain.Infinite waits without bound.
func WithExchangeTimeout(d time.Duration) Option {
	return func(a *Accessor) { a.timeout = d }
}

// WithLogger sets the logger sessions derive their fields from.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Accessor) { a.log = l }
}

// New returns an Accessor over engine.
func New(engine domain.Engine, opts ...Option) (*Accessor, error) {
	if engine == nil {
		return nil, domain.ErrInvalidAccessor
	}
	a := &Accessor{
		engine:  engine,
		clock:   clock.Real{},
		timeout: DefaultExchangeTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	a.registry = NewRegistry(engine, a.clock)
	return a, nil
}

// CreateSession opens a session for req. With cb nil the session records
// notifications in its own State and its license-exchange calls wait for
// outcomes; otherwise notifications go to cb and those calls return once the
// engine accepted them.
func (a *Accessor) CreateSession(req domain.SessionRequest, cb Callbacks) (*Session, error) {
	if a == nil {
		return nil, domain.ErrInvalidAccessor
	}
	if req.KeySystem == "" {
		return nil, domain.ErrInvalidKeySystem
	}
	if !a.engine.IsTypeSupported(req.KeySystem, "") {
		return nil, fmt.Errorf("create session for %s: %w", req.KeySystem, domain.ErrKeySystemNotSupported)
	}

	c := &core{
		keySystem:   req.KeySystem,
		licenseType: req.LicenseType,
		state:       NewState(a.clock),
		events:      newDispatcher(),
		registry:    a.registry,
		timeout:     a.timeout,
	}
	s := &Session{c: c}
	if cb != nil {
		c.notify = callbackNotifier{state: c.state, session: weak.Make(s), cb: cb}
	} else {
		c.notify = stateNotifier{state: c.state}
	}

	es, err := a.engine.CreateSession(req, engineSink{c: c})
	if err != nil {
		c.events.close()
		return nil, fmt.Errorf("create session for %s: %w: %w", req.KeySystem, domain.ErrInternal, err)
	}
	c.id = es.ID()
	c.bufferID = es.BufferID()
	c.engine = es
	c.log = a.log.WithFields(logrus.Fields{
		"session_id": c.id,
		"key_system": string(c.keySystem),
	})

	// Notifications the engine sent during creation are queued; they run
	// once the core is complete.
	c.events.start()
	a.registry.add(s)
	runtime.AddCleanup(s, func(c *core) {
		if c.handle() != nil {
			c.log.Debug("session dropped without Close")
			_ = c.close()
		}
	}, c)

	c.log.WithField("license_type", c.licenseType).Info("session created")
	return s, nil
}

// IsTypeSupported reports whether the engine handles keySystem and mimeType.
func (a *Accessor) IsTypeSupported(keySystem domain.KeySystem, mimeType string) bool {
	if a == nil {
		return false
	}
	return a.engine.IsTypeSupported(keySystem, mimeType)
}

// SetServerCertificate installs a server certificate for keySystem.
func (a *Accessor) SetServerCertificate(keySystem domain.KeySystem, cert []byte) error {
	if a == nil {
		return domain.ErrInvalidAccessor
	}
	if keySystem == "" {
		return domain.ErrInvalidKeySystem
	}
	if err := a.engine.SetServerCertificate(keySystem, cert); err != nil {
		return fmt.Errorf("set server certificate for %s: %w", keySystem, err)
	}
	return nil
}

// SessionByKey waits up to timeout for a session holding a usable keyID.
func (a *Accessor) SessionByKey(keyID domain.KeyID, timeout time.Duration) *Session {
	if a == nil {
		return nil
	}
	return a.registry.LookupByKey(keyID, timeout, domain.Usable)
}

// SessionByID returns the open session with the given identifier.
func (a *Accessor) SessionByID(id string) *Session {
	if a == nil {
		return nil
	}
	return a.registry.LookupByID(id)
}

// Decrypt decrypts req.Data in place with whichever session holds req.KeyID,
// waiting up to timeout for that key to become usable. It never creates a
// session.
func (a *Accessor) Decrypt(req domain.DecryptRequest, timeout time.Duration) error {
	if a == nil {
		return domain.ErrInvalidAccessor
	}
	if len(req.Data) == 0 {
		return domain.ErrInvalidDecryptBuffer
	}
	s := a.SessionByKey(req.KeyID, timeout)
	if s == nil {
		return fmt.Errorf("decrypt: no usable session for key %s: %w", req.KeyID, domain.ErrInvalidSession)
	}
	return s.c.decrypt(req)
}

// Registry returns the accessor's session registry.
func (a *Accessor) Registry() *Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// Close closes every open session.
func (a *Accessor) Close() error {
	if a == nil {
		return domain.ErrInvalidAccessor
	}
	var errs []error
	for _, s := range a.registry.Sessions() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
