package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"opencdm/internal/domain"
)

// ErrTransition is returned for operations not allowed in the current state.
var ErrTransition = errors.New("stream: operation not allowed in this state")

// Callbacks receives stream notifications. Methods run on the goroutine of
// the call that caused them, without the stream's lock held.
type Callbacks interface {
	// DRM reports the key status after a license exchange.
	DRM(status domain.KeyStatus)
	StateChange(state State)
}

// Stream is one playable stream.
type Stream struct {
	license domain.LicenseService
	media   domain.MediaService
	log     logrus.FieldLogger

	mu        sync.Mutex
	state     State
	typ       Type
	drm       DRM
	metadata  string
	sessionID string
	samples   []domain.Sample
	played    int
	cb        Callbacks
}

// New returns an Idle stream.
func New(license domain.LicenseService, media domain.MediaService, log logrus.FieldLogger) *Stream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stream{license: license, media: media, log: log}
}

// SetCallbacks installs cb; nil removes it.
func (s *Stream) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) Type() Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typ
}

func (s *Stream) DRM() DRM {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drm
}

func (s *Stream) Metadata() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// Samples returns the stream's samples; after Play they are decrypted.
func (s *Stream) Samples() []domain.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Load parses configuration and, for a protected stream, acquires its
// license. It is allowed from Idle and Error.
func (s *Stream) Load(ctx context.Context, configuration string) error {
	if err := s.begin("load", Loading, Idle, Error); err != nil {
		return err
	}
	s.mu.Lock()
	stale := s.sessionID
	s.sessionID = ""
	s.mu.Unlock()
	if stale != "" {
		_ = s.license.Close(stale)
	}

	d, err := s.prepare(configuration)
	if err != nil {
		return s.fail(err)
	}
	if d.DRM == nil {
		s.transition(Prepared)
		return nil
	}

	req, err := d.DRM.acquireRequest()
	if err != nil {
		return s.fail(err)
	}
	res, err := s.license.Acquire(ctx, req)
	s.notifyDRM(res.Status, err)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.sessionID = res.SessionID
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"session_id": res.SessionID, "drm": s.DRM()}).Info("stream license acquired")
	s.transition(Prepared)
	return nil
}

func (s *Stream) prepare(configuration string) (Descriptor, error) {
	d, err := ParseDescriptor(configuration)
	if err != nil {
		return d, err
	}
	typ, err := ParseType(d.Type)
	if err != nil {
		return d, err
	}
	samples := make([]domain.Sample, 0, len(d.Samples))
	for i, sd := range d.Samples {
		smp, err := sd.sample()
		if err != nil {
			return d, fmt.Errorf("sample %d: %w", i, err)
		}
		samples = append(samples, smp)
	}

	s.mu.Lock()
	s.typ = typ
	s.metadata = d.Metadata
	s.samples = samples
	s.played = 0
	s.drm = None
	if d.DRM != nil {
		s.drm = DRMFor(domain.KeySystem(d.DRM.KeySystem))
	}
	s.mu.Unlock()
	return d, nil
}

// Play starts or resumes playback, decrypting the samples not yet played.
func (s *Stream) Play(ctx context.Context) error {
	if err := s.begin("play", Playing, Prepared, Paused); err != nil {
		return err
	}
	s.mu.Lock()
	pending := s.samples[s.played:]
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	n, err := s.media.DecryptSamples(ctx, pending)
	s.mu.Lock()
	s.played += n
	s.mu.Unlock()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// Pause stops playback.
func (s *Stream) Pause() error {
	return s.begin("pause", Paused, Playing)
}

// Close releases the stream's session and returns it to Idle.
func (s *Stream) Close() error {
	s.mu.Lock()
	id := s.sessionID
	s.sessionID = ""
	s.samples = nil
	s.played = 0
	s.mu.Unlock()

	var err error
	if id != "" {
		err = s.license.Close(id)
	}
	s.transition(Idle)
	return err
}

// begin moves to state to when the current state is one of from. The check
// and the move happen under one lock hold, so of two concurrent calls only
// one proceeds.
func (s *Stream) begin(op string, to State, from ...State) error {
	s.mu.Lock()
	cur := s.state
	if !slices.Contains(from, cur) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrTransition, op, cur)
	}
	s.state = to
	cb := s.cb
	s.mu.Unlock()
	s.announce(cur, to, cb)
	return nil
}

func (s *Stream) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	cb := s.cb
	s.mu.Unlock()
	s.announce(from, to, cb)
}

func (s *Stream) announce(from, to State, cb Callbacks) {
	if from == to {
		return
	}
	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("stream state")
	if cb != nil {
		cb.StateChange(to)
	}
}

func (s *Stream) notifyDRM(status domain.KeyStatus, err error) {
	if err != nil {
		status = domain.InternalError
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb.DRM(status)
	}
}

func (s *Stream) fail(err error) error {
	s.log.WithError(err).Warn("stream failed")
	s.transition(Error)
	return err
}
