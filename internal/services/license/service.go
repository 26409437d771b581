package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"opencdm/internal/cdm"
	"opencdm/internal/domain"
)

// DefaultMaxRounds bounds the challenges sent in one exchange.
const DefaultMaxRounds = 4

var (
	// ErrNoChallenge is returned when the engine produced nothing to send and
	// the key is not usable.
	ErrNoChallenge = errors.New("engine produced no license challenge")
	// ErrTooManyRounds is returned when the engine keeps producing challenges.
	ErrTooManyRounds = errors.New("license exchange did not converge")
	// ErrNotUsable is returned when the exchange settled on a key that
	// cannot decrypt.
	ErrNotUsable = errors.New("key not usable after license exchange")
)

// Config tunes the exchange.
type Config struct {
	// MaxRounds bounds the challenges per exchange; zero means
	// DefaultMaxRounds.
	MaxRounds int
	// RequestTimeout bounds each license-server round trip; zero means no
	// bound beyond the caller's context.
	RequestTimeout time.Duration
}

// Service performs license exchanges.
//
// This service handles:
//   - Creating the session for the requested key system and init data.
//   - Posting each challenge to the license server and updating the session
//     with the answer.
//   - Restoring persistent licenses with Load, and releasing them with
//     Remove and a release round trip.
//
// The registry holds sessions weakly, so the service keeps every session it
// hands out until Close.
type Service struct {
	accessor *cdm.Accessor
	client   domain.LicenseClient
	cfg      Config
	log      logrus.FieldLogger

	mu   sync.Mutex
	open map[string]*cdm.Session
}

var _ domain.LicenseService = (*Service)(nil)

// New constructs a license Service.
func New(accessor *cdm.Accessor, client domain.LicenseClient, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		accessor: accessor,
		client:   client,
		cfg:      cfg,
		log:      log,
		open:     make(map[string]*cdm.Session),
	}
}

// Acquire obtains a license for req and returns the open session holding
// it.
//
// Steps:
//  1. Create a waiting session; the engine derives the challenge from the
//     init data.
//  2. Wait for the challenge. A key that is already usable needs none.
//  3. Exchange challenges with the license server until the key is usable.
func (s *Service) Acquire(ctx context.Context, req domain.AcquireRequest) (domain.LicenseResult, error) {
	sr := domain.SessionRequest{
		KeySystem:    req.KeySystem,
		LicenseType:  req.LicenseType,
		InitDataType: req.InitDataType,
		InitData:     req.InitData,
	}
	if req.LicenseType == domain.PersistentLicense {
		sr.CustomData = []byte(req.Name)
	}
	sess, err := s.accessor.CreateSession(sr, nil)
	if err != nil {
		return domain.LicenseResult{}, err
	}
	log := s.log.WithField("session_id", sess.ID())

	challenge, url, err := sess.RequestKeyMessage()
	if err != nil {
		return domain.LicenseResult{}, closeOnError(sess, err)
	}
	res := domain.LicenseResult{SessionID: sess.ID(), Name: req.Name}
	if len(challenge) == 0 {
		if sess.Status(nil) != domain.Usable {
			return res, closeOnError(sess, ErrNoChallenge)
		}
		res.Status = domain.Usable
		s.keep(sess)
		return res, nil
	}

	res.Rounds, err = s.exchange(ctx, sess, url, challenge)
	if err != nil {
		return res, closeOnError(sess, err)
	}
	res.Status = sess.Status(nil)
	s.keep(sess)
	log.WithField("rounds", res.Rounds).Info("license acquired")
	return res, nil
}

// Restore loads the persistent license name into a new session, running a
// license exchange if the engine asks for one.
func (s *Service) Restore(ctx context.Context, ks domain.KeySystem, name string) (domain.LicenseResult, error) {
	sess, err := s.persistent(ks, name)
	if err != nil {
		return domain.LicenseResult{}, err
	}
	res := domain.LicenseResult{SessionID: sess.ID(), Name: name}

	resp, err := sess.Load()
	if err != nil {
		return res, closeOnError(sess, fmt.Errorf("restore %s: %w", name, err))
	}
	if challenge, ok := cdm.ChallengeFromResponse(resp); ok {
		if res.Rounds, err = s.exchange(ctx, sess, "", challenge); err != nil {
			return res, closeOnError(sess, err)
		}
	}
	res.Status = sess.Status(nil)
	if res.Status != domain.Usable {
		return res, closeOnError(sess, ErrNotUsable)
	}
	s.keep(sess)
	s.log.WithFields(logrus.Fields{"session_id": sess.ID(), "name": name}).Info("license restored")
	return res, nil
}

// Release removes the persistent license name: its stored copy is deleted
// and, when the engine asks for it, the license server is told. The session
// used is closed.
func (s *Service) Release(ctx context.Context, ks domain.KeySystem, name string) error {
	sess, err := s.persistent(ks, name)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if _, err := sess.Load(); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	resp, err := sess.Remove()
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	msg, ok := cdm.ChallengeFromResponse(resp)
	if !ok {
		return nil
	}
	ack, err := s.post(ctx, "", msg)
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	status, _, err := sess.Update(ack)
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"name": name, "status": status}).Info("license released")
	return nil
}

// Close closes the session with the given id.
func (s *Service) Close(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.open[sessionID]
	delete(s.open, sessionID)
	s.mu.Unlock()
	if !ok {
		sess = s.accessor.SessionByID(sessionID)
	}
	if sess == nil {
		return domain.ErrInvalidSession
	}
	return sess.Close()
}

func (s *Service) keep(sess *cdm.Session) {
	s.mu.Lock()
	s.open[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Service) persistent(ks domain.KeySystem, name string) (*cdm.Session, error) {
	if name == "" {
		return nil, errors.New("persistent license name is empty")
	}
	return s.accessor.CreateSession(domain.SessionRequest{
		KeySystem:   ks,
		LicenseType: domain.PersistentLicense,
		CustomData:  []byte(name),
	}, nil)
}

// exchange sends challenge and every follow-up challenge until the session
// settles. It returns the number of rounds.
func (s *Service) exchange(ctx context.Context, sess *cdm.Session, url string, challenge []byte) (int, error) {
	for round := 1; ; round++ {
		if round > s.cfg.MaxRounds {
			return round - 1, ErrTooManyRounds
		}
		resp, err := s.post(ctx, url, challenge)
		if err != nil {
			return round, err
		}
		status, out, err := sess.Update(resp)
		if err != nil {
			return round, err
		}
		if next, ok := cdm.ChallengeFromResponse(out); ok {
			s.log.WithField("round", round).Debug("engine asked for another round")
			challenge = next
			continue
		}
		if status != domain.Usable {
			return round, fmt.Errorf("%w: %s (%s)", ErrNotUsable, status, sess.LastError())
		}
		return round, nil
	}
}

func (s *Service) post(ctx context.Context, url string, challenge []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	resp, err := s.client.Acquire(ctx, url, challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInternal, err)
	}
	return resp, nil
}

func closeOnError(sess *cdm.Session, err error) error {
	if cerr := sess.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}
