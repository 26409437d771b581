package media

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"opencdm/internal/cdm"
	"opencdm/internal/crypto"
	"opencdm/internal/domain"
)

// Service decrypts samples through the accessor.
type Service struct {
	accessor *cdm.Accessor
	keyWait  time.Duration
	log      logrus.FieldLogger
}

var _ domain.MediaService = (*Service)(nil)

// New constructs a media Service. keyWait bounds how long each sample waits
// for its key; domain.Infinite waits without bound.
func New(accessor *cdm.Accessor, keyWait time.Duration, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{accessor: accessor, keyWait: keyWait, log: log}
}

// DecryptSamples decrypts samples in order, in place. It stops at the first
// failure and returns how many samples were decrypted.
func (s *Service) DecryptSamples(ctx context.Context, samples []domain.Sample) (int, error) {
	for i, smp := range samples {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		err := s.accessor.Decrypt(domain.DecryptRequest{Data: smp.Data, IV: smp.IV, KeyID: smp.KeyID}, s.keyWait)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"sample": i,
				"key":    crypto.Fingerprint(smp.KeyID),
			}).WithError(err).Warn("sample decryption failed")
			return i, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	s.log.WithField("samples", len(samples)).Debug("samples decrypted")
	return len(samples), nil
}
