package cdm

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"opencdm/internal/cdm/cdmtest"
	"opencdm/internal/domain"
)

func newTestAccessor(t *testing.T, opts ...Option) (*Accessor, *cdmtest.Engine) {
	t.Helper()
	eng := cdmtest.NewEngine(nil)
	log, _ := test.NewNullLogger()
	base := []Option{WithLogger(log), WithExchangeTimeout(2 * time.Second)}
	a, err := New(eng, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, eng
}

func openSession(t *testing.T, a *Accessor, eng *cdmtest.Engine, cb Callbacks) (*Session, *cdmtest.Session) {
	t.Helper()
	s, err := a.CreateSession(domain.SessionRequest{KeySystem: cdmtest.KeySystem}, cb)
	require.NoError(t, err)
	es := eng.Session(s.ID())
	require.NotNil(t, es)
	return s, es
}

func waitCall(t *testing.T, es *cdmtest.Session, call string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range es.Calls() {
			if c == call {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
