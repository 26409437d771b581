package cdm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/clock"
	"opencdm/internal/domain"
)

func TestState_New_PendingNoFlags(t *testing.T) {
	s := NewState(nil)
	assert.Equal(t, Flags(0), s.Flags())
	assert.Equal(t, domain.StatusPending, s.KeyStatus())
}

func TestState_WaitAny_AlreadySet_DoesNotSuspend(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := NewState(fc)
	s.Set(KeyReady)

	got, err := s.WaitAny(KeyReady|ErrorRaised, time.Hour)
	require.NoError(t, err)
	assert.True(t, got.Has(KeyReady))
	assert.Zero(t, fc.Waiters(), "no timer should be armed")
}

func TestState_WaitAny_ZeroTimeout_ChecksOnce(t *testing.T) {
	s := NewState(clock.NewFake(time.Unix(0, 0)))
	_, err := s.WaitAny(KeyReady, 0)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestState_WaitAny_TimesOutOnFakeClock(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := NewState(fc)
	s.Set(MessagePending)

	done := make(chan error, 1)
	go func() {
		_, err := s.WaitAny(KeyReady, 5*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool { return fc.Waiters() == 1 }, time.Second, time.Millisecond)
	fc.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("returned before the deadline")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(time.Second)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("did not time out")
	}
}

func TestState_WaitAny_RealClockReturnsNearTimeout(t *testing.T) {
	s := NewState(clock.Real{})
	start := time.Now()
	_, err := s.WaitAny(KeyReady, 30*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestState_WaitAny_InfiniteWokenBySet(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	s := NewState(fc)

	done := make(chan Flags, 1)
	go func() {
		f, err := s.WaitAny(UpdateComplete, domain.Infinite)
		assert.NoError(t, err)
		done <- f
	}()

	// Unrelated bits do not wake the waiter for good.
	s.Set(MessagePending)
	s.Set(UpdateComplete)

	select {
	case f := <-done:
		assert.True(t, f.Has(UpdateComplete))
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
	assert.Zero(t, fc.Waiters(), "infinite wait must not arm a timer")
}

func TestState_ClearThenWait_SeesLaterSet(t *testing.T) {
	s := NewState(nil)
	s.Set(UpdateComplete)
	s.Clear(UpdateComplete)

	go s.Set(UpdateComplete)

	f, err := s.WaitAny(UpdateComplete, time.Second)
	require.NoError(t, err)
	assert.True(t, f.Has(UpdateComplete))
}

func TestState_Closed_WakesEveryWait(t *testing.T) {
	s := NewState(nil)

	done := make(chan Flags, 2)
	for range 2 {
		go func() {
			f, _ := s.WaitAny(KeyReady, domain.Infinite)
			done <- f
		}()
	}
	s.Set(closedFlag)

	for range 2 {
		select {
		case f := <-done:
			assert.True(t, f.Closed())
		case <-time.After(time.Second):
			t.Fatal("close did not wake the waiter")
		}
	}
}

func TestState_Update_SetsStatusWithFlags(t *testing.T) {
	s := NewState(nil)
	s.update(domain.Usable, KeyReady|UpdateComplete)

	f, err := s.WaitAny(KeyReady, 0)
	require.NoError(t, err)
	assert.True(t, f.Has(UpdateComplete))
	assert.Equal(t, domain.Usable, s.KeyStatus())
}
