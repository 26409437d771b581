package cdm

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/cdm/cdmtest"
	"opencdm/internal/domain"
)

func TestRegistry_LookupByID(t *testing.T) {
	a, eng := newTestAccessor(t)
	s, _ := openSession(t, a, eng, nil)

	assert.Same(t, s, a.Registry().LookupByID(s.ID()))
	assert.Nil(t, a.Registry().LookupByID("missing"))
	assert.Equal(t, 1, a.Registry().Len())

	require.NoError(t, s.Close())
	assert.Nil(t, a.Registry().LookupByID(s.ID()))
	assert.Zero(t, a.Registry().Len())
}

func TestRegistry_Sessions_Ordered(t *testing.T) {
	a, eng := newTestAccessor(t)
	s1, _ := openSession(t, a, eng, nil)
	s2, _ := openSession(t, a, eng, nil)

	got := a.Registry().Sessions()
	require.Len(t, got, 2)
	assert.Equal(t, []string{s1.ID(), s2.ID()}, []string{got[0].ID(), got[1].ID()})
}

func TestRegistry_LookupByKey_SessionCreatedAfterWaitStarts(t *testing.T) {
	a, eng := newTestAccessor(t)
	kid := domain.KeyID("late-key")

	found := make(chan *Session, 1)
	go func() { found <- a.Registry().LookupByKey(kid, 2*time.Second, domain.Usable) }()

	s, es := openSession(t, a, eng, nil)
	es.MakeUsable(kid)

	select {
	case got := <-found:
		assert.Same(t, s, got)
	case <-time.After(3 * time.Second):
		t.Fatal("lookup missed the new session")
	}
}

func TestRegistry_LookupByKey_UsableBeforeRegistered(t *testing.T) {
	a, eng := newTestAccessor(t)
	kid := domain.KeyID("early-key")

	found := make(chan *Session, 1)
	eng.OnCreate = func(es *cdmtest.Session) {
		eng.SetKey(kid, es.ID(), domain.Usable)
		assert.Nil(t, a.Registry().LookupByKey(kid, 0, domain.Usable), "not registered yet")
		go func() { found <- a.Registry().LookupByKey(kid, 2*time.Second, domain.Usable) }()
	}
	s, _ := openSession(t, a, eng, nil)

	select {
	case got := <-found:
		assert.Same(t, s, got)
	case <-time.After(3 * time.Second):
		t.Fatal("lookup did not see the registration")
	}
}

func TestRegistry_LookupByKey_ConcurrentWaitersShareResult(t *testing.T) {
	a, eng := newTestAccessor(t)
	kid := domain.KeyID("shared")
	s, es := openSession(t, a, eng, nil)

	var wg sync.WaitGroup
	results := make([]*Session, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.Registry().LookupByKey(kid, 2*time.Second, domain.Usable)
		}()
	}
	es.MakeUsable(kid)
	wg.Wait()

	assert.Same(t, s, results[0])
	assert.Same(t, s, results[1])
}

func TestRegistry_LookupByKey_KeyMovesFromDepartedOwner(t *testing.T) {
	a, eng := newTestAccessor(t)
	kid := domain.KeyID("moved")
	eng.SetKey(kid, "closed-elsewhere", domain.Usable)
	s, _ := openSession(t, a, eng, nil)

	found := make(chan *Session, 1)
	go func() { found <- a.Registry().LookupByKey(kid, 2*time.Second, domain.Usable) }()

	time.Sleep(50 * time.Millisecond)
	eng.SetKey(kid, s.ID(), domain.Usable)

	select {
	case got := <-found:
		assert.Same(t, s, got)
	case <-time.After(3 * time.Second):
		t.Fatal("lookup missed the key table change")
	}
}

func TestRegistry_LookupByKey_InfiniteWokenByKeyChange(t *testing.T) {
	a, eng := newTestAccessor(t)
	kid := domain.KeyID("pending-then-usable")
	s, _ := openSession(t, a, eng, nil)
	eng.SetKey(kid, s.ID(), domain.StatusPending)

	found := make(chan *Session, 1)
	go func() { found <- a.Registry().LookupByKey(kid, domain.Infinite, domain.Usable) }()

	time.Sleep(20 * time.Millisecond)
	eng.SetKey(kid, s.ID(), domain.Usable)

	select {
	case got := <-found:
		assert.Same(t, s, got)
	case <-time.After(3 * time.Second):
		t.Fatal("infinite lookup never woke")
	}
}

func TestRegistry_LookupByKey_TimesOut(t *testing.T) {
	a, _ := newTestAccessor(t)
	start := time.Now()
	assert.Nil(t, a.Registry().LookupByKey(domain.KeyID("nobody"), 20*time.Millisecond, domain.Usable))
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, a.Registry().LookupByKey(nil, domain.Infinite, domain.Usable))
}

func TestRegistry_DroppedSessionIsReleased(t *testing.T) {
	a, eng := newTestAccessor(t)

	id := func() string {
		s, err := a.CreateSession(domain.SessionRequest{KeySystem: cdmtest.KeySystem}, nil)
		require.NoError(t, err)
		return s.ID()
	}()
	es := eng.Session(id)
	require.NotNil(t, es)

	require.Eventually(t, func() bool {
		runtime.GC()
		return es.Closed() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, a.Registry().LookupByID(id))
}
