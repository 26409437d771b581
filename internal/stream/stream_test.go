package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
	"opencdm/internal/stream"
)

type fakeLicense struct {
	err    error
	got    domain.AcquireRequest
	closed []string

	// entered is signalled and gate awaited by Acquire when set.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeLicense) Acquire(_ context.Context, req domain.AcquireRequest) (domain.LicenseResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.got = req
	if f.err != nil {
		return domain.LicenseResult{}, f.err
	}
	return domain.LicenseResult{SessionID: "s-1", Status: domain.Usable, Rounds: 1}, nil
}

func (f *fakeLicense) Restore(context.Context, domain.KeySystem, string) (domain.LicenseResult, error) {
	return domain.LicenseResult{}, errors.New("unused")
}

func (f *fakeLicense) Release(context.Context, domain.KeySystem, string) error {
	return errors.New("unused")
}

func (f *fakeLicense) Close(id string) error {
	f.closed = append(f.closed, id)
	return nil
}

// fakeMedia inverts every byte and fails on the sample at failAt.
type fakeMedia struct {
	failAt int
}

func (f *fakeMedia) DecryptSamples(_ context.Context, samples []domain.Sample) (int, error) {
	for i, s := range samples {
		if i == f.failAt {
			return i, domain.ErrInvalidSession
		}
		for j := range s.Data {
			s.Data[j] ^= 0xff
		}
	}
	return len(samples), nil
}

type recorder struct {
	mu     sync.Mutex
	states []stream.State
	drm    []domain.KeyStatus
}

func (r *recorder) DRM(s domain.KeyStatus) {
	r.mu.Lock()
	r.drm = append(r.drm, s)
	r.mu.Unlock()
}

func (r *recorder) StateChange(s stream.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

const protected = `
metadata: trailer
type: ip
drm:
  key_system: org.w3.clearkey
  license_type: temporary
  key_ids: ["01010101010101010101010101010101"]
samples:
  - kid: "01010101010101010101010101010101"
    iv: "0000000000000001"
    data: "00ff"
  - kid: "01010101010101010101010101010101"
    iv: "0000000000000002"
    data: "0f"
`

func newStream(lic *fakeLicense, media *fakeMedia) (*stream.Stream, *recorder) {
	log, _ := test.NewNullLogger()
	s := stream.New(lic, media, log)
	rec := &recorder{}
	s.SetCallbacks(rec)
	return s, rec
}

func TestStream_LoadPlayPauseClose(t *testing.T) {
	lic := &fakeLicense{}
	s, rec := newStream(lic, &fakeMedia{failAt: -1})
	ctx := context.Background()

	require.NoError(t, s.Load(ctx, protected))
	assert.Equal(t, stream.Prepared, s.State())
	assert.Equal(t, stream.IP, s.Type())
	assert.Equal(t, stream.ClearKey, s.DRM())
	assert.Equal(t, "trailer", s.Metadata())
	assert.Equal(t, protocol.InitDataKeyIDs, lic.got.InitDataType)
	assert.Equal(t, protocol.KeySystem, lic.got.KeySystem)

	require.ErrorIs(t, s.Pause(), stream.ErrTransition)
	require.NoError(t, s.Play(ctx))
	assert.Equal(t, []byte{0xff, 0x00}, s.Samples()[0].Data)
	assert.Equal(t, []byte{0xf0}, s.Samples()[1].Data)

	require.NoError(t, s.Pause())
	require.NoError(t, s.Play(ctx))
	assert.Equal(t, []byte{0xf0}, s.Samples()[1].Data, "played samples are not decrypted twice")

	require.NoError(t, s.Close())
	assert.Equal(t, stream.Idle, s.State())
	assert.Equal(t, []string{"s-1"}, lic.closed)

	assert.Equal(t, []stream.State{stream.Loading, stream.Prepared, stream.Playing, stream.Paused, stream.Playing, stream.Idle}, rec.states)
	assert.Equal(t, []domain.KeyStatus{domain.Usable}, rec.drm)
}

func TestStream_ConcurrentLoadRejected(t *testing.T) {
	lic := &fakeLicense{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s, rec := newStream(lic, &fakeMedia{failAt: -1})
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.Load(ctx, protected) }()
	<-lic.entered

	require.ErrorIs(t, s.Load(ctx, protected), stream.ErrTransition)
	assert.Equal(t, stream.Loading, s.State())

	close(lic.gate)
	require.NoError(t, <-first)
	assert.Equal(t, stream.Prepared, s.State())
	assert.Equal(t, []stream.State{stream.Loading, stream.Prepared}, rec.states)
}

func TestStream_ConcurrentLoadOnlyOneProceeds(t *testing.T) {
	lic := &fakeLicense{entered: make(chan struct{}, 8), gate: make(chan struct{})}
	s, _ := newStream(lic, &fakeMedia{failAt: -1})
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	for range n {
		go func() { errs <- s.Load(ctx, protected) }()
	}
	<-lic.entered

	for range n - 1 {
		require.ErrorIs(t, <-errs, stream.ErrTransition)
	}
	close(lic.gate)
	require.NoError(t, <-errs)
	assert.Len(t, lic.entered, 0, "only one load reaches the license service")
}

func TestStream_ClearStreamNeedsNoLicense(t *testing.T) {
	lic := &fakeLicense{}
	s, rec := newStream(lic, &fakeMedia{failAt: -1})

	require.NoError(t, s.Load(context.Background(), "metadata: clear\ntype: cable\n"))
	assert.Equal(t, stream.None, s.DRM())
	assert.Equal(t, stream.Cable, s.Type())
	assert.Empty(t, rec.drm)
	assert.Empty(t, lic.got.KeySystem)
}

func TestStream_LicenseFailure(t *testing.T) {
	lic := &fakeLicense{err: domain.ErrKeySystemNotSupported}
	s, rec := newStream(lic, &fakeMedia{failAt: -1})

	err := s.Load(context.Background(), protected)
	assert.ErrorIs(t, err, domain.ErrKeySystemNotSupported)
	assert.Equal(t, stream.Error, s.State())
	assert.Equal(t, []domain.KeyStatus{domain.InternalError}, rec.drm)

	lic.err = nil
	require.NoError(t, s.Load(context.Background(), protected), "load is allowed again after an error")
	require.ErrorIs(t, s.Load(context.Background(), protected), stream.ErrTransition)
}

func TestStream_DecryptFailure(t *testing.T) {
	s, _ := newStream(&fakeLicense{}, &fakeMedia{failAt: 1})

	require.NoError(t, s.Load(context.Background(), protected))
	err := s.Play(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
	assert.Equal(t, stream.Error, s.State())
}

func TestStream_BadDescriptors(t *testing.T) {
	cases := map[string]string{
		"yaml":      "metadata: [",
		"type":      "type: carrier-pigeon",
		"key id":    "drm:\n  key_system: org.w3.clearkey\n  key_ids: [\"zz\"]\n",
		"init type": "drm:\n  key_system: org.w3.clearkey\n  init_data_type: mpeg\n  key_ids: [\"01\"]\n",
		"sample":    "samples:\n  - kid: \"01\"\n    iv: \"xx\"\n",
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			s, _ := newStream(&fakeLicense{}, &fakeMedia{failAt: -1})
			assert.Error(t, s.Load(context.Background(), cfg))
			assert.Equal(t, stream.Error, s.State())
		})
	}
}

func TestParseTypeAndDRM(t *testing.T) {
	typ, err := stream.ParseType("Satellite")
	require.NoError(t, err)
	assert.Equal(t, stream.Satellite, typ)
	assert.Equal(t, "rf", stream.RF.String())

	assert.Equal(t, stream.Widevine, stream.DRMFor("com.widevine.alpha"))
	assert.Equal(t, stream.Unknown, stream.DRMFor("com.example"))
	assert.Equal(t, stream.None, stream.DRMFor(""))
	assert.Equal(t, "paused", stream.Paused.String())
}
