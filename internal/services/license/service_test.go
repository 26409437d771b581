package license_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/cdm"
	"opencdm/internal/domain"
	"opencdm/internal/engine/clearkey"
	"opencdm/internal/licenseserver"
	protocol "opencdm/internal/protocol/clearkey"
	"opencdm/internal/services/license"
	"opencdm/internal/services/media"
	"opencdm/internal/store"
)

var (
	kid1 = domain.KeyID(bytes.Repeat([]byte{0x01}, 16))
	kid2 = domain.KeyID(bytes.Repeat([]byte{0x02}, 16))
	key1 = bytes.Repeat([]byte{0xa1}, 16)
)

type fixture struct {
	accessor *cdm.Accessor
	store    *store.MemoryStore
	svc      *license.Service
}

func newFixture(t *testing.T, cfg license.Config, opts ...cdm.Option) fixture {
	t.Helper()
	log, _ := test.NewNullLogger()

	srv := httptest.NewServer(licenseserver.NewServer([]domain.ContentKey{{ID: kid1, Key: key1}}, log))
	t.Cleanup(srv.Close)

	ls := store.NewMemoryStore()
	eng := clearkey.New(clearkey.Config{LicenseURL: srv.URL + "/license", Store: ls, Log: log})
	a, err := cdm.New(eng, append([]cdm.Option{cdm.WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	client := licenseserver.NewClient(srv.URL, srv.Client())
	return fixture{accessor: a, store: ls, svc: license.New(a, client, cfg, log)}
}

func acquireRequest(t *testing.T, lt domain.LicenseType, name string, kids ...domain.KeyID) domain.AcquireRequest {
	t.Helper()
	init, err := protocol.EncodeKeyIDs(kids)
	require.NoError(t, err)
	return domain.AcquireRequest{
		KeySystem:    protocol.KeySystem,
		LicenseType:  lt,
		InitDataType: protocol.InitDataKeyIDs,
		InitData:     init,
		Name:         name,
	}
}

func TestAcquire_TemporaryThenDecrypt(t *testing.T) {
	f := newFixture(t, license.Config{})
	ctx := context.Background()

	res, err := f.svc.Acquire(ctx, acquireRequest(t, domain.Temporary, "", kid1))
	require.NoError(t, err)
	assert.Equal(t, domain.Usable, res.Status)
	assert.Equal(t, 1, res.Rounds)
	require.NotNil(t, f.accessor.SessionByID(res.SessionID))

	plain := []byte("clear media payload")
	iv := []byte{0, 0, 0, 0, 0, 0, 0, 7}
	block, err := aes.NewCipher(key1)
	require.NoError(t, err)
	ctr := make([]byte, 16)
	copy(ctr, iv)
	data := make([]byte, len(plain))
	cipher.NewCTR(block, ctr).XORKeyStream(data, plain)

	log, _ := test.NewNullLogger()
	n, err := media.New(f.accessor, 0, log).DecryptSamples(ctx, []domain.Sample{{KeyID: kid1, IV: iv, Data: data}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, plain, data)

	require.NoError(t, f.svc.Close(res.SessionID))
	assert.ErrorIs(t, f.svc.Close(res.SessionID), domain.ErrInvalidSession)
}

func TestAcquire_UnknownKeyFailsAndCloses(t *testing.T) {
	f := newFixture(t, license.Config{})

	_, err := f.svc.Acquire(context.Background(), acquireRequest(t, domain.Temporary, "", kid1, kid2))
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.ErrorIs(t, err, licenseserver.ErrStatus)
	assert.Zero(t, f.accessor.Registry().Len())
}

func TestAcquire_RoundLimit(t *testing.T) {
	f := newFixture(t, license.Config{MaxRounds: 1})

	res, err := f.svc.Acquire(context.Background(), acquireRequest(t, domain.Temporary, "", kid1, kid2))
	assert.ErrorIs(t, err, license.ErrTooManyRounds)
	assert.Equal(t, 1, res.Rounds)
}

func TestAcquire_NoChallenge(t *testing.T) {
	f := newFixture(t, license.Config{}, cdm.WithExchangeTimeout(20*time.Millisecond))

	_, err := f.svc.Acquire(context.Background(), domain.AcquireRequest{KeySystem: protocol.KeySystem})
	assert.ErrorIs(t, err, license.ErrNoChallenge)
	assert.Zero(t, f.accessor.Registry().Len())
}

func TestAcquire_UnsupportedKeySystem(t *testing.T) {
	f := newFixture(t, license.Config{})
	_, err := f.svc.Acquire(context.Background(), domain.AcquireRequest{KeySystem: "com.example.drm"})
	assert.ErrorIs(t, err, domain.ErrKeySystemNotSupported)
}

func TestAcquire_CanceledContext(t *testing.T) {
	f := newFixture(t, license.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Acquire(ctx, acquireRequest(t, domain.Temporary, "", kid1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPersistent_AcquireRestoreRelease(t *testing.T) {
	f := newFixture(t, license.Config{})
	ctx := context.Background()

	res, err := f.svc.Acquire(ctx, acquireRequest(t, domain.PersistentLicense, "film", kid1))
	require.NoError(t, err)
	require.NoError(t, f.svc.Close(res.SessionID))

	_, ok, err := f.store.LoadLicense("film")
	require.NoError(t, err)
	require.True(t, ok)

	restored, err := f.svc.Restore(ctx, protocol.KeySystem, "film")
	require.NoError(t, err)
	assert.Equal(t, domain.Usable, restored.Status)
	assert.Zero(t, restored.Rounds)
	require.NoError(t, f.svc.Close(restored.SessionID))

	require.NoError(t, f.svc.Release(ctx, protocol.KeySystem, "film"))
	_, ok, err = f.store.LoadLicense("film")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Restore(ctx, protocol.KeySystem, "film")
	assert.ErrorIs(t, err, domain.ErrInvalidSessionOperation)
	assert.ErrorIs(t, f.svc.Release(ctx, protocol.KeySystem, "film"), domain.ErrInvalidSessionOperation)
	assert.Zero(t, f.accessor.Registry().Len())
}
