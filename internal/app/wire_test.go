package app

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
	"opencdm/internal/store"
	"opencdm/internal/stream"
)

func TestNewWire_AcquireAndStream(t *testing.T) {
	log, _ := test.NewNullLogger()

	cfg := DefaultConfig()
	cfg.Server.Keys = map[string]string{
		"01010101010101010101010101010101": "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1",
	}
	srv, err := NewLicenseServer(cfg.Server, log)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	cfg.License.ServerURL = ts.URL
	cfg.Engine.StoreDir = t.TempDir()
	cfg.Engine.StorePassphrase = "pw"

	w, err := NewWire(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.IsType(t, &store.LicenseFileStore{}, w.Store)

	kid := domain.KeyID(bytes.Repeat([]byte{0x01}, 16))
	init, err := protocol.EncodeKeyIDs([]domain.KeyID{kid})
	require.NoError(t, err)
	res, err := w.Licenses.Acquire(context.Background(), domain.AcquireRequest{
		KeySystem:    protocol.KeySystem,
		LicenseType:  domain.Temporary,
		InitDataType: protocol.InitDataKeyIDs,
		InitData:     init,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Usable, res.Status)
	require.NoError(t, w.Licenses.Close(res.SessionID))

	s := w.NewStream()
	require.NoError(t, s.Load(context.Background(), `
type: ip
drm:
  key_system: org.w3.clearkey
  key_ids: ["01010101010101010101010101010101"]
`))
	assert.Equal(t, stream.Prepared, s.State())
	assert.Equal(t, stream.ClearKey, s.DRM())
	require.NoError(t, s.Close())
}

func TestNewWire_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.StoreDir = t.TempDir()
	_, err := NewWire(cfg, nil)
	assert.Error(t, err)
}
