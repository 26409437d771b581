package licenseserver_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencdm/internal/domain"
	"opencdm/internal/licenseserver"
	protocol "opencdm/internal/protocol/clearkey"
)

var (
	kid1 = domain.KeyID(bytes.Repeat([]byte{1}, 16))
	kid2 = domain.KeyID(bytes.Repeat([]byte{2}, 16))
	key1 = bytes.Repeat([]byte{0xa1}, 16)
)

func newServer(t *testing.T) (*httptest.Server, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	srv := httptest.NewServer(licenseserver.NewServer([]domain.ContentKey{{ID: kid1, Key: key1}}, log))
	t.Cleanup(srv.Close)
	return srv, hook
}

func TestAcquire_License(t *testing.T) {
	srv, hook := newServer(t)
	c := licenseserver.NewClient(srv.URL, srv.Client())

	challenge, err := protocol.EncodeRequest([]domain.KeyID{kid1, kid2}, domain.Temporary)
	require.NoError(t, err)
	body, err := c.Acquire(context.Background(), "", challenge)
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, []domain.ContentKey{{ID: kid1, Key: key1}}, resp.Keys)

	// The access log is written after the response is flushed.
	require.Eventually(t, func() bool { return hook.LastEntry() != nil }, time.Second, time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, "/license", entry.Data["path"])
}

func TestAcquire_UnknownKeyIs404(t *testing.T) {
	srv, _ := newServer(t)
	c := licenseserver.NewClient(srv.URL, srv.Client())

	challenge, err := protocol.EncodeRequest([]domain.KeyID{kid2}, domain.Temporary)
	require.NoError(t, err)
	_, err = c.Acquire(context.Background(), srv.URL+"/license", challenge)
	assert.ErrorIs(t, err, licenseserver.ErrStatus)
	assert.Contains(t, err.Error(), "404")
}

func TestAcquire_Release(t *testing.T) {
	srv, _ := newServer(t)
	c := licenseserver.NewClient(srv.URL, srv.Client())

	challenge, err := protocol.EncodeRelease([]domain.KeyID{kid1})
	require.NoError(t, err)
	body, err := c.Acquire(context.Background(), "/license", challenge)
	require.NoError(t, err)

	resp, err := protocol.DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, []domain.KeyID{kid1}, resp.Released)
}

func TestServer_BadRequests(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.Client().Post(srv.URL+"/license", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/license")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAcquire_ContextCanceled(t *testing.T) {
	srv, _ := newServer(t)
	c := licenseserver.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Acquire(ctx, "", []byte("{}"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_NoURL(t *testing.T) {
	c := licenseserver.NewClient("", nil)
	_, err := c.Acquire(context.Background(), "", []byte("{}"))
	assert.Error(t, err)
}
