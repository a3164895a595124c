package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pullpilot/internal/config"
	tlsutil "github.com/loykin/pullpilot/internal/tls"
)

func TestNewServerPlain(t *testing.T) {
	f := setupRouter(t, "")
	srv, err := NewServer("127.0.0.1:0", NewRouter(f.ctrl, f.notices, "", nil), nil)
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr + "/api/state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerTLS(t *testing.T) {
	f := setupRouter(t, "")
	tlsCfg, err := tlsutil.Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true})
	require.NoError(t, err)

	srv, err := NewServer("127.0.0.1:0", NewRouter(f.ctrl, f.notices, "", nil), tlsCfg)
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	c := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec // self-signed test certificate
	}
	resp, err := c.Get("https://" + srv.Addr + "/api/state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
}

func TestNewServerBindError(t *testing.T) {
	f := setupRouter(t, "")
	r := NewRouter(f.ctrl, f.notices, "", nil)
	first, err := NewServer("127.0.0.1:0", r, nil)
	require.NoError(t, err)
	defer func() { _ = first.Shutdown(context.Background()) }()

	_, err = NewServer(first.Addr, r, nil)
	assert.Error(t, err)
}
