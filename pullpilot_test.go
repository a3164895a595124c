package pullpilot

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pullpilot/internal/fleet"
	"github.com/loykin/pullpilot/internal/gatewaytest"
)

func newGateway(t *testing.T, opts gatewaytest.Options) (*gatewaytest.Gateway, string) {
	t.Helper()
	gw := gatewaytest.New(opts, fleet.Unit{Name: "plex", Status: fleet.StatusRunning, Containers: 1})
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		gw.Close()
	})
	return gw, srv.URL + "/api"
}

func testConfig(t *testing.T, apiURL string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.API.URL = apiURL
	cfg.API.Timeout = 2 * time.Second
	cfg.Poll.Interval = 10 * time.Millisecond
	cfg.Fallback.Delay = 0
	cfg.Session.Dir = t.TempDir()
	return cfg
}

func TestAppMountsAgainstGateway(t *testing.T) {
	_, url := newGateway(t, gatewaytest.Options{})
	app, err := New(testConfig(t, url), Options{})
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	require.NoError(t, app.Controller.Mount(context.Background()))
	snap := app.Store.Snapshot()
	assert.Equal(t, fleet.ModeLive, snap.Mode)
	require.Len(t, snap.Units, 1)
	assert.Equal(t, "plex", snap.Units[0].Name)
}

func TestLoginIsStoredAndReused(t *testing.T) {
	_, url := newGateway(t, gatewaytest.Options{Username: "admin", Password: "secret"})
	cfg := testConfig(t, url)
	ctx := context.Background()

	app, err := New(cfg, Options{})
	require.NoError(t, err)
	require.Error(t, app.Login(ctx, "admin", "nope"))
	require.NoError(t, app.Login(ctx, "admin", "secret"))
	assert.True(t, app.Sessions.IsLoggedIn())
	_ = app.Close()

	// a second process picks the stored session up
	again, err := New(cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	require.NoError(t, again.Controller.Mount(ctx))
	assert.False(t, again.SessionExpired())
	assert.Len(t, again.Store.Snapshot().Units, 1)
}

func TestExpiredLoginNavigates(t *testing.T) {
	_, url := newGateway(t, gatewaytest.Options{Username: "admin", Password: "secret"})
	navigated := 0
	app, err := New(testConfig(t, url), Options{Navigator: NavigatorFunc(func() { navigated++ })})
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	require.NoError(t, app.Controller.Mount(context.Background()))
	assert.True(t, app.SessionExpired())
	assert.Equal(t, 1, navigated)
	assert.Empty(t, app.Store.Snapshot().Units)
}

func TestRejectedLoginIsCleared(t *testing.T) {
	gw, url := newGateway(t, gatewaytest.Options{Username: "admin", Password: "secret"})
	cfg := testConfig(t, url)
	ctx := context.Background()

	app, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, app.Login(ctx, "admin", "secret"))
	_ = app.Close()
	gw.ExpireSessions()

	again, err := New(cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	require.NoError(t, again.Controller.Mount(ctx))
	assert.True(t, again.SessionExpired())
	assert.False(t, again.Sessions.IsLoggedIn(), "a login the gateway rejected must not be kept")
}

func TestArchiveDSN(t *testing.T) {
	_, url := newGateway(t, gatewaytest.Options{})
	cfg := testConfig(t, url)
	cfg.History.ArchiveDSN = "bogus://nowhere"
	_, err := New(cfg, Options{})
	assert.Error(t, err)

	cfg.History.ArchiveDSN = "sqlite://" + t.TempDir() + "/history.db"
	app, err := New(cfg, Options{})
	require.NoError(t, err)
	assert.NoError(t, app.Close())
}

func TestRegisterMetrics(t *testing.T) {
	assert.NoError(t, RegisterMetrics(prometheus.NewRegistry()))
}
