package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/config"
	"github.com/c360/semlive/live"
	"github.com/c360/semlive/live/livetest"
)

func newTestApp(t *testing.T) (*app, *livetest.Transport) {
	t.Helper()
	return newTestAppWith(t, io.Discard)
}

func newTestAppWith(t *testing.T, logOut io.Writer) (*app, *livetest.Transport) {
	t.Helper()
	tr := livetest.New()
	cfg := config.Default()
	cfg.SessionID = "test-session"

	a, err := assemble(cfg, slog.New(slog.NewTextHandler(logOut, nil)), tr)
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Shutdown(ctx))
	})
	return a, tr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAppRoutes(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	require.Eventually(t, func() bool {
		st, ok := a.monitor.Get("transport")
		return ok && st.IsHealthy()
	}, 2*time.Second, 10*time.Millisecond)

	code, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"component":"semlive"`)

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "semlive_connection_connected 1")

	code, body = get(t, srv.URL+"/channels")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "[")
}

func TestRegistryCheck(t *testing.T) {
	a, tr := newTestApp(t)
	addr := live.Address{Scope: "grafana", Namespace: "broadcast", Path: "cursor"}

	ch := a.reg.GetChannel(addr)
	require.Eventually(t, func() bool {
		return ch.Status() == live.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	st := registryCheck(a.reg)()
	assert.True(t, st.IsHealthy())
	require.NotNil(t, st.Metrics)
	assert.Equal(t, 1, st.Metrics.ChannelsByKind["connected"])

	tr.SetConnected(false)
	require.Eventually(t, func() bool {
		return ch.Status() == live.StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	st = registryCheck(a.reg)()
	assert.True(t, st.IsDegraded())
	assert.Equal(t, "1 channels disconnected", st.Message)

	assert.Eventually(t, func() bool {
		return a.monitor.AggregateHealth(appName).IsUnhealthy()
	}, 2*time.Second, 10*time.Millisecond, "transport is down")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SEMLIVE_SESSION_ID", "from-env")
	cfg, err := loadConfig(&CLIConfig{LogLevel: "debug", LogFormat: "text", Addr: ":9999"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.SessionID)

	assert.Equal(t, 2*time.Second, shutdownTimeout(&CLIConfig{ShutdownTimeout: 2 * time.Second}, cfg))
	assert.Equal(t, cfg.Server.ShutdownTimeout.Std(), shutdownTimeout(&CLIConfig{}, cfg))
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestAppLogsServerPush(t *testing.T) {
	var logs syncBuffer
	a, tr := newTestAppWith(t, &logs)
	require.NoError(t, a.sup.WaitConnected(context.Background()))

	tr.Push([]byte(`{"notice":"maintenance"}`))

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Server push")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, logs.String(), "bytes=24")
}
