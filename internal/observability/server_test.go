// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", ready)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test-local address
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerMetricsEndpoint(t *testing.T) {
	s := startServer(t, nil)
	s.Metrics().PluginsActive.Set(3)
	s.Metrics().PluginLoadsTotal.WithLabelValues("native", "ok").Inc()

	status, body := get(t, "http://"+s.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "duskhall_plugins_active 3")
	assert.Contains(t, body, "duskhall_plugin_loads_total")
}

func TestServerLiveness(t *testing.T) {
	s := startServer(t, nil)
	status, body := get(t, "http://"+s.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServerReadiness(t *testing.T) {
	ready := false
	s := startServer(t, func() bool { return ready })

	status, _ := get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ready = true
	status, _ = get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServerDoubleStart(t *testing.T) {
	s := startServer(t, nil)
	_, err := s.Start()
	require.Error(t, err)
}

func TestServerStopWhenNotRunning(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	assert.NoError(t, s.Stop(context.Background()))
}
