package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/zoobzio/clockz"

	"github.com/teemow/mcpdemo/internal/registry"
)

type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func serve(t *testing.T, h http.Handler) (int, gjson.Result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, gjson.Parse(rec.Body.String())
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil, nil)

	code, body := serve(t, h.LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body.Get("status").String())
}

func TestHealthChecker_Readiness(t *testing.T) {
	sc := NewServerContext(context.Background(), nil, nil, nil)
	h := NewHealthChecker(sc, nil)

	code, body := serve(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body.Get("checks.ready").String())

	h.SetReady(false)
	assert.False(t, h.IsReady())
	code, body = serve(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusNotReady, body.Get("checks.ready").String())

	h.SetReady(true)
	require.NoError(t, sc.Shutdown())
	code, body = serve(t, h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusShuttingDown, body.Get("checks.shutdown").String())
}

func TestHealthChecker_Detailed(t *testing.T) {
	provider := createTestProvider(t)
	reg := registry.New(nil, provider.Instrumenter())
	require.NoError(t, reg.AddTool(mcp.NewTool("echo"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(""), nil
	}))
	_, err := reg.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)

	var clock fakeClock = clockz.NewFakeClockAt(epoch)
	sessions := NewSessionTracker(SessionTrackerConfig{Clock: clock, CleanupInterval: -1})
	sessions.Register(context.Background(), "s-1")

	sc := NewServerContext(context.Background(), provider, reg, sessions)
	t.Cleanup(func() { _ = sc.Shutdown() })

	h := NewHealthChecker(sc, clock)
	clock.Advance(90 * time.Second)

	code, body := serve(t, h.DetailedHealthHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusOK, body.Get("status").String())
	assert.Equal(t, "1m30s", body.Get("uptime").String())
	assert.Equal(t, int64(1), body.Get("handlers").Int())
	assert.Equal(t, int64(1), body.Get("invocations.mcp_tool_invocations_total").Int())
	assert.Equal(t, int64(1), body.Get("active_sessions").Int())

	h.SetReady(false)
	code, body = serve(t, h.DetailedHealthHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusNotReady, body.Get("status").String())
}

func TestHealthChecker_RegisterHealthEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthChecker(nil, nil).RegisterHealthEndpoints(mux)

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detailed"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
