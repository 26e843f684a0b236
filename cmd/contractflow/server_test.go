package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/api"
	"github.com/BaSui01/contractflow/config"
	"github.com/BaSui01/contractflow/internal/documents"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Name = ":memory:"
	cfg.Database.HealthCheckInterval = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Server.MetricsPort = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *prometheus.Registry, http.Handler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := newServer(context.Background(), cfg, zaptest.NewLogger(t), reg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, reg, s.Handler(t.Context())
}

func serveJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_HealthIncludesCoordinatorStats(t *testing.T) {
	_, _, h := newTestServer(t, testConfig())

	w := serveJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok, "stats present")
	coordinatorStats, ok := stats["coordinator"].(map[string]any)
	require.True(t, ok, "coordinator stats present")
	assert.EqualValues(t, 3, coordinatorStats["teams"])
	poolStats, ok := stats["database"].(map[string]any)
	require.True(t, ok, "database pool stats present")
	assert.Contains(t, poolStats, "max_open_connections")

	w = serveJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RunLifecycleThroughMiddleware(t *testing.T) {
	s, reg, h := newTestServer(t, testConfig())

	w := serveJSON(t, h, http.MethodPost, "/api/run", api.StartRunRequest{
		DocID:      documents.SampleDocumentID,
		PlaybookID: documents.SamplePlaybookID,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data api.StartRunResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := s.coordinator.Await(ctx, resp.Data.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.StateAwaitingRiskApproval, r.State)

	w = serveJSON(t, h, http.MethodGet, "/api/run/"+resp.Data.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 智能体执行与状态迁移计入 Prometheus
	n, err := testutil.GatherAndCount(reg, "contractflow_agent_executions_total", "contractflow_http_requests_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	_, _, h := newTestServer(t, testConfig())
	w := serveJSON(t, h, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RedisRunStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	s, _, h := newTestServer(t, cfg)
	require.NotNil(t, s.redisStore)

	w := serveJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serveJSON(t, h, http.MethodPost, "/api/run", api.StartRunRequest{DocID: documents.SampleDocumentID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data api.StartRunResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.coordinator.Await(ctx, resp.Data.RunID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(run.RunKey(cfg.Redis.Namespace, resp.Data.RunID)))
}

func TestServer_InvalidDatabaseDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "oracle"
	_, err := newServer(context.Background(), cfg, zaptest.NewLogger(t), prometheus.NewRegistry(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := initLogger(config.LogConfig{Level: "debug", Format: format, OutputPaths: []string{"stderr"}})
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1))
	}
	logger := initLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, logger.Core().Enabled(-1), "unknown level falls back to info")
}
