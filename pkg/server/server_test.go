package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/recall/pkg/audit"
	"github.com/pario-ai/recall/pkg/backend"
	"github.com/pario-ai/recall/pkg/cache"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/models"
)

func setupServer(t *testing.T, opts ...Option) (*Server, *cache.Engine) {
	t.Helper()
	cfg := config.Default()
	reg := prometheus.NewRegistry()
	engine, err := cache.New(cfg.Cache, backend.NewSimulated(0, 0, cfg.Cache.AvgTokens), cache.WithMetrics(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	opts = append([]Option{WithGatherer(reg)}, opts...)
	return New(cfg, engine, opts...), engine
}

func postQuery(t *testing.T, srv http.Handler, query string) (*httptest.ResponseRecorder, models.QueryResponse) {
	t.Helper()
	body, _ := json.Marshal(models.QueryRequest{Query: query})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp models.QueryResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestServiceInfo(t *testing.T) {
	srv, _ := setupServer(t)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var info models.ServiceInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "OK", info.Status)
	assert.Equal(t, "AI Intelligent Cache", info.Service)
	assert.Equal(t, []string{"POST /", "GET /analytics"}, info.Endpoints)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestQueryMissThenHit(t *testing.T) {
	srv, _ := setupServer(t)

	w, first := postQuery(t, srv, "Summarize the news today")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "miss", w.Header().Get("X-Recall-Cache"))
	assert.False(t, first.Cached)
	assert.Equal(t, "Summarized 'Summarize the news today' (used 3000 tokens)", first.Answer)
	assert.Len(t, first.CacheKey, 64)
	assert.GreaterOrEqual(t, first.Latency, int64(1))

	w, second := postQuery(t, srv, "  summarize THE news today  ")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get("X-Recall-Cache"))
	assert.True(t, second.Cached)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.Answer, second.Answer)
}

func TestEmptyQueryProbe(t *testing.T) {
	srv, engine := setupServer(t)

	for _, body := range []string{`{}`, `{"query":""}`, `not json`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, "body %q", body)
		var resp models.QueryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.QueryResponse{Answer: "", Cached: false, Latency: resp.Latency, CacheKey: "probe"}, resp)
		assert.GreaterOrEqual(t, resp.Latency, int64(1))
		assert.Empty(t, w.Header().Get("X-Recall-Cache"))
	}
	assert.Zero(t, engine.Stats().TotalRequests)
}

func TestCBORQuery(t *testing.T) {
	srv, _ := setupServer(t)

	body, err := cbor.Marshal(models.QueryRequest{Query: "hello"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/cbor")
	req.Header.Set("Accept", "application/cbor")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/cbor", w.Header().Get("Content-Type"))
	var resp models.QueryResponse
	require.NoError(t, cbor.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Summarized 'hello' (used 3000 tokens)", resp.Answer)
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	postQuery(t, srv, "a")
	postQuery(t, srv, "a")

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analytics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var a models.Analytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, 0.5, a.HitRate)
	assert.Equal(t, int64(2), a.TotalRequests)
	assert.Equal(t, int64(1), a.CacheHits)
	assert.Equal(t, int64(1), a.CacheMisses)
	assert.Equal(t, 1, a.CacheSize)
	assert.Equal(t, 0.003, a.CostSavings)
	assert.Equal(t, 50, a.SavingsPercent)
	assert.Contains(t, a.Strategies, "LRU eviction")
	assert.NotContains(t, a.Strategies, "semantic caching")
}

func TestAnalyticsRounding(t *testing.T) {
	a := Analytics(models.CacheStats{
		TotalRequests: 10,
		Hits:          3,
		Misses:        7,
		HitRate:       0.3,
		CostSavings:   3 * 3000 * 0.000001,
	}, true)
	assert.Equal(t, 0.3, a.HitRate)
	assert.Equal(t, 0.009, a.CostSavings)
	assert.Equal(t, 30, a.SavingsPercent)
	assert.Contains(t, a.Strategies, "semantic caching")

	a = Analytics(models.CacheStats{HitRate: 2.0 / 3.0}, false)
	assert.Equal(t, 0.667, a.HitRate)
	assert.Equal(t, 67, a.SavingsPercent)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupServer(t)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := setupServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/analytics"},
		{http.MethodDelete, "/"},
	} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t)
	postQuery(t, srv, "a")

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `recall_cache_requests_total{outcome="miss"} 1`)
}

type failingQuerier struct{ err error }

func (f failingQuerier) LookupOrPopulate(context.Context, string) (models.Result, error) {
	return models.Result{}, f.err
}

func (f failingQuerier) Stats() models.CacheStats { return models.CacheStats{} }

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"backend", errors.New("synthesize answer: boom"), http.StatusBadGateway},
		{"closed", cache.ErrClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(config.Default(), failingQuerier{err: tt.err}, WithGatherer(prometheus.NewRegistry()))
			w, _ := postQuery(t, srv, "hello")
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "recall_error")
		})
	}
}

func TestAuditLogging(t *testing.T) {
	auditor, err := audit.New(models.AuditConfig{
		DBPath:  filepath.Join(t.TempDir(), "audit.db"),
		Include: []string{"queries"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })

	srv, _ := setupServer(t, WithAuditor(auditor))
	postQuery(t, srv, "hello")
	postQuery(t, srv, "HELLO")
	postQuery(t, srv, "")
	srv.Wait()

	entries, err := auditor.Query(context.Background(), models.AuditQueryOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	hits, err := auditor.Query(context.Background(), models.AuditQueryOpts{CachedOnly: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, models.StrategyExact, hits[0].Strategy)
	assert.Equal(t, "HELLO", hits[0].Query)
	assert.Empty(t, hits[0].Answer)
	assert.NotEmpty(t, hits[0].RequestID)
}

func TestListenAndServeShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	srv := New(cfg, failingQuerier{}, WithGatherer(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
