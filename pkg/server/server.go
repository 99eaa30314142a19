// Package server exposes the cache engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pario-ai/recall/pkg/audit"
	"github.com/pario-ai/recall/pkg/cache"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/models"
)

const (
	serviceName  = "AI Intelligent Cache"
	maxBodyBytes = 1 << 20
	contentCBOR  = "application/cbor"
)

var tracer = otel.Tracer("github.com/pario-ai/recall/pkg/server")

// Querier is the part of the cache engine the server needs.
type Querier interface {
	LookupOrPopulate(ctx context.Context, query string) (models.Result, error)
	Stats() models.CacheStats
}

// Option configures a Server.
type Option func(*Server)

// WithAuditor records every answered query.
func WithAuditor(a *audit.Logger) Option {
	return func(s *Server) { s.auditor = a }
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithGatherer selects the metrics served at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server is the recall HTTP front end.
type Server struct {
	cfg      *config.Config
	engine   Querier
	auditor  *audit.Logger
	log      zerolog.Logger
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
	handler  http.Handler
	pending  sync.WaitGroup
}

// New creates a Server answering queries from engine.
func New(cfg *config.Config, engine Querier, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		log:      zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/analytics", s.handleAnalytics)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	h := http.Handler(s.mux)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-ID")(h)
	h = hlog.NewHandler(s.log)(h)
	s.handler = withCORS(h)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Listen).Msg("recall listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.Wait()
		return err
	case err := <-errCh:
		return err
	}
}

// Wait blocks until pending audit writes finish.
func (s *Server) Wait() {
	s.pending.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeJSON(w, r, http.StatusOK, models.ServiceInfo{
			Status:    "OK",
			Service:   serviceName,
			Endpoints: []string{"POST /", "GET /analytics"},
		})
	case http.MethodPost:
		s.handleQuery(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "server.handleQuery")
	defer span.End()

	// Unreadable bodies are treated as an empty query.
	req := decodeQuery(w, r)

	res, err := s.engine.LookupOrPopulate(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		hlog.FromRequest(r).Error().Err(err).Msg("query failed")
		if errors.Is(err, cache.ErrClosed) {
			writeJSONError(w, http.StatusServiceUnavailable, "cache is shutting down")
			return
		}
		writeJSONError(w, http.StatusBadGateway, "backend failed to answer")
		return
	}

	latency := max(1, time.Since(start).Milliseconds())
	resp := models.QueryResponse{
		Answer:   res.Answer,
		Cached:   res.Cached,
		Latency:  latency,
		CacheKey: res.Key,
	}
	if res.Key == "" {
		resp.CacheKey = "probe"
	} else if res.Cached {
		w.Header().Set("X-Recall-Cache", "hit")
	} else {
		w.Header().Set("X-Recall-Cache", "miss")
	}
	span.SetAttributes(
		attribute.Bool("recall.cached", res.Cached),
		attribute.String("recall.strategy", string(res.Strategy)),
	)
	writeJSON(w, r, http.StatusOK, resp)

	if s.auditor != nil && res.Key != "" {
		s.audit(r, req.Query, res, latency)
	}
}

func (s *Server) audit(r *http.Request, query string, res models.Result, latency int64) {
	entry := models.AuditEntry{
		CacheKey:   res.Key,
		Query:      query,
		Answer:     res.Answer,
		Strategy:   res.Strategy,
		Cached:     res.Cached,
		Shared:     res.Shared,
		Similarity: res.Similarity,
		Tokens:     res.Tokens,
		StatusCode: http.StatusOK,
		LatencyMs:  latency,
		CreatedAt:  time.Now().UTC(),
	}
	if id, ok := hlog.IDFromRequest(r); ok {
		entry.RequestID = id.String()
	} else {
		entry.RequestID = fmt.Sprintf("%s-%d", res.Key[:12], entry.CreatedAt.UnixNano())
	}

	log := hlog.FromRequest(r)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			log.Warn().Err(err).Msg("audit log error")
		}
	}()
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, r, http.StatusOK, Analytics(s.engine.Stats(), s.cfg.Cache.Semantic.Enabled))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Analytics converts a stats snapshot to the reporting shape. Hit rate is
// rounded to three decimals and cost savings to four.
func Analytics(st models.CacheStats, semantic bool) models.Analytics {
	strategies := []string{"exact match caching", "LRU eviction", "TTL expiration"}
	if semantic {
		strategies = append(strategies, "semantic caching")
	}
	return models.Analytics{
		HitRate:        roundTo(st.HitRate, 3),
		TotalRequests:  st.TotalRequests,
		CacheHits:      st.Hits,
		CacheMisses:    st.Misses,
		CacheSize:      st.CacheSize,
		CostSavings:    roundTo(st.CostSavings, 4),
		SavingsPercent: int(math.RoundToEven(st.HitRate * 100)),
		Strategies:     strategies,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.RoundToEven(v*p) / p
}

func decodeQuery(w http.ResponseWriter, r *http.Request) models.QueryRequest {
	var req models.QueryRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentCBOR) {
		if err := cbor.NewDecoder(body).Decode(&req); err != nil {
			return models.QueryRequest{}
		}
		return req
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return models.QueryRequest{}
	}
	return req
}

// writeJSON encodes v as JSON, or as CBOR when the client asks for it.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	if strings.Contains(r.Header.Get("Accept"), contentCBOR) {
		data, err := cbor.Marshal(v)
		if err == nil {
			w.Header().Set("Content-Type", contentCBOR)
			w.WriteHeader(code)
			_, _ = w.Write(data)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"recall_error","code":%d}}`, message, code)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Recall-Cache, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
