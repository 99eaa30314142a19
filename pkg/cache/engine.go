// Package cache implements an in-memory response cache in front of a slow
// answer backend. Lookups try an exact key derived from the normalized query
// and, when enabled, an embedding similarity scan. Entries expire lazily after
// a fixed TTL and are evicted in least-recently-used order beyond capacity.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/models"
)

var (
	// ErrClosed is returned by operations on an engine after Close.
	ErrClosed = errors.New("cache closed")
	// ErrNoSynthesizer is returned by New when no backend is supplied.
	ErrNoSynthesizer = errors.New("cache: synthesizer is required")
)

// Embedder turns normalized text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Synthesizer produces an answer for a query on a cache miss. It receives the
// query as the caller sent it, not the normalized form.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string) (models.Completion, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, query string) (models.Completion, error)

// Synthesize calls f.
func (f SynthesizerFunc) Synthesize(ctx context.Context, query string) (models.Completion, error) {
	return f(ctx, query)
}

type entry struct {
	answer    string
	embedding []float64
	createdAt time.Time
}

type counters struct {
	requests int64
	hits     int64
	misses   int64
	tokens   int64
}

// Engine is a bounded, concurrency-safe response cache.
// The store, its recency order and the counters share one mutex.
// Backend and embedding calls run without it.
type Engine struct {
	cfg      config.CacheConfig
	synth    Synthesizer
	embedder Embedder
	now      func() time.Time
	log      zerolog.Logger
	metrics  *metrics
	tracer   trace.Tracer

	flight singleflight.Group
	sem    *semaphore.Weighted

	mu     sync.Mutex
	store  *simplelru.LRU[string, *entry]
	stats  counters
	closed bool
}

// New creates an Engine. Semantic lookups run only when cfg.Semantic.Enabled
// is set and an embedder is supplied with WithEmbedder.
func New(cfg config.CacheConfig, synth Synthesizer, opts ...Option) (*Engine, error) {
	if synth == nil {
		return nil, ErrNoSynthesizer
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := simplelru.NewLRU[string, *entry](cfg.Size, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		synth:  synth,
		now:    time.Now,
		log:    zerolog.Nop(),
		tracer: otel.Tracer("github.com/pario-ai/recall/pkg/cache"),
		store:  store,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !cfg.Semantic.Enabled {
		e.embedder = nil
	}
	if cfg.MaxInflightBackend > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxInflightBackend))
	}
	return e, nil
}

// LookupOrPopulate returns the cached answer for query or, on a miss, asks the
// backend and stores its answer. An empty query is a no-op: it returns an
// empty result and leaves the cache and counters untouched.
func (e *Engine) LookupOrPopulate(ctx context.Context, query string) (models.Result, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return models.Result{}, nil
	}
	key := DeriveKey(normalized)

	ctx, span := e.tracer.Start(ctx, "cache.LookupOrPopulate",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	res, err := e.lookupOrPopulate(ctx, query, normalized, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("cache.strategy", string(res.Strategy)),
		attribute.Bool("cache.cached", res.Cached),
	)
	return res, nil
}

func (e *Engine) lookupOrPopulate(ctx context.Context, query, normalized, key string) (models.Result, error) {
	res, ok, err := e.check(key, nil, e.embedder == nil)
	if err != nil || ok {
		return res, err
	}

	if e.embedder != nil {
		vec := e.embed(ctx, normalized)
		res, ok, err = e.check(key, vec, true)
		if err != nil || ok {
			return res, err
		}
		return e.populate(ctx, query, key, vec)
	}
	return e.populate(ctx, query, key, nil)
}

// check runs the exact lookup and, given a query vector, the semantic scan.
// When final is set and nothing matched, the miss is recorded under the same
// lock acquisition.
func (e *Engine) check(key string, vec []float64, final bool) (models.Result, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return models.Result{}, false, ErrClosed
	}
	if ent, ok := e.lookupExact(key); ok {
		return e.hit(key, ent, models.StrategyExact, 1), true, nil
	}
	if vec != nil {
		if ent, sim, ok := e.lookupSemantic(vec); ok {
			return e.hit(key, ent, models.StrategySemantic, sim), true, nil
		}
	}
	if final {
		e.stats.requests++
		e.stats.misses++
		e.metrics.request(string(models.StrategyMiss))
	}
	return models.Result{}, false, nil
}

// lookupExact returns the live entry for key and promotes it. An expired entry
// is removed. Caller holds e.mu.
func (e *Engine) lookupExact(key string) (*entry, bool) {
	ent, ok := e.store.Peek(key)
	if !ok {
		return nil, false
	}
	if !e.live(ent) {
		e.store.Remove(key)
		e.metrics.expired()
		e.metrics.size(e.store.Len())
		e.log.Debug().Str("key", key).Msg("expired cache entry removed")
		return nil, false
	}
	e.store.Get(key)
	return ent, true
}

// lookupSemantic scans entries oldest to newest and promotes the first live
// one whose similarity to vec is strictly above the threshold. Expired entries
// are skipped. Caller holds e.mu.
func (e *Engine) lookupSemantic(vec []float64) (*entry, float64, bool) {
	for _, k := range e.store.Keys() {
		ent, ok := e.store.Peek(k)
		if !ok || ent.embedding == nil || !e.live(ent) {
			continue
		}
		sim, ok := Cosine(vec, ent.embedding)
		if !ok || sim <= e.cfg.Semantic.Threshold {
			continue
		}
		e.store.Get(k)
		return ent, sim, true
	}
	return nil, 0, false
}

func (e *Engine) live(ent *entry) bool {
	return e.now().Sub(ent.createdAt) < e.cfg.TTL
}

// hit records a cache hit. Caller holds e.mu.
func (e *Engine) hit(key string, ent *entry, strategy models.Strategy, sim float64) models.Result {
	e.stats.requests++
	e.stats.hits++
	e.metrics.request(string(strategy))
	return models.Result{
		Answer:     ent.answer,
		Cached:     true,
		Key:        key,
		Strategy:   strategy,
		Similarity: sim,
	}
}

// embed returns nil when the embedder fails so the lookup falls back to exact
// matching for this request.
func (e *Engine) embed(ctx context.Context, normalized string) []float64 {
	vec, err := e.embedder.Embed(ctx, normalized)
	if err != nil {
		e.metrics.embedFailed()
		e.log.Warn().Err(err).Msg("embedding failed, using exact match only")
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

func (e *Engine) populate(ctx context.Context, query, key string, vec []float64) (models.Result, error) {
	res := models.Result{Key: key, Strategy: models.StrategyMiss}

	if !e.cfg.DedupeInflight {
		c, err := e.fill(ctx, query, key, vec)
		if err != nil {
			return models.Result{}, err
		}
		res.Answer, res.Tokens = c.Text, c.Tokens
		return res, nil
	}

	// The shared fill outlives any single caller; each caller waits on its
	// own context.
	leader := false
	ch := e.flight.DoChan(key, func() (interface{}, error) {
		leader = true
		return e.fill(context.WithoutCancel(ctx), query, key, vec)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	case r = <-ch:
	}
	if r.Err != nil {
		return models.Result{}, r.Err
	}
	c := r.Val.(models.Completion)
	res.Answer = c.Text
	if leader {
		res.Tokens = c.Tokens
	} else {
		res.Shared = true
	}
	return res, nil
}

// fill calls the backend and stores a successful answer.
func (e *Engine) fill(ctx context.Context, query, key string, vec []float64) (models.Completion, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return models.Completion{}, fmt.Errorf("acquire backend slot: %w", err)
		}
		defer e.sem.Release(1)
	}

	start := e.now()
	c, err := e.synth.Synthesize(ctx, query)
	elapsed := e.now().Sub(start)
	if err != nil {
		return models.Completion{}, fmt.Errorf("synthesize answer: %w", err)
	}
	if c.Tokens <= 0 {
		c.Tokens = e.cfg.AvgTokens
	}
	e.metrics.backend(elapsed, c.Tokens)

	e.insert(key, c, vec)
	e.log.Debug().Str("key", key).Dur("latency", elapsed).Int("tokens", c.Tokens).Msg("cache miss served")
	return c, nil
}

func (e *Engine) insert(key string, c models.Completion, vec []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.tokens += int64(c.Tokens)
	// An answer produced while shutting down is returned but not kept.
	if e.closed {
		return
	}
	if evicted := e.store.Add(key, &entry{answer: c.Text, embedding: vec, createdAt: e.now()}); evicted {
		e.metrics.evicted()
		e.log.Debug().Int("size", e.store.Len()).Msg("least recently used entry evicted")
	}
	e.metrics.size(e.store.Len())
}

// Stats returns a snapshot taken under a single lock acquisition.
func (e *Engine) Stats() models.CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.CacheStats{
		TotalRequests: e.stats.requests,
		Hits:          e.stats.hits,
		Misses:        e.stats.misses,
		TotalTokens:   e.stats.tokens,
		CacheSize:     e.store.Len(),
	}
	s.HitRate = float64(s.Hits) / float64(max(1, s.TotalRequests))
	s.CostSavings = float64(s.Hits) * float64(e.cfg.AvgTokens) * e.cfg.ModelCost
	return s
}

// Len returns the number of entries held, expired ones included.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}

// Close drops all entries. Later lookups return ErrClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.store.Purge()
	e.metrics.size(0)
	return nil
}
