package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pario-ai/recall/pkg/backend"
	"github.com/pario-ai/recall/pkg/cache"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/embedding"
)

// buildEngine assembles the cache engine with the configured embedder and
// backend. The returned registry holds the engine and runtime metrics.
func buildEngine(cfg *config.Config, log zerolog.Logger) (*cache.Engine, *prometheus.Registry, error) {
	synth, err := buildBackend(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []cache.Option{
		cache.WithLogger(log.With().Str("component", "cache").Logger()),
		cache.WithMetrics(reg),
	}
	if cfg.Cache.Semantic.Enabled {
		emb, err := buildEmbedder(cfg.Embedding, log)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, cache.WithEmbedder(emb))
	}

	engine, err := cache.New(cfg.Cache, synth, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("init cache: %w", err)
	}
	return engine, reg, nil
}

func buildEmbedder(cfg config.EmbeddingConfig, log zerolog.Logger) (cache.Embedder, error) {
	switch cfg.Provider {
	case "", "hashing":
		return embedding.NewHashing(cfg.Dimensions), nil
	case "openai":
		remote, err := embedding.NewOpenAI(cfg.URL, cfg.APIKey, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		return embedding.NewBreaker(remote, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout,
			log.With().Str("component", "embedding").Logger()), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func buildBackend(cfg *config.Config, log zerolog.Logger) (cache.Synthesizer, error) {
	switch cfg.Backend.Type {
	case "", "simulated":
		return backend.NewSimulated(cfg.Backend.Delay, cfg.Backend.Jitter, cfg.Cache.AvgTokens), nil
	case "openai":
		up, err := backend.NewUpstream(cfg.Backend, log.With().Str("component", "backend").Logger())
		if err != nil {
			return nil, fmt.Errorf("init backend: %w", err)
		}
		return up, nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}
