package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pario-ai/recall/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Config holds all recall configuration.
type Config struct {
	Listen    string             `yaml:"listen"`
	Cache     CacheConfig        `yaml:"cache"`
	Embedding EmbeddingConfig    `yaml:"embedding"`
	Backend   BackendConfig      `yaml:"backend"`
	Audit     models.AuditConfig `yaml:"audit"`
	Log       LogConfig          `yaml:"log"`
	Tracing   TracingConfig      `yaml:"tracing"`
}

// CacheConfig controls the response cache engine.
type CacheConfig struct {
	Size      int            `yaml:"size"`
	TTL       time.Duration  `yaml:"ttl"`
	AvgTokens int            `yaml:"avg_tokens"`
	ModelCost float64        `yaml:"model_cost"`
	Semantic  SemanticConfig `yaml:"semantic"`
	// DedupeInflight collapses concurrent misses on the same key into one backend call.
	DedupeInflight bool `yaml:"dedupe_inflight"`
	// MaxInflightBackend bounds concurrent backend calls. Zero means unlimited.
	MaxInflightBackend int `yaml:"max_inflight_backend"`
}

// SemanticConfig controls the embedding similarity lookup.
type SemanticConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// EmbeddingConfig selects and configures the embedder.
// Provider is "hashing" (default) or "openai".
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Dimensions int           `yaml:"dimensions"`
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker around remote embedders.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// BackendConfig selects the answer backend.
// Type is "simulated" (default) or "openai".
type BackendConfig struct {
	Type      string           `yaml:"type"`
	Delay     time.Duration    `yaml:"delay"`
	Jitter    time.Duration    `yaml:"jitter"`
	Model     string           `yaml:"model"`
	MaxTokens int              `yaml:"max_tokens"`
	System    string           `yaml:"system"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
}

// RouterConfig defines model routing and fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an upstream OpenAI-compatible provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// LogConfig controls logging. Format is "console" or "json".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":5000",
		Cache: CacheConfig{
			Size:      2000,
			TTL:       24 * time.Hour,
			AvgTokens: 3000,
			ModelCost: 1.0 / 1_000_000,
			Semantic: SemanticConfig{
				Enabled:   false,
				Threshold: 0.95,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimensions: 256,
			Timeout:    10 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Backend: BackendConfig{
			Type:  "simulated",
			Delay: 1900 * time.Millisecond,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "recall-audit.db",
			RetentionDays: 30,
			Include:       []string{"queries"},
			MaxBodySize:   4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// An empty path yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the PORT/CACHE_SIZE style environment variables.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		cfg.Listen = ":" + v
	}
	if v, ok := os.LookupEnv("CACHE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CACHE_SIZE: %w", err)
		}
		cfg.Cache.Size = n
	}
	if v, ok := os.LookupEnv("TTL_SECONDS"); ok && v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse TTL_SECONDS: %w", err)
		}
		cfg.Cache.TTL = time.Duration(secs * float64(time.Second))
	}
	if v, ok := os.LookupEnv("AVG_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse AVG_TOKENS: %w", err)
		}
		cfg.Cache.AvgTokens = n
	}
	if v, ok := os.LookupEnv("MODEL_COST"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse MODEL_COST: %w", err)
		}
		cfg.Cache.ModelCost = f
	}
	if v, ok := os.LookupEnv("ENABLE_SEMANTIC"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse ENABLE_SEMANTIC: %w", err)
		}
		cfg.Cache.Semantic.Enabled = b
	}
	if v, ok := os.LookupEnv("SIMILARITY_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.Cache.Semantic.Threshold = f
	}
	return nil
}

// Validate checks the configuration for values the engine cannot honor.
func (c *Config) Validate() error {
	return c.Cache.Validate()
}

// Validate checks the cache settings.
func (c CacheConfig) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalid, c.Size)
	case c.TTL <= 0:
		return fmt.Errorf("%w: cache ttl must be positive, got %v", ErrInvalid, c.TTL)
	case c.AvgTokens < 0:
		return fmt.Errorf("%w: avg_tokens must not be negative", ErrInvalid)
	case c.ModelCost < 0:
		return fmt.Errorf("%w: model_cost must not be negative", ErrInvalid)
	case c.MaxInflightBackend < 0:
		return fmt.Errorf("%w: max_inflight_backend must not be negative", ErrInvalid)
	case c.Semantic.Threshold <= -1 || c.Semantic.Threshold > 1:
		return fmt.Errorf("%w: similarity threshold must be in (-1, 1], got %v", ErrInvalid, c.Semantic.Threshold)
	}
	return nil
}
