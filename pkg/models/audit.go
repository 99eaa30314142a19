package models

import "time"

// AuditEntry records a single query served by the cache.
type AuditEntry struct {
	RequestID  string    `json:"request_id"`
	CacheKey   string    `json:"cache_key"`
	Query      string    `json:"query,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Strategy   Strategy  `json:"strategy"`
	Cached     bool      `json:"cached"`
	Shared     bool      `json:"shared,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Tokens     int       `json:"tokens"`
	StatusCode int       `json:"status_code"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	Include       []string `yaml:"include"`       // "queries", "answers"
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Strategy   Strategy
	CachedOnly bool
	Since      time.Time
	CacheKey   string
	RequestID  string
	Limit      int
}

// AuditStat holds aggregate audit counts for a strategy/day combination.
type AuditStat struct {
	Strategy Strategy
	Day      string
	Count    int
	Tokens   int64
}
