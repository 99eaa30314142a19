package models

// Strategy names the lookup path that produced a result.
type Strategy string

const (
	StrategyNone     Strategy = ""
	StrategyExact    Strategy = "exact"
	StrategySemantic Strategy = "semantic"
	StrategyMiss     Strategy = "miss"
)

// Result is the outcome of a single cache lookup.
type Result struct {
	Answer     string   `json:"answer"`
	Cached     bool     `json:"cached"`
	Key        string   `json:"key,omitempty"`
	Strategy   Strategy `json:"strategy,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	// Shared is set when the answer came from another request's in-flight backend call.
	Shared bool `json:"shared,omitempty"`
	// Tokens is the token usage attributed to this request (misses only).
	Tokens int `json:"tokens,omitempty"`
}

// Completion is what a backend returns for a query.
type Completion struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	TotalRequests int64   `json:"total_requests"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalTokens   int64   `json:"total_tokens"`
	CacheSize     int     `json:"cache_size"`
	HitRate       float64 `json:"hit_rate"`
	CostSavings   float64 `json:"cost_savings"`
}
