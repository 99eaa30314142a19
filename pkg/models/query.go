package models

// QueryRequest is the body of POST /.
type QueryRequest struct {
	Query string `json:"query" cbor:"query"`
}

// QueryResponse is returned by POST /.
type QueryResponse struct {
	Answer   string `json:"answer"`
	Cached   bool   `json:"cached"`
	Latency  int64  `json:"latency"`
	CacheKey string `json:"cacheKey"`
}

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Endpoints []string `json:"endpoints"`
}

// Analytics is returned by GET /analytics.
type Analytics struct {
	HitRate        float64  `json:"hitRate"`
	TotalRequests  int64    `json:"totalRequests"`
	CacheHits      int64    `json:"cacheHits"`
	CacheMisses    int64    `json:"cacheMisses"`
	CacheSize      int      `json:"cacheSize"`
	CostSavings    float64  `json:"costSavings"`
	SavingsPercent int      `json:"savingsPercent"`
	Strategies     []string `json:"strategies"`
}
