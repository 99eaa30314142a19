package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics is nil-safe; an engine built without WithMetrics records nothing.
type metrics struct {
	requests       *prometheus.CounterVec
	evictions      prometheus.Counter
	expirations    prometheus.Counter
	embedFailures  prometheus.Counter
	tokens         prometheus.Counter
	entries        prometheus.Gauge
	backendLatency prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_cache_requests_total",
			Help: "Cache lookups by outcome",
		}, []string{"outcome"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_cache_evictions_total",
			Help: "Entries evicted for capacity",
		}),
		expirations: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_cache_expirations_total",
			Help: "Entries removed after their TTL elapsed",
		}),
		embedFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_cache_embedding_failures_total",
			Help: "Embedding calls that failed and fell back to exact match",
		}),
		tokens: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_cache_backend_tokens_total",
			Help: "Tokens consumed by backend calls",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "recall_cache_entries",
			Help: "Entries currently held",
		}),
		backendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_cache_backend_duration_seconds",
			Help:    "Time spent in backend calls on a miss",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *metrics) expired() {
	if m != nil {
		m.expirations.Inc()
	}
}

func (m *metrics) embedFailed() {
	if m != nil {
		m.embedFailures.Inc()
	}
}

func (m *metrics) backend(d time.Duration, tokens int) {
	if m != nil {
		m.backendLatency.Observe(d.Seconds())
		m.tokens.Add(float64(tokens))
	}
}

func (m *metrics) size(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
