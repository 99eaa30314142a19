package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/recall/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
		MaxBodySize:   1024,
		Include:       []string{"queries", "answers"},
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:  "req-001",
		CacheKey:   "1f2e3d",
		Query:      "Summarize the news today",
		Answer:     "Summarized 'Summarize the news today' (used 3000 tokens)",
		Strategy:   models.StrategyMiss,
		Tokens:     3000,
		StatusCode: 200,
		LatencyMs:  1900,
		CreatedAt:  time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	entry := sampleEntry()
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Strategy: models.StrategyMiss})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.RequestID != "req-001" {
		t.Errorf("expected req-001, got %s", got.RequestID)
	}
	if got.Query != entry.Query || got.Answer != entry.Answer {
		t.Errorf("texts not stored: %+v", got)
	}
	if got.Tokens != 3000 || got.LatencyMs != 1900 || got.Cached {
		t.Errorf("unexpected metadata: %+v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	hit := sampleEntry()
	hit.RequestID = "req-002"
	hit.Strategy = models.StrategySemantic
	hit.Cached = true
	hit.Similarity = 0.97
	hit.CacheKey = "aabbcc"
	_ = l.Log(ctx, hit)

	tests := []struct {
		name string
		opts models.AuditQueryOpts
		want int
	}{
		{"all", models.AuditQueryOpts{}, 2},
		{"request id", models.AuditQueryOpts{RequestID: "req-001"}, 1},
		{"cache key", models.AuditQueryOpts{CacheKey: "aabbcc"}, 1},
		{"cached only", models.AuditQueryOpts{CachedOnly: true}, 1},
		{"strategy", models.AuditQueryOpts{Strategy: models.StrategyExact}, 0},
		{"since future", models.AuditQueryOpts{Since: time.Now().Add(time.Hour)}, 0},
		{"limit", models.AuditQueryOpts{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d, got %d", tt.want, len(entries))
			}
		})
	}

	entries, _ := l.Query(ctx, models.AuditQueryOpts{CachedOnly: true})
	if entries[0].Similarity != 0.97 || entries[0].Strategy != models.StrategySemantic {
		t.Errorf("unexpected hit row: %+v", entries[0])
	}
}

func TestBodyTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Query = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Query) != 16 {
		t.Errorf("expected truncated query len 16, got %d", len(entries[0].Query))
	}
}

func TestIncludeFiltering(t *testing.T) {
	cfg := tempCfg(t)
	cfg.Include = nil
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].Query != "" {
		t.Errorf("expected empty query, got %q", entries[0].Query)
	}
	if entries[0].Answer != "" {
		t.Errorf("expected empty answer, got %q", entries[0].Answer)
	}
	if entries[0].CacheKey != "1f2e3d" {
		t.Errorf("cache key should always be kept, got %q", entries[0].CacheKey)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)
	e3 := sampleEntry()
	e3.RequestID = "req-003"
	e3.Strategy = models.StrategyExact
	e3.Cached = true
	e3.Tokens = 0
	_ = l.Log(ctx, e3)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stats))
	}
	// same day, ordered by strategy
	if stats[0].Strategy != models.StrategyExact || stats[0].Count != 1 {
		t.Errorf("unexpected first row: %+v", stats[0])
	}
	if stats[1].Strategy != models.StrategyMiss || stats[1].Count != 2 || stats[1].Tokens != 6000 {
		t.Errorf("unexpected second row: %+v", stats[1])
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxBodySize = 5
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Query = "héllo" // é is two bytes, so 5 bytes ends mid-rune
	if err := l.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, _ := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	if entries[0].Query != "héll" {
		t.Errorf("expected %q, got %q", "héll", entries[0].Query)
	}
}

func TestStatsDay(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	_ = l.Log(ctx, entry)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Day != "2024-05-01" {
		t.Errorf("unexpected stats: %+v", stats)
	}

	entries, _ := l.Query(ctx, models.AuditQueryOpts{})
	if !entries[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at = %v, want %v", entries[0].CreatedAt, entry.CreatedAt)
	}
}

func TestCloseTwice(t *testing.T) {
	l, err := New(tempCfg(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
