package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/recall/pkg/models"
)

// formatResult formats a single lookup outcome.
func formatResult(res models.Result) string {
	var b strings.Builder
	b.WriteString(res.Answer + "\n\n")
	switch {
	case res.Strategy == models.StrategySemantic:
		fmt.Fprintf(&b, "[cache hit: semantic, similarity %.3f, key %s]\n", res.Similarity, shortKey(res.Key))
	case res.Cached:
		fmt.Fprintf(&b, "[cache hit: exact, key %s]\n", shortKey(res.Key))
	case res.Shared:
		fmt.Fprintf(&b, "[cache miss: shared in-flight call, key %s]\n", shortKey(res.Key))
	default:
		fmt.Fprintf(&b, "[cache miss: %d tokens, key %s]\n", res.Tokens, shortKey(res.Key))
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:      %d\n"+
		"  Requests:     %d\n"+
		"  Hits:         %d\n"+
		"  Misses:       %d\n"+
		"  Hit Rate:     %.1f%%\n"+
		"  Tokens Used:  %d\n"+
		"  Cost Savings: $%.4f\n",
		stats.CacheSize, stats.TotalRequests, stats.Hits, stats.Misses,
		stats.HitRate*100, stats.TotalTokens, stats.CostSavings)
}

// formatAuditEntries formats audit log entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %-14s %-9s %6s %8s  %s\n",
		"Time", "Request ID", "Key", "Strategy", "Tokens", "Latency", "Query")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, e := range entries {
		query := e.Query
		if len(query) > 30 {
			query = query[:27] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-20s %-14s %-9s %6d %6dms  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.RequestID, shortKey(e.CacheKey), e.Strategy,
			e.Tokens, e.LatencyMs, query)
	}
	return b.String()
}

// formatAuditStats formats per-strategy daily counts as a text table.
func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-10s %10s %12s\n", "Day", "Strategy", "Requests", "Tokens")
	b.WriteString(strings.Repeat("-", 47) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-10s %10d %12d\n", s.Day, s.Strategy, s.Count, s.Tokens)
	}
	return b.String()
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
