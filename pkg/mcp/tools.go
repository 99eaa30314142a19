package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/recall/pkg/models"
)

// Tool argument structs.

type queryArgs struct {
	Query string `json:"query"`
}

type auditSearchArgs struct {
	Strategy   string `json:"strategy"`
	Since      string `json:"since"`
	CacheKey   string `json:"cache_key"`
	CachedOnly bool   `json:"cached_only"`
	Limit      int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"recall_query":        handleQuery,
	"recall_stats":        handleStats,
	"recall_audit_search": handleAuditSearch,
	"recall_audit_stats":  handleAuditStats,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "recall_query",
		Description: "Answer a query through the response cache, calling the backend only on a miss.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The query text",
				},
			},
		},
	},
	{
		Name:        "recall_stats",
		Description: "Show cache statistics (requests, hits, misses, hit rate, size, estimated savings).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "recall_audit_search",
		Description: "Search the request audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"strategy": map[string]any{
					"type":        "string",
					"description": "Filter by lookup outcome: exact, semantic or miss (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"cache_key": map[string]any{
					"type":        "string",
					"description": "Filter by cache key (optional)",
				},
				"cached_only": map[string]any{
					"type":        "boolean",
					"description": "Only show requests served from cache (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum rows, default 50 (optional)",
				},
			},
		},
	},
	{
		Name:        "recall_audit_stats",
		Description: "Show audit log request counts and backend tokens by strategy and day.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func handleQuery(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args queryArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Query == "" {
		return errorResult("query is required")
	}
	res, err := s.engine.LookupOrPopulate(ctx, args.Query)
	if err != nil {
		return errorResult("Error answering query: " + err.Error())
	}
	return textResult(formatResult(res))
}

func handleStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.engine == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.engine.Stats()))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		Strategy:   models.Strategy(args.Strategy),
		CacheKey:   args.CacheKey,
		CachedOnly: args.CachedOnly,
		Limit:      50,
	}
	if args.Limit > 0 {
		opts.Limit = args.Limit
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}

func handleAuditStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	stats, err := s.auditor.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching audit stats: " + err.Error())
	}
	return textResult(formatAuditStats(stats))
}
