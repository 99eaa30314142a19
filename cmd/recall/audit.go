package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/recall/pkg/audit"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the request audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		strategy   string
		since      string
		cacheKey   string
		cachedOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.AuditQueryOpts{
				Strategy:   models.Strategy(strategy),
				CacheKey:   cacheKey,
				CachedOnly: cachedOnly,
				Limit:      limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			return printAuditEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&strategy, "strategy", "", "filter by strategy (exact, semantic, miss)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&cacheKey, "key", "", "filter by cache key")
	cmd.Flags().BoolVar(&cachedOnly, "cached", false, "only cache hits")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var (
		configPath string
		requestID  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Fprintf(out, "Request ID:    %s\n", e.RequestID)
			fmt.Fprintf(out, "Cache Key:     %s\n", e.CacheKey)
			fmt.Fprintf(out, "Strategy:      %s\n", e.Strategy)
			fmt.Fprintf(out, "Cached:        %t\n", e.Cached)
			if e.Strategy == models.StrategySemantic {
				fmt.Fprintf(out, "Similarity:    %.4f\n", e.Similarity)
			}
			if e.Shared {
				fmt.Fprintln(out, "Shared:        true")
			}
			fmt.Fprintf(out, "Tokens:        %d\n", e.Tokens)
			fmt.Fprintf(out, "Status:        %d\n", e.StatusCode)
			fmt.Fprintf(out, "Latency:       %dms\n", e.LatencyMs)
			fmt.Fprintf(out, "Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.Query != "" {
				fmt.Fprintf(out, "\n--- Query ---\n%s\n", e.Query)
			}
			if e.Answer != "" {
				fmt.Fprintf(out, "\n--- Answer ---\n%s\n", e.Answer)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit request counts by strategy and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			return printAuditStats(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func printAuditEntries(out io.Writer, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No audit entries found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tKEY\tSTRATEGY\tCACHED\tTOKENS\tLATENCY\tTIME")
	for _, e := range entries {
		key := e.CacheKey
		if len(key) > 12 {
			key = key[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%dms\t%s\n",
			e.RequestID, key, e.Strategy, e.Cached, e.Tokens, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printAuditStats(out io.Writer, stats []models.AuditStat) error {
	if len(stats) == 0 {
		_, err := fmt.Fprintln(out, "No audit stats found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tSTRATEGY\tREQUESTS\tTOKENS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Day, s.Strategy, s.Count, s.Tokens)
	}
	return w.Flush()
}
