package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/recall/pkg/models"
)

func newStatsCmd() *cobra.Command {
	var (
		addr    string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache analytics from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, raw, err := fetchAnalytics(ctx, addr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				_, err := out.Write(raw)
				return err
			}
			return printAnalytics(out, a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:5000", "recall server address")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw analytics JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetchAnalytics(ctx context.Context, addr string) (models.Analytics, []byte, error) {
	var a models.Analytics
	url := strings.TrimSuffix(addr, "/") + "/analytics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return a, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return a, nil, fmt.Errorf("fetch analytics: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return a, nil, fmt.Errorf("read analytics: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return a, nil, fmt.Errorf("fetch analytics: unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, nil, fmt.Errorf("decode analytics: %w", err)
	}
	return a, raw, nil
}

func printAnalytics(out io.Writer, a models.Analytics) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "HIT RATE\t%.1f%%\n", a.HitRate*100)
	fmt.Fprintf(w, "REQUESTS\t%d\n", a.TotalRequests)
	fmt.Fprintf(w, "HITS\t%d\n", a.CacheHits)
	fmt.Fprintf(w, "MISSES\t%d\n", a.CacheMisses)
	fmt.Fprintf(w, "ENTRIES\t%d\n", a.CacheSize)
	fmt.Fprintf(w, "COST SAVINGS\t$%.4f\n", a.CostSavings)
	fmt.Fprintf(w, "SAVINGS\t%d%%\n", a.SavingsPercent)
	fmt.Fprintf(w, "STRATEGIES\t%s\n", strings.Join(a.Strategies, ", "))
	return w.Flush()
}
