package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/recall/pkg/audit"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start recall as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			engine, _, err := buildEngine(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			// A nil *audit.Logger must not reach the interface.
			var searcher mcp.AuditSearcher
			if cfg.Audit.Enabled {
				auditor, err := audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
				searcher = auditor
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Msg("recall mcp server ready on stdio")
			return mcp.New(engine, searcher, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults and environment when empty)")
	return cmd
}
