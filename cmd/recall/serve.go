package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/recall/pkg/audit"
	"github.com/pario-ai/recall/pkg/config"
	"github.com/pario-ai/recall/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the caching HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			shutdownTracing, err := setupTracing(cfg.Tracing.Enabled)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			engine, reg, err := buildEngine(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			opts := []server.Option{
				server.WithLogger(log.Logger),
				server.WithGatherer(reg),
			}
			if cfg.Audit.Enabled {
				auditor, err := audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
				opts = append(opts, server.WithAuditor(auditor))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Int("size", cfg.Cache.Size).
				Dur("ttl", cfg.Cache.TTL).
				Bool("semantic", cfg.Cache.Semantic.Enabled).
				Str("backend", cfg.Backend.Type).
				Msg("starting recall")
			return server.New(cfg, engine, opts...).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults and environment when empty)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides config")
	return cmd
}
