package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/recall/pkg/config"
)

// setupLogging configures the global logger. Output always goes to stderr so
// the mcp command can keep stdout for JSON-RPC.
func setupLogging(cfg config.LogConfig) error {
	return configureLogger(cfg, os.Stderr)
}

func configureLogger(cfg config.LogConfig, out io.Writer) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		level = l
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	w := out
	if cfg.Format == "" || cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	return nil
}
