// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the vidlint analysis server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/ManuGH/vidlint/internal/daemon"
	"github.com/ManuGH/vidlint/internal/health"
	xglog "github.com/ManuGH/vidlint/internal/log"
	"github.com/ManuGH/vidlint/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

// resolveConfigPath prefers the flag, then VIDLINT_CONFIG.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(config.ParseString(config.EnvPrefix+"CONFIG", ""))
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "vidlint",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting vidlint")
	logger.Info().Msgf("→ History: %s (cap %d bytes)", cfg.Storage.HistoryDir, cfg.Storage.MaxHistoryBytes)
	logger.Info().Msgf("→ Jobs: %d concurrent, queue %d", cfg.Jobs.MaxConcurrent, cfg.Jobs.MaxQueue)
	logger.Info().Msgf("→ Sessions: %s", cfg.Sessions.Backend)
	if cfg.Inference.BaseURL != "" {
		logger.Info().Msgf("→ Inference endpoint: %s", maskURL(cfg.Inference.BaseURL))
	}
	if cfg.Archive.Enabled {
		logger.Info().Msgf("→ Archive: s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	rt, err := daemon.Build(ctx, cfg, daemon.Options{
		Version: version.Version,
		Logger:  logger,
	})
	if err != nil {
		event := "daemon.build_failed"
		if errors.Is(err, daemon.ErrLocked) {
			event = "daemon.locked"
		}
		logger.Fatal().
			Err(err).
			Str("event", event).
			Msg("failed to assemble daemon")
	}

	holder := config.NewHolder(cfg, loader)
	app := daemon.NewApp(logger, rt.Manager, holder, rt.Apply)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}
