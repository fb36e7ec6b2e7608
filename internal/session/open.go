// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/ManuGH/vidlint/internal/metrics"
	"github.com/rs/zerolog"
)

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.SessionsConfig, logger zerolog.Logger) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		st = NewMemoryStore()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, err
		}
		st, err = NewSqliteStore(ctx, cfg.Path, logger)
	case "redis":
		st, err = NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case "badger":
		st, err = OpenBadgerStore(cfg.Path, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
	if err != nil {
		metrics.RecordSessionStoreError(cfg.Backend, "open")
		return nil, fmt.Errorf("open %s session store: %w", cfg.Backend, err)
	}

	logger.Info().
		Str("event", "session.store_opened").
		Str("backend", cfg.Backend).
		Msg("session store ready")
	return st, nil
}
