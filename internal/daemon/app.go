// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/rs/zerolog"
)

// App owns the long-lived runtime lifecycle (config watcher, reload wiring)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	apply        func(config.AppConfig)
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. apply is called with every
// successfully reloaded configuration and may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, apply func(config.AppConfig)) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		apply:        apply,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, gctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: a broken watcher must not take the server down.
	if a.cfgHolder != nil {
		g.Go(func() error {
			if err := a.cfgHolder.Watch(gctx); err != nil {
				a.logger.Warn().Err(err).Str("event", "config.watcher_failed").Msg("config watcher stopped")
			}
			return nil
		})
	}

	if a.cfgHolder != nil && a.apply != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(gctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Main server lifecycle. Start shuts down on its own once gctx ends.
	g.Go(func() error {
		return a.manager.Start(gctx)
	})

	return g.Wait()
}
