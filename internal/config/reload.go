// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/vidlint/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
// Readers call Get; a reload either swaps in a fully valid config or keeps the old one.
type Holder struct {
	current atomic.Pointer[AppConfig]
	loader  *Loader
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder creates a new configuration holder with initial config.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	h := &Holder{
		loader: loader,
		logger: xglog.WithComponent("config"),
	}
	h.current.Store(&initial)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	return *h.current.Load()
}

// Reload reloads configuration from file and environment.
// If loading or validation fails, the old configuration is kept and an error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	old := h.current.Swap(&newCfg)
	h.logChanges(*old, newCfg)
	h.notifyListeners(newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// Watch reloads the configuration whenever the YAML file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename are seen.
// Without a config file this returns immediately.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", target).
		Msg("watching config file for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str("event", "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// Sends are non-blocking; a full channel misses that reload.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()

	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the hot-reloadable settings that differ.
func (h *Holder) logChanges(old, newCfg AppConfig) {
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().Str("old", old.Log.Level).Str("new", newCfg.Log.Level).Msg("config changed: log.level")
	}
	if old.Jobs.MaxConcurrent != newCfg.Jobs.MaxConcurrent {
		h.logger.Info().Int("old", old.Jobs.MaxConcurrent).Int("new", newCfg.Jobs.MaxConcurrent).Msg("config changed: jobs.maxConcurrent")
	}
	if old.Jobs.MaxQueue != newCfg.Jobs.MaxQueue {
		h.logger.Info().Int("old", old.Jobs.MaxQueue).Int("new", newCfg.Jobs.MaxQueue).Msg("config changed: jobs.maxQueue")
	}
	if old.Storage.MaxHistoryBytes != newCfg.Storage.MaxHistoryBytes {
		h.logger.Info().Int64("old", old.Storage.MaxHistoryBytes).Int64("new", newCfg.Storage.MaxHistoryBytes).Msg("config changed: storage.maxHistoryBytes")
	}
	if old.Server.ListenAddr != newCfg.Server.ListenAddr {
		h.logger.Warn().Str("old", old.Server.ListenAddr).Str("new", newCfg.Server.ListenAddr).Msg("config changed: server.listenAddr (requires restart)")
	}
	if old.Sessions.Backend != newCfg.Sessions.Backend {
		h.logger.Warn().Str("old", old.Sessions.Backend).Str("new", newCfg.Sessions.Backend).Msg("config changed: sessions.backend (requires restart)")
	}
}
