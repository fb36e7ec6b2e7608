// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/ManuGH/vidlint/internal/config"
	"github.com/ManuGH/vidlint/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the server starts.
// It creates the history and upload directories when missing.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	for _, dir := range []struct{ name, path string }{
		{"history", cfg.Storage.HistoryDir},
		{"upload", cfg.Storage.UploadDir},
	} {
		if err := ensureDir(logger, dir.name, dir.path); err != nil {
			return fmt.Errorf("%s directory check failed: %w", dir.name, err)
		}
	}

	if err := checkListenAddr(cfg.Server.ListenAddr); err != nil {
		return err
	}

	if _, err := exec.LookPath(cfg.Media.FFmpegBin); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", cfg.Media.FFmpegBin, err)
	}
	if _, err := exec.LookPath(cfg.Fetch.YTDLPBin); err != nil {
		logger.Warn().
			Str(log.FieldEvent, "startup.ytdlp_missing").
			Str("bin", cfg.Fetch.YTDLPBin).
			Msg("yt-dlp not found; YouTube submissions will fail")
	}
	if cfg.Inference.APIKey == "" {
		logger.Warn().
			Str(log.FieldEvent, "startup.no_api_key").
			Msg("inference API key is empty; every chunk will fail")
	}
	if cfg.Sessions.Backend == "memory" {
		logger.Info().
			Str(log.FieldEvent, "startup.memory_sessions").
			Msg("sessions are kept in memory and lost on restart")
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("startup checks passed")
	return nil
}

func ensureDir(logger zerolog.Logger, name, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return err
	}
	if err := probeWritable(path); err != nil {
		return err
	}
	logger.Debug().Str(log.FieldPath, path).Str("dir", name).Msg("directory is writable")
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}
