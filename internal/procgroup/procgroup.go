// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs external tools in their own process group so the
// whole tree (ffmpeg, yt-dlp and their helpers) can be stopped together.
package procgroup

import (
	"errors"
	"os/exec"
	"time"

	"github.com/ManuGH/vidlint/internal/metrics"
)

// ErrNotStarted is returned when signalling a command that never started.
var ErrNotStarted = errors.New("process not started")

// Terminate stops the process group of cmd: SIGTERM, then SIGKILL once grace elapses.
// waitCh must deliver the result of cmd.Wait; Terminate always drains it and returns that result.
// Safe to call on nil or unstarted commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("SIGTERM", signalResult(terminate(cmd)))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
		metrics.IncProcTerminate("SIGKILL", signalResult(kill(cmd)))
		err := <-waitCh
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, errGone):
		return "esrch"
	default:
		return "error"
	}
}
