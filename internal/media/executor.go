// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/ManuGH/vidlint/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	defaultTailLines = 100
	defaultKillGrace = 5 * time.Second
)

// Executor runs an external tool in its own process group and keeps the tail of its stderr.
type Executor struct {
	BinaryPath string
	KillGrace  time.Duration
	TailLines  int
	Logger     zerolog.Logger
}

// NewExecutor returns an Executor for binaryPath.
func NewExecutor(binaryPath string, killGrace time.Duration, logger zerolog.Logger) *Executor {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &Executor{
		BinaryPath: binaryPath,
		KillGrace:  killGrace,
		TailLines:  defaultTailLines,
		Logger:     logger,
	}
}

// LookPath resolves the binary, returning ErrToolMissing when absent.
func (e *Executor) LookPath() (string, error) {
	p, err := exec.LookPath(e.BinaryPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, e.BinaryPath)
	}
	return p, nil
}

// Run executes the binary with args and waits for it.
// Cancelling ctx terminates the whole process group (SIGTERM, then SIGKILL after KillGrace).
// The returned lines are the last stderr lines, useful for diagnostics on failure.
func (e *Executor) Run(ctx context.Context, args ...string) ([]string, error) {
	return e.RunObserved(ctx, nil, args...)
}

// RunObserved is Run with every stderr line passed to observe first.
// Lines for which observe returns true are kept out of the returned tail.
func (e *Executor) RunObserved(ctx context.Context, observe func(string) bool, args ...string) ([]string, error) {
	// #nosec G204 -- binary comes from operator config; arguments are built internally
	cmd := exec.Command(e.BinaryPath, args...)
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec start failed: %w", err)
	}

	ring := NewRingBuffer(e.TailLines)
	waitCh := make(chan error, 1)
	go func() {
		scanStderr(stderr, ring, observe)
		// Wait only after stderr is drained.
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		if err != nil {
			return ring.GetAll(), fmt.Errorf("%s exited: %w", e.BinaryPath, err)
		}
		return ring.GetAll(), nil
	case <-ctx.Done():
		e.Logger.Warn().
			Str("event", "exec.cancelled").
			Int("pid", cmd.Process.Pid).
			Msg("context cancelled, terminating process group")
		_ = procgroup.Terminate(cmd, waitCh, e.KillGrace)
		return ring.GetAll(), ctx.Err()
	}
}

func scanStderr(r io.Reader, ring *RingBuffer, observe func(string) bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if observe != nil && observe(line) {
			continue
		}
		ring.Add(line)
	}
	// Keep the pipe drained if the scanner gave up on an oversized line.
	_, _ = io.Copy(io.Discard, r)
}

// scanLinesOrCR splits on \n or \r; ffmpeg redraws its status line with \r.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
