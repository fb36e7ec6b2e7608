// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog detects ffmpeg runs that stop making progress, based on
// the key=value blocks ffmpeg writes with -progress.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrStalled is returned by Run when ffmpeg stopped reporting progress.
var ErrStalled = errors.New("ffmpeg made no progress")

type State int

const (
	StateStarting State = iota
	StateRunning
	StateStalled
	StateTimedOut
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateTimedOut:
		return "timed_out"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Watchdog enforces a start timeout (no progress at all) and a stall timeout
// (progress stopped advancing).
type Watchdog struct {
	mu sync.RWMutex

	startTimeout time.Duration
	stallTimeout time.Duration
	interval     time.Duration

	lastOutTimeUs int64
	lastTotalSize int64
	lastFrame     int64
	lastHeartbeat time.Time

	state     State
	ended     chan struct{}
	endedOnce sync.Once

	clock clock
}

// New creates a watchdog. A zero startTimeout uses stallTimeout.
func New(startTimeout, stallTimeout time.Duration) *Watchdog {
	if startTimeout <= 0 {
		startTimeout = stallTimeout
	}
	interval := time.Second
	if stallTimeout > 0 && stallTimeout < 4*interval {
		interval = stallTimeout / 4
	}
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		interval:     interval,
		ended:        make(chan struct{}),
		clock:        realClock{},
	}
}

// Run checks progress until ctx ends or ffmpeg reports the end of its output.
// It returns an error wrapping ErrStalled on a timeout.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.mu.Unlock()

	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.ended:
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

// ParseLine consumes one line of -progress output. It reports whether the
// line was a progress key, so callers can keep it out of their stderr tail.
func (w *Watchdog) ParseLine(line string) bool {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch key {
	case "out_time_us", "out_time_ms":
		// Both carry microseconds in current ffmpeg releases.
		if us, err := strconv.ParseInt(val, 10, 64); err == nil && us > w.lastOutTimeUs {
			w.lastOutTimeUs = us
			w.recordHeartbeat()
		}
	case "total_size":
		if size, err := strconv.ParseInt(val, 10, 64); err == nil && size > w.lastTotalSize {
			w.lastTotalSize = size
			w.recordHeartbeat()
		}
	case "frame":
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > w.lastFrame {
			w.lastFrame = n
			w.recordHeartbeat()
		}
	case "progress":
		if val == "end" {
			w.state = StateCompleted
			w.endedOnce.Do(func() { close(w.ended) })
		}
	case "fps", "bitrate", "out_time", "dup_frames", "drop_frames", "speed", "stream_0_0_q":
	default:
		return false
	}
	return true
}

func (w *Watchdog) recordHeartbeat() {
	w.lastHeartbeat = w.clock.Now()
	if w.state == StateStarting {
		w.state = StateRunning
	}
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case StateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = StateTimedOut
			return fmt.Errorf("%w: no progress within %s", ErrStalled, w.startTimeout)
		}
	case StateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = StateStalled
			return fmt.Errorf("%w for %s", ErrStalled, w.stallTimeout)
		}
	}
	return nil
}

// State returns current watchdog state.
func (w *Watchdog) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}
