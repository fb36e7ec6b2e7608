// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package progress maps per-phase progress onto the four fixed quarters of a
// job's 0-100 range.
package progress

import (
	"math"
	"sync"
)

// Phase is one quarter of a job's progress range.
type Phase int

const (
	Upload   Phase = iota // 0-25
	Process               // 25-50
	Analyze               // 50-75
	Complete              // 75-100
)

const quarter = 25.0

// Step returns the stepper key sent to clients.
func (p Phase) Step() string {
	switch p {
	case Upload:
		return "upload"
	case Process:
		return "process"
	case Analyze:
		return "analyze"
	case Complete:
		return "complete"
	}
	return ""
}

// Bounds returns the inclusive percentage range owned by p.
func (p Phase) Bounds() (lo, hi int) {
	lo = int(p) * int(quarter)
	return lo, lo + int(quarter)
}

// Update is one emitted progress value.
type Update struct {
	Percent int
	Label   string
	Phase   Phase
}

// Percent converts a section-relative percentage into the job-wide value.
// sectionPct is clamped to [0,100].
func Percent(phase Phase, sectionPct float64) int {
	sectionPct = math.Max(0, math.Min(100, sectionPct))
	if phase < Upload {
		phase = Upload
	}
	if phase > Complete {
		phase = Complete
	}
	return int(math.Round(float64(phase)*quarter + sectionPct/100*quarter))
}

// Tracker enforces a non-decreasing progress sequence for one job.
type Tracker struct {
	mu      sync.Mutex
	last    int
	started bool
}

// Advance computes the job-wide percentage and reports whether it should be
// emitted. Values below the last emitted one are dropped.
func (t *Tracker) Advance(phase Phase, sectionPct float64, label string) (Update, bool) {
	pct := Percent(phase, sectionPct)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started && pct < t.last {
		return Update{}, false
	}
	t.started = true
	t.last = pct
	return Update{Percent: pct, Label: label, Phase: phase}, true
}

// Last returns the last emitted percentage.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// ChunkRange returns the Analyze-section range [start, end] owned by chunk
// index i of total, as section percentages.
func ChunkRange(i, total int) (start, end float64) {
	if total < 1 {
		return 0, 100
	}
	size := 100 / float64(total)
	return float64(i) * size, float64(i+1) * size
}

// StreamRatio is the share of a chunk's streaming span reached after count
// fragments: it starts at 25% and saturates at 95% after ~150 fragments.
func StreamRatio(count int) float64 {
	return math.Min(0.95, 0.25+float64(count)/150)
}
