// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		phase   Phase
		section float64
		want    int
	}{
		{Upload, 0, 0},
		{Upload, 90, 23},
		{Upload, 100, 25},
		{Process, 10, 28},
		{Process, 30, 33},
		{Analyze, 0, 50},
		{Analyze, 50, 63},
		{Complete, 100, 100},
		{Complete, 250, 100},
		{Upload, -5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.phase, tt.section), "%s %.0f", tt.phase.Step(), tt.section)
	}
}

func TestPercentStaysInQuarter(t *testing.T) {
	for _, p := range []Phase{Upload, Process, Analyze, Complete} {
		lo, hi := p.Bounds()
		for s := 0.0; s <= 100; s += 0.5 {
			got := Percent(p, s)
			assert.GreaterOrEqual(t, got, lo)
			assert.LessOrEqual(t, got, hi)
		}
	}
}

func TestTrackerDropsRegressions(t *testing.T) {
	var tr Tracker

	u, ok := tr.Advance(Process, 30, "split")
	assert.True(t, ok)
	assert.Equal(t, 33, u.Percent)

	_, ok = tr.Advance(Upload, 100, "late upload")
	assert.False(t, ok)
	assert.Equal(t, 33, tr.Last())

	u, ok = tr.Advance(Process, 30, "same value, new label")
	assert.True(t, ok)
	assert.Equal(t, "same value, new label", u.Label)
}

func TestChunkRangeAndStreamRatio(t *testing.T) {
	start, end := ChunkRange(1, 4)
	assert.InDelta(t, 25, start, 1e-9)
	assert.InDelta(t, 50, end, 1e-9)

	assert.InDelta(t, 0.25+1.0/150, StreamRatio(1), 1e-9)
	assert.InDelta(t, 0.95, StreamRatio(10000), 1e-9)
}
