// SPDX-License-Identifier: MIT

package report

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFormatHMS(t *testing.T) {
	tests := map[int]string{
		-5:    "00:00:00",
		0:     "00:00:00",
		59:    "00:00:59",
		120:   "00:02:00",
		3725:  "01:02:05",
		36000: "10:00:00",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatHMS(in), in)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00:10", 10, true},
		{"01:23", 83, true},
		{"1:02:03", 3723, true},
		{" 00:02:10 ", 130, true},
		{"00:60", 0, false},
		{"10", 0, false},
		{"a:bb", 0, false},
		{"1:2:3:4", 0, false},
		{"00:123", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestRangeLabel(t *testing.T) {
	assert.Equal(t, "00:02:00–00:04:00", RangeLabel(120, 240))
}

func TestRebaserRewritesChunkRelative(t *testing.T) {
	r := NewRebaser(120, 240)

	out := r.Feed("Error #1\nTimestamp: 00:00:10\nError: Spelling\n")
	assert.Equal(t, "Error #1\nTimestamp: 00:02:10\nError: Spelling\n", out)
}

func TestRebaserKeepsAbsolute(t *testing.T) {
	r := NewRebaser(120, 240)
	assert.Equal(t, "Timestamp: 00:02:30\n", r.Feed("Timestamp: 00:02:30\n"))
}

func TestRebaserFirstChunkUntouched(t *testing.T) {
	r := NewRebaser(0, 120)
	assert.Equal(t, "Timestamp: 00:00:10\n", r.Feed("Timestamp: 00:00:10\n"))
}

func TestRebaserOutOfRangeUntouched(t *testing.T) {
	// start+t lands far past the chunk end: not a chunk-relative value.
	r := NewRebaser(600, 720)
	assert.Equal(t, "Timestamp: 00:09:00\n", r.Feed("Timestamp: 00:09:00\n"))
}

func TestRebaserTolerance(t *testing.T) {
	r := NewRebaser(120, 230)
	assert.Equal(t, "Timestamp: 00:03:54\n", r.Feed("Timestamp: 00:01:54\n"), "within +5s")

	r = NewRebaser(120, 230)
	assert.Equal(t, "Timestamp: 00:01:59\n", r.Feed("Timestamp: 00:01:59\n"), "beyond tolerance")
}

func TestRebaserBuffersPartialLines(t *testing.T) {
	r := NewRebaser(120, 240)
	var out strings.Builder
	for _, frag := range []string{"Error #1\nTime", "stamp: 00:0", "0:10\nCorr", "ection: x"} {
		out.WriteString(r.Feed(frag))
	}
	assert.Equal(t, "Error #1\nTimestamp: 00:02:10\nCorrection: x", out.String())
	assert.Empty(t, r.Flush())
}

func TestRebaserStreamsOtherTextImmediately(t *testing.T) {
	r := NewRebaser(120, 240)
	assert.Equal(t, "The subtitles in this", r.Feed("The subtitles in this"))
	assert.Equal(t, " chunk look fine.\n", r.Feed(" chunk look fine.\n"))

	assert.Empty(t, r.Feed("- Time"), "a possible field is held back")
	assert.Equal(t, "- Timestamp: 00:02:10\n", r.Feed("stamp: 00:00:10\n"))

	assert.Empty(t, r.Feed("12"))
	assert.Equal(t, "12) Timestamp: 00:02:01\n", r.Feed(") Timestamp: 00:00:01\n"))

	assert.Equal(t, "**Error:** x", r.Feed("**Error:** x"))
	assert.Empty(t, r.Flush())
}

func TestRebaserFieldVariants(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Timestamp: 00:00:10\n", "Timestamp: 00:02:10\n"},
		{"- Timestamp: 00:00:10\n", "- Timestamp: 00:02:10\n"},
		{"* Timestamp: 00:00:10\n", "* Timestamp: 00:02:10\n"},
		{"• Timestamp: 00:00:10\n", "• Timestamp: 00:02:10\n"},
		{"1. Timestamp: 00:00:10\n", "1. Timestamp: 00:02:10\n"},
		{"2) timestamp: 00:00:10\n", "2) timestamp: 00:02:10\n"},
		{"**Timestamp**: 00:00:10\n", "**Timestamp**: 00:02:10\n"},
		{"- **Timestamp:** 00:00:10\n", "- **Timestamp:** 00:02:10\n"},
		{"  _Timestamp_ : 00:00:10\n", "  _Timestamp_ : 00:02:10\n"},
		{"Subtitle Text: at 00:00:10 we see\n", "Subtitle Text: at 00:00:10 we see\n"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRebaser(120, 240).Feed(tt.in))
		})
	}
}

func TestRebaserMarkdownAndMMSS(t *testing.T) {
	r := NewRebaser(120, 240)
	assert.Equal(t, "**Timestamp:** 00:02:15 - 00:02:18\n", r.Feed("**Timestamp:** 00:15 - 00:18\n"))
}

func TestRebaserFlushRewritesTrailingLine(t *testing.T) {
	r := NewRebaser(120, 240)
	assert.Empty(t, r.Feed("Timestamp: 00:00:05"))
	assert.Equal(t, "Timestamp: 00:02:05", r.Flush())
}

func TestParseRecords(t *testing.T) {
	text := `
### Chunk 1/2 (range 00:00:00–00:02:00)
Error #1
Timestamp: 00:00:10
Error: Spelling Error
Subtitle Text: The reciept
Correction: The receipt

Error #2
Timestamp: 00:01:45
Error: Capitalization Error
Subtitle Text: it's a nice day
Correction: It's a nice day

[Error] Chunk 2 (Chunk 2/2) failed: boom
No issues in 00:02:00–00:04:00
`
	want := []Record{
		{Number: 1, Timestamp: "00:00:10", Seconds: 10, Error: "Spelling Error", SubtitleText: "The reciept", Correction: "The receipt"},
		{Number: 2, Timestamp: "00:01:45", Seconds: 105, Error: "Capitalization Error", SubtitleText: "it's a nice day", Correction: "It's a nice day"},
	}
	if diff := cmp.Diff(want, ParseRecords(text)); diff != "" {
		t.Errorf("ParseRecords mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRecordsEmpty(t *testing.T) {
	assert.Empty(t, ParseRecords("No issues in 00:00:00–00:02:00\n"))
}
