// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ManuGH/vidlint/internal/report"
)

var (
	sessionRe  = regexp.MustCompile(`^\[SESSION_ID:([^\]]*)\]$`)
	historyRe  = regexp.MustCompile(`^\[HISTORY_ID:([^\]]*)\]$`)
	queueRe    = regexp.MustCompile(`^\[QUEUE_POSITION:(\d+)\]$`)
	progressRe = regexp.MustCompile(`^\[PROGRESS:(\{.*\})\]$`)
	offsetRe   = regexp.MustCompile(`^\[OFFSET_SECONDS:(\d+)\]$`)
	headerRe   = regexp.MustCompile(`^### Chunk (\d+)/(\d+) \(range (\S+)–(\S+)\)$`)
	chunkErrRe = regexp.MustCompile(`^\[Error\] Chunk (\d+) \(Chunk (\d+)/(\d+)\) failed: (.*)$`)
)

// Decoder parses a marker stream back into events. Text is delivered a line
// at a time; blank lines that only separate markers are dropped.
type Decoder struct {
	r         *bufio.Reader
	pending   []Event
	blank     bool
	sessionID string
	err       error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			if d.blank {
				d.blank = false
				return Text("\n"), nil
			}
			return Event{}, d.err
		}
		d.readLine()
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

func (d *Decoder) readLine() {
	raw, err := d.r.ReadString('\n')
	if err != nil {
		d.err = err
		if !errors.Is(err, io.EOF) || raw == "" {
			return
		}
	}
	line := strings.TrimSuffix(raw, "\n")
	line = strings.TrimSuffix(line, "\r")

	if line == "" && strings.HasSuffix(raw, "\n") {
		if d.blank {
			d.emit(Text("\n"))
		}
		d.blank = true
		return
	}

	if ev, ok := d.marker(line); ok {
		d.blank = false
		if ev.Kind != "" {
			d.emit(ev)
		}
		return
	}
	if d.blank {
		d.blank = false
		d.emit(Text("\n"))
	}
	d.emit(Text(raw))
}

func (d *Decoder) emit(ev Event) {
	d.pending = append(d.pending, ev)
}

// marker recognises a full-line marker. A zero Event with ok=true means the
// line was consumed without producing an event.
func (d *Decoder) marker(line string) (Event, bool) {
	switch {
	case line == "Queued...":
		return Event{}, true
	case strings.HasPrefix(line, "[SESSION_ID:"):
		if m := sessionRe.FindStringSubmatch(line); m != nil {
			d.sessionID = m[1]
			return Event{}, true
		}
	case strings.HasPrefix(line, "[HISTORY_ID:"):
		if m := historyRe.FindStringSubmatch(line); m != nil {
			return IDs(d.sessionID, m[1]), true
		}
	case strings.HasPrefix(line, "[QUEUE_POSITION:"):
		if m := queueRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			return Queue(n), true
		}
	case strings.HasPrefix(line, "[PROGRESS:"):
		if m := progressRe.FindStringSubmatch(line); m != nil {
			var p Progress
			if json.Unmarshal([]byte(m[1]), &p) == nil {
				return Event{Kind: KindProgress, Progress: &p}, true
			}
		}
	case strings.HasPrefix(line, "[OFFSET_SECONDS:"):
		if m := offsetRe.FindStringSubmatch(line); m != nil {
			// The preceding chunk header already carries the start offset.
			return Event{}, true
		}
	case strings.HasPrefix(line, "### Chunk "):
		if m := headerRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			total, _ := strconv.Atoi(m[2])
			start, _ := report.ParseTimestamp(m[3])
			end, _ := report.ParseTimestamp(m[4])
			return ChunkStart(Chunk{Number: num, Total: total, Start: start, End: end}), true
		}
	case strings.HasPrefix(line, "[Info] "):
		return Info(strings.TrimPrefix(line, "[Info] ")), true
	case strings.HasPrefix(line, "[Notice] "):
		return Notice(strings.TrimPrefix(line, "[Notice] ")), true
	case strings.HasPrefix(line, "[Error] "):
		if m := chunkErrRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[2])
			total, _ := strconv.Atoi(m[3])
			return ChunkError(Chunk{Number: num, Total: total}, m[4]), true
		}
		return JobError(strings.TrimPrefix(line, "[Error] ")), true
	}
	return Event{}, false
}
