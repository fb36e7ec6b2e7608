// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package protocol defines the typed job events and their wire encodings:
// the bracket-marker text stream and server-sent events.
package protocol

import (
	"fmt"
	"regexp"

	"github.com/ManuGH/vidlint/internal/report"
)

// Kind discriminates events.
type Kind string

const (
	KindIDs      Kind = "ids"
	KindQueue    Kind = "queue"
	KindProgress Kind = "progress"
	KindInfo     Kind = "info"
	KindChunk    Kind = "chunk"
	KindText     Kind = "text"
	KindNotice   Kind = "notice"
	KindError    Kind = "error"
	KindDone     Kind = "done"
)

// Progress is the payload of a progress marker.
type Progress struct {
	Pct   int    `json:"pct"`
	Label string `json:"label"`
	Step  string `json:"step,omitempty"`
}

// Chunk identifies a chunk on the original timeline. Number is 1-based.
type Chunk struct {
	Number int `json:"number"`
	Total  int `json:"total"`
	Start  int `json:"start"`
	End    int `json:"end"`
}

// Label renders "(Chunk k/N)".
func (c Chunk) Label() string {
	return fmt.Sprintf("(Chunk %d/%d)", c.Number, c.Total)
}

// Event is one item of a job's output stream.
type Event struct {
	Seq  int64 `json:"seq,omitempty"`
	Kind Kind  `json:"kind"`

	SessionID string    `json:"sessionId,omitempty"`
	JobID     string    `json:"historyId,omitempty"`
	Position  int       `json:"position,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	Chunk     *Chunk    `json:"chunk,omitempty"`
	Text      string    `json:"text,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// IDs announces the session and job identifiers.
func IDs(sessionID, jobID string) Event {
	return Event{Kind: KindIDs, SessionID: sessionID, JobID: jobID}
}

// Queue reports a 1-based queue position.
func Queue(position int) Event {
	return Event{Kind: KindQueue, Position: position}
}

// ProgressEvent reports job-wide progress.
func ProgressEvent(pct int, label, step string) Event {
	return Event{Kind: KindProgress, Progress: &Progress{Pct: pct, Label: label, Step: step}}
}

// Info is a one-line informational message.
func Info(msg string) Event {
	return Event{Kind: KindInfo, Text: msg}
}

// ChunkStart opens a chunk section.
func ChunkStart(c Chunk) Event {
	return Event{Kind: KindChunk, Chunk: &c}
}

// Text carries analysis text.
func Text(s string) Event {
	return Event{Kind: KindText, Text: s}
}

// Notice reports a transient condition, such as a retry.
func Notice(msg string) Event {
	return Event{Kind: KindNotice, Text: msg}
}

// RetryNotice is the notice emitted before a chunk call is retried.
func RetryNotice(chunkNumber, nextAttempt int) Event {
	return Notice(fmt.Sprintf("Transient error in chunk %d. Retrying attempt %d…", chunkNumber, nextAttempt))
}

// ChunkError records a failed chunk.
func ChunkError(c Chunk, msg string) Event {
	return Event{Kind: KindError, Chunk: &c, Text: msg}
}

// JobError records a job-fatal failure.
func JobError(msg string) Event {
	return Event{Kind: KindError, Text: msg}
}

// Done terminates the stream with the job's final status.
func Done(status string) Event {
	return Event{Kind: KindDone, Status: status}
}

var (
	progressMarkerRe = regexp.MustCompile(`\[PROGRESS:\{.*?\}\]`)
	offsetMarkerRe   = regexp.MustCompile(`\[OFFSET_SECONDS:\d+\]`)
)

// StripMarkers removes progress and offset markers from model output.
func StripMarkers(s string) string {
	s = progressMarkerRe.ReplaceAllString(s, "")
	return offsetMarkerRe.ReplaceAllString(s, "")
}

// ChunkHeader is the results-file heading of a chunk section.
func ChunkHeader(c Chunk) string {
	return fmt.Sprintf("\n### Chunk %d/%d (range %s)\n", c.Number, c.Total, report.RangeLabel(c.Start, c.End))
}

func errorLine(e Event) string {
	if e.Chunk != nil {
		return fmt.Sprintf("\n[Error] Chunk %d %s failed: %s\n", e.Chunk.Number, e.Chunk.Label(), e.Text)
	}
	return fmt.Sprintf("\n[Error] %s\n", e.Text)
}

// ResultsText returns what e contributes to the durable results file:
// chunk headings, cleaned analysis text and chunk error lines.
func ResultsText(e Event) string {
	switch e.Kind {
	case KindChunk:
		return ChunkHeader(*e.Chunk)
	case KindText:
		return StripMarkers(e.Text)
	case KindError:
		if e.Chunk != nil {
			return errorLine(e)
		}
	}
	return ""
}
