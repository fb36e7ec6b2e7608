// SPDX-License-Identifier: MIT

package client

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/vidlint/internal/protocol"
	"github.com/ManuGH/vidlint/internal/report"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"

	barWidth = 24
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Renderer prints a job's events. Analysis text goes to out; status lines go
// to status so the report can be redirected on its own. On a terminal the
// progress bar is redrawn in place, otherwise each label change is one line.
type Renderer struct {
	out    io.Writer
	status io.Writer
	live   bool

	lastLabel string
	barShown  bool
	final     string
	failed    bool
}

// NewRenderer decides live mode from status.
func NewRenderer(out, status io.Writer) *Renderer {
	return &Renderer{out: out, status: status, live: IsTerminal(status)}
}

// Status returns the final job status once the stream is done.
func (r *Renderer) Status() string { return r.final }

// Failed reports whether the job or any chunk reported an error.
func (r *Renderer) Failed() bool { return r.failed || (r.final != "" && r.final != "completed") }

// Handle renders one event.
func (r *Renderer) Handle(ev protocol.Event) error {
	switch ev.Kind {
	case protocol.KindIDs:
		if ev.SessionID != "" {
			r.line(ansiBlue, "Session %s", ev.SessionID)
		}
		if ev.JobID != "" {
			r.line(ansiBlue, "History %s", ev.JobID)
		}
	case protocol.KindQueue:
		r.line(ansiYellow, "Queued at position %d", ev.Position)
	case protocol.KindProgress:
		if ev.Progress != nil {
			r.progress(*ev.Progress)
		}
	case protocol.KindInfo:
		r.line("", "%s", ev.Text)
	case protocol.KindNotice:
		r.line(ansiYellow, "%s", ev.Text)
	case protocol.KindError:
		r.failed = true
		if ev.Chunk != nil {
			r.line(ansiRed, "Chunk %d %s failed: %s", ev.Chunk.Number, ev.Chunk.Label(), ev.Text)
		} else {
			r.line(ansiRed, "Error: %s", ev.Text)
		}
	case protocol.KindChunk:
		if ev.Chunk != nil {
			r.clearBar()
			fmt.Fprintf(r.out, "\n### Chunk %d/%d (%s)\n", ev.Chunk.Number, ev.Chunk.Total,
				report.RangeLabel(ev.Chunk.Start, ev.Chunk.End))
		}
	case protocol.KindText:
		r.clearBar()
		if _, err := io.WriteString(r.out, protocol.StripMarkers(ev.Text)); err != nil {
			return err
		}
	case protocol.KindDone:
		r.final = ev.Status
		r.clearBar()
	}
	return nil
}

// Finish ends a live progress line. Streams without a done event (the plain
// marker format) end here.
func (r *Renderer) Finish() {
	r.clearBar()
	if r.final == "" && !r.failed {
		r.final = "completed"
	}
}

func (r *Renderer) progress(p protocol.Progress) {
	if !r.live {
		if p.Label != r.lastLabel {
			r.lastLabel = p.Label
			fmt.Fprintf(r.status, "[%3d%%] %s\n", p.Pct, p.Label)
		}
		return
	}
	pct := min(max(p.Pct, 0), 100)
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(r.status, "\r\x1b[2K%s %3d%% %s", bar, pct, p.Label)
	r.barShown = true
	r.lastLabel = p.Label
}

func (r *Renderer) clearBar() {
	if r.barShown {
		fmt.Fprint(r.status, "\r\x1b[2K")
		r.barShown = false
	}
}

func (r *Renderer) line(color, format string, args ...any) {
	r.clearBar()
	msg := fmt.Sprintf(format, args...)
	if r.live && color != "" {
		msg = color + msg + ansiReset
	}
	fmt.Fprintln(r.status, msg)
}
