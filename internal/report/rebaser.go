// SPDX-License-Identifier: MIT

package report

import (
	"regexp"
	"strings"
)

// DefaultTolerance is the slack, in seconds, allowed past a chunk's end when
// deciding whether a timestamp is chunk-relative.
const DefaultTolerance = 5

const fieldKey = "timestamp"

var (
	// timestampField accepts an optional list marker and markdown emphasis
	// around the key: "- Timestamp:", "1. Timestamp:", "**Timestamp:**", "**Timestamp**:".
	timestampField = regexp.MustCompile(`(?i)^(\s*(?:(?:[-*•+]|\d+[.)])\s+)?(?:[*_]{1,2})?timestamp(?:[*_]{1,2})?\s*:(?:[*_]{1,2})?\s*)(.*)$`)
	fieldLead      = regexp.MustCompile(`^\s*(?:(?:[-*•+]|\d+[.)])\s+)?[*_]{0,2}`)
	partialMarker  = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)]?)?$`)
	clockValue     = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
)

// Rebaser rewrites chunk-relative "Timestamp:" values onto the original timeline.
//
// Only lines that may still turn into a timestamp field are held back until
// their newline; any other text is returned as soon as it is fed.
//
// A value t is treated as chunk-relative when t < start and start+t <= end+tolerance.
// Values already in absolute time pass through unchanged. The first chunk (start 0)
// is never rewritten.
type Rebaser struct {
	start     int
	end       int
	tolerance int
	pending   strings.Builder
	// passthrough is set while the current line is known not to be a field.
	passthrough bool
}

// NewRebaser returns a Rebaser for the chunk covering [start, end] seconds.
func NewRebaser(start, end int) *Rebaser {
	return &Rebaser{start: start, end: end, tolerance: DefaultTolerance}
}

// Feed consumes a fragment and returns the text that is ready for output.
func (r *Rebaser) Feed(fragment string) string {
	if r.start <= 0 {
		return fragment
	}
	var out strings.Builder
	for fragment != "" {
		piece := fragment
		nl := strings.IndexByte(fragment, '\n')
		if nl >= 0 {
			piece = fragment[:nl+1]
		}
		fragment = fragment[len(piece):]

		switch {
		case r.passthrough:
			out.WriteString(piece)
		case nl >= 0:
			r.pending.WriteString(piece)
			out.WriteString(r.rewrite(r.pending.String()))
			r.pending.Reset()
		default:
			r.pending.WriteString(piece)
			if !undecided(r.pending.String()) {
				out.WriteString(r.pending.String())
				r.pending.Reset()
				r.passthrough = true
			}
		}
		if nl >= 0 {
			r.passthrough = false
		}
	}
	return out.String()
}

// Flush returns whatever partial line is still buffered.
func (r *Rebaser) Flush() string {
	rest := r.pending.String()
	r.pending.Reset()
	r.passthrough = false
	return r.rewrite(rest)
}

// undecided reports whether the start of a line may still become a
// timestamp field.
func undecided(line string) bool {
	if partialMarker.MatchString(line) {
		return true
	}
	rest := strings.ToLower(line[len(fieldLead.FindString(line)):])
	if len(rest) <= len(fieldKey) {
		return strings.HasPrefix(fieldKey, rest)
	}
	return strings.HasPrefix(rest, fieldKey)
}

func (r *Rebaser) rewrite(line string) string {
	if r.start <= 0 || line == "" {
		return line
	}
	body := strings.TrimRight(line, "\r\n")
	eol := line[len(body):]
	m := timestampField.FindStringSubmatchIndex(body)
	if m == nil {
		return line
	}
	prefix, value := body[:m[3]], body[m[4]:m[5]]
	return prefix + clockValue.ReplaceAllStringFunc(value, r.rebase) + eol
}

func (r *Rebaser) rebase(v string) string {
	t, ok := ParseTimestamp(v)
	if !ok || t >= r.start {
		return v
	}
	abs := r.start + t
	if abs > r.end+r.tolerance {
		return v
	}
	return FormatHMS(abs)
}
