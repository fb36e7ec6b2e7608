// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Content types of the two encodings.
const (
	ContentTypeMarkers = "text/plain; charset=utf-8"
	ContentTypeSSE     = "text/event-stream"
)

// Encoder writes events to a response body.
type Encoder interface {
	Encode(Event) error
	ContentType() string
}

// NewEncoder picks the encoding for an Accept header.
func NewEncoder(w io.Writer, accept string) Encoder {
	if strings.Contains(accept, ContentTypeSSE) {
		return NewSSEEncoder(w)
	}
	return NewMarkerEncoder(w)
}

// MarkerEncoder renders the bracket-marker text stream.
type MarkerEncoder struct {
	w      io.Writer
	queued bool
}

// NewMarkerEncoder returns a MarkerEncoder writing to w.
func NewMarkerEncoder(w io.Writer) *MarkerEncoder {
	return &MarkerEncoder{w: w}
}

// ContentType implements Encoder.
func (e *MarkerEncoder) ContentType() string { return ContentTypeMarkers }

// Encode implements Encoder.
func (e *MarkerEncoder) Encode(ev Event) error {
	s, err := e.render(ev)
	if err != nil || s == "" {
		return err
	}
	_, err = io.WriteString(e.w, s)
	return err
}

func (e *MarkerEncoder) render(ev Event) (string, error) {
	switch ev.Kind {
	case KindIDs:
		return fmt.Sprintf("[SESSION_ID:%s]\n[HISTORY_ID:%s]\n", ev.SessionID, ev.JobID), nil
	case KindQueue:
		if !e.queued {
			e.queued = true
			return fmt.Sprintf("Queued...\n[QUEUE_POSITION:%d]\n", ev.Position), nil
		}
		return fmt.Sprintf("[QUEUE_POSITION:%d]\n", ev.Position), nil
	case KindProgress:
		payload, err := marshal(ev.Progress)
		if err != nil {
			return "", err
		}
		return "\n[PROGRESS:" + payload + "]\n", nil
	case KindInfo:
		return "\n[Info] " + ev.Text + "\n", nil
	case KindChunk:
		return ChunkHeader(*ev.Chunk) + fmt.Sprintf("[OFFSET_SECONDS:%d]\n", ev.Chunk.Start), nil
	case KindText:
		return ev.Text, nil
	case KindNotice:
		return "\n[Notice] " + ev.Text + "\n", nil
	case KindError:
		return errorLine(ev), nil
	case KindDone:
		return "", nil
	}
	return "", fmt.Errorf("unknown event kind %q", ev.Kind)
}

// SSEEncoder renders server-sent events.
type SSEEncoder struct {
	w io.Writer
}

// NewSSEEncoder returns an SSEEncoder writing to w.
func NewSSEEncoder(w io.Writer) *SSEEncoder {
	return &SSEEncoder{w: w}
}

// ContentType implements Encoder.
func (e *SSEEncoder) ContentType() string { return ContentTypeSSE }

// Encode implements Encoder.
func (e *SSEEncoder) Encode(ev Event) error {
	data, err := marshal(ev)
	if err != nil {
		return err
	}
	var b strings.Builder
	if ev.Seq > 0 {
		fmt.Fprintf(&b, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev.Kind, data)
	_, err = io.WriteString(e.w, b.String())
	return err
}

// marshal encodes v without HTML escaping and without the trailing newline.
func marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
