// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chunk2 = Chunk{Number: 2, Total: 2, Start: 120, End: 240}

func sampleEvents() []Event {
	return []Event{
		IDs("s1", "j1"),
		Queue(2),
		Queue(1),
		ProgressEvent(28, "Processing…", "process"),
		Info("Video split into 2 chunk(s)"),
		ChunkStart(chunk2),
		Text("Error #1\nTimestamp: 00:02:10\n"),
		RetryNotice(2, 2),
		ChunkError(chunk2, "boom"),
		JobError("Job processing failed: x"),
		Done("failed"),
	}
}

func TestMarkerEncoderWireFormat(t *testing.T) {
	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf)
	for _, ev := range sampleEvents() {
		require.NoError(t, enc.Encode(ev))
	}

	want := "[SESSION_ID:s1]\n[HISTORY_ID:j1]\n" +
		"Queued...\n[QUEUE_POSITION:2]\n" +
		"[QUEUE_POSITION:1]\n" +
		"\n[PROGRESS:{\"pct\":28,\"label\":\"Processing…\",\"step\":\"process\"}]\n" +
		"\n[Info] Video split into 2 chunk(s)\n" +
		"\n### Chunk 2/2 (range 00:02:00–00:04:00)\n[OFFSET_SECONDS:120]\n" +
		"Error #1\nTimestamp: 00:02:10\n" +
		"\n[Notice] Transient error in chunk 2. Retrying attempt 2…\n" +
		"\n[Error] Chunk 2 (Chunk 2/2) failed: boom\n" +
		"\n[Error] Job processing failed: x\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, ContentTypeMarkers, enc.ContentType())
}

func TestDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewMarkerEncoder(&buf)
	for _, ev := range sampleEvents() {
		require.NoError(t, enc.Encode(ev))
	}

	dec := NewDecoder(&buf)
	var got []Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	want := []Event{
		IDs("s1", "j1"),
		Queue(2),
		Queue(1),
		ProgressEvent(28, "Processing…", "process"),
		Info("Video split into 2 chunk(s)"),
		ChunkStart(chunk2),
		Text("Error #1\n"),
		Text("Timestamp: 00:02:10\n"),
		RetryNotice(2, 2),
		ChunkError(Chunk{Number: 2, Total: 2}, "boom"),
		JobError("Job processing failed: x"),
	}
	assert.Equal(t, want, got)
}

func TestDecoderKeepsParagraphBreaksAndTrailingText(t *testing.T) {
	dec := NewDecoder(strings.NewReader("a\n\nb"))
	var texts []string
	for {
		ev, err := dec.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{"a\n", "\n", "b"}, texts)
}

func TestSSEEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "text/event-stream")
	require.Equal(t, ContentTypeSSE, enc.ContentType())

	ev := ProgressEvent(50, "<Analyzing>", "analyze")
	ev.Seq = 7
	require.NoError(t, enc.Encode(ev))
	require.NoError(t, enc.Encode(Text("line one\nline two")))

	want := "id: 7\nevent: progress\ndata: {\"seq\":7,\"kind\":\"progress\",\"progress\":{\"pct\":50,\"label\":\"<Analyzing>\",\"step\":\"analyze\"}}\n\n" +
		"event: text\ndata: {\"kind\":\"text\",\"text\":\"line one\\nline two\"}\n\n"
	assert.Equal(t, want, buf.String())
}

func TestNewEncoderDefaultsToMarkers(t *testing.T) {
	assert.IsType(t, &MarkerEncoder{}, NewEncoder(io.Discard, ""))
	assert.IsType(t, &MarkerEncoder{}, NewEncoder(io.Discard, "text/plain"))
}

func TestResultsText(t *testing.T) {
	assert.Equal(t, "\n### Chunk 2/2 (range 00:02:00–00:04:00)\n", ResultsText(ChunkStart(chunk2)))
	assert.Equal(t, "keep text", ResultsText(Text(`keep [PROGRESS:{"pct":1}]text[OFFSET_SECONDS:9]`)))
	assert.Equal(t, "\n[Error] Chunk 2 (Chunk 2/2) failed: boom\n", ResultsText(ChunkError(chunk2, "boom")))

	for _, ev := range []Event{IDs("s", "j"), Queue(1), ProgressEvent(1, "x", ""), RetryNotice(1, 2), JobError("x"), Done("completed"), Info("x")} {
		assert.Empty(t, ResultsText(ev), ev.Kind)
	}
}
