// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package inference

import (
	"fmt"
	"strings"

	"github.com/ManuGH/vidlint/internal/report"
)

// BuildPrompt appends the chunk context and the absolute-timestamp instruction
// to the user's prompt. number is 1-based; start and end are seconds on the
// original timeline.
func BuildPrompt(userPrompt string, number, total, start, end int) string {
	startHMS := report.FormatHMS(start)
	endHMS := report.FormatHMS(end)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(userPrompt))
	b.WriteString("\n\nCONTEXT (very important):\n")
	fmt.Fprintf(&b, "- You are analyzing chunk %d of %d of the original video.\n", number, total)
	fmt.Fprintf(&b, "- This chunk corresponds to the original time range %s–%s.\n", startHMS, endHMS)
	b.WriteString("\nTIMESTAMP INSTRUCTION (strict):\n")
	b.WriteString("- Report ALL timestamps in the ORIGINAL full-video timeline.\n")
	fmt.Fprintf(&b, "- Add an offset of +%s to any positions detected within this chunk.\n", startHMS)
	b.WriteString("- Always format timestamps as HH:MM:SS.\n")
	return b.String()
}

// DefaultPrompt asks for a subtitle/audio comparison in the record format
// understood by report.ParseRecords.
const DefaultPrompt = `You are a video quality control expert. Compare the subtitles visible in the video against the spoken audio and report every discrepancy with an exact timestamp.

Check for:
- Punctuation, grammar and spelling errors
- Missing subtitles or missing words that are spoken but not shown
- Extra words shown but not spoken
- Capitalization of names and proper nouns
- Uncensored profanity and unblurred graphic content

Allow about one second of tolerance for subtitles that appear just before or after the speech.

Report EACH error in exactly this format, and nothing else:

Error #1
Timestamp: 00:01:23
Error: Punctuation Error
Subtitle Text: Hello world
Correction: Hello, world

If there are no errors in this range, output a single line: No issues in [timestamp range]`
