// SPDX-License-Identifier: MIT

package report

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Record is one discrepancy block reported by the model.
type Record struct {
	Number       int
	Timestamp    string
	Seconds      int
	Error        string
	SubtitleText string
	Correction   string
}

var (
	recordHeader = regexp.MustCompile(`(?i)^\s*(?:[*#]+\s*)?error\s*#\s*(\d+)`)
	recordField  = regexp.MustCompile(`(?i)^\s*(?:[*_]{1,2})?(timestamp|error|subtitle text|correction):(?:[*_]{1,2})?\s*(.*)$`)
)

// ParseRecords extracts discrepancy records from analysis text.
// Chunk headers, notices and free text between records are ignored.
func ParseRecords(text string) []Record {
	var (
		out []Record
		cur *Record
	)
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := recordHeader.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			cur = &Record{Number: n}
			continue
		}
		if cur == nil {
			continue
		}
		m := recordField.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "timestamp":
			cur.Timestamp = value
			if ts := clockValue.FindString(value); ts != "" {
				cur.Seconds, _ = ParseTimestamp(ts)
			}
		case "error":
			cur.Error = value
		case "subtitle text":
			cur.SubtitleText = value
		case "correction":
			cur.Correction = value
		}
	}
	flush()
	return out
}
