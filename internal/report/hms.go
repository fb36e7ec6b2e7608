// SPDX-License-Identifier: MIT

// Package report handles the analysis text produced per chunk: timestamp
// formatting, rebasing onto the original timeline and record parsing.
package report

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatHMS renders whole seconds as HH:MM:SS. Negative input renders as 00:00:00.
func FormatHMS(total int) string {
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseTimestamp accepts HH:MM:SS, H:MM:SS or MM:SS and returns seconds.
func ParseTimestamp(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0
	for i, p := range parts {
		if p == "" || len(p) > 2 && i > 0 {
			return 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		if i > 0 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// RangeLabel renders "HH:MM:SS–HH:MM:SS" (en dash) for a chunk range.
func RangeLabel(start, end int) string {
	return FormatHMS(start) + "–" + FormatHMS(end)
}
