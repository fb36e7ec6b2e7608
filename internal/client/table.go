// SPDX-License-Identifier: MIT

package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/vidlint/internal/api"
	"github.com/ManuGH/vidlint/internal/history"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(headers))
	return tw
}

// RenderHistory renders entries as a table; created times are relative to now.
func RenderHistory(entries []history.Entry, now time.Time) string {
	if len(entries) == 0 {
		return "No history entries."
	}
	tw := newTable("ID", "Name", "Source", "Created")
	for _, e := range entries {
		created := time.UnixMilli(e.CreatedAt)
		tw.AppendRow(table.Row{e.ID, e.Name, e.Source, humanize.RelTime(created, now, "ago", "from now")})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 48},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// RenderStorage renders history usage against the cap.
func RenderStorage(s api.StorageStats) string {
	tw := newTable("", "Used", "Limit", "Share")
	tw.AppendRow(table.Row{"History", humanize.IBytes(uint64(max(s.Used, 0))), limitLabel(s.Total), share(uint64(max(s.Used, 0)), uint64(max(s.Total, 0)))})
	if s.DiskTotal > 0 {
		used := s.DiskTotal - min(s.DiskFree, s.DiskTotal)
		tw.AppendRow(table.Row{"Disk", humanize.IBytes(used), humanize.IBytes(s.DiskTotal), share(used, s.DiskTotal)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}

func limitLabel(total int64) string {
	if total <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(total))
}

func share(used, total uint64) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(used)*100/float64(total))
}

// RenderSession renders a session status followed by any stored results.
func RenderSession(s api.SessionStatus, now time.Time) string {
	tw := newTable("Field", "Value")
	tw.AppendRow(table.Row{"Session", s.SessionID})
	tw.AppendRow(table.Row{"History", s.HistoryID})
	tw.AppendRow(table.Row{"Status", string(s.Status)})
	if s.QueuePosition > 0 {
		tw.AppendRow(table.Row{"Queue position", s.QueuePosition})
	}
	if s.CreatedAt > 0 {
		tw.AppendRow(table.Row{"Created", humanize.RelTime(time.UnixMilli(s.CreatedAt), now, "ago", "from now")})
	}
	if s.Meta != nil {
		tw.AppendRow(table.Row{"Name", s.Meta.Name})
		tw.AppendRow(table.Row{"Source", s.Meta.Source})
	}
	if s.Error != "" {
		tw.AppendRow(table.Row{"Error", s.Error})
	}

	var b strings.Builder
	b.WriteString(tw.Render())
	if s.ResultsText != "" {
		b.WriteString("\n")
		b.WriteString(s.ResultsText)
	}
	return b.String()
}
