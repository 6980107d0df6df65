package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// colorizeUsage highlights the section headings of cobra's usage template.
func colorizeUsage(tmpl string) string {
	heading := color.New(color.FgHiCyan, color.Bold)
	for _, h := range []string{"Usage:", "Aliases:", "Examples:", "Available Commands:", "Flags:", "Global Flags:", "Additional help topics:"} {
		tmpl = strings.ReplaceAll(tmpl, h, heading.Sprint(h))
	}
	return tmpl
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// usageColor grades quota usage: green below 75%, yellow to 100%, red beyond.
func usageColor(pct int) *color.Color {
	switch {
	case pct >= 100:
		return color.New(color.FgRed, color.Bold)
	case pct >= 75:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func statusLabel(s models.OutreachStatus) string {
	switch s {
	case models.OutreachStatusQueued:
		return color.New(color.FgHiBlue).Sprint(s)
	case models.OutreachStatusSent:
		return color.New(color.FgCyan).Sprint(s)
	case models.OutreachStatusResponded:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.OutreachStatusFailed:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgHiBlack).Sprint(s)
	}
}

func renderSummary(w io.Writer, contextName, day string, rows []models.LimitSummary) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s quotas for %s", contextName, day))
	t.AppendHeader(table.Row{"Action", "Current", "Limit", "Remaining", "Used"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			string(r.ActionType),
			r.Current,
			r.Limit,
			r.Remaining,
			usageColor(r.PercentageUsed).Sprintf("%d%%", r.PercentageUsed),
		})
	}
	t.Render()
}

func renderCheck(w io.Writer, res models.DailyLimitResult) {
	verdict := color.New(color.FgGreen, color.Bold).Sprint("allowed")
	if !res.Allowed {
		verdict = color.New(color.FgRed, color.Bold).Sprint("deferred")
	}
	fmt.Fprintf(w, "%s: %s (%d/%d, %d remaining)\n", res.ActionType, verdict, res.Current, res.Limit, res.Remaining)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderItems(w io.Writer, items []models.OutreachItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(no outreach items)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Channel", "Prospect", "Status", "Scheduled", "Sent", "Body"})
	for _, it := range items {
		t.AppendRow(table.Row{
			it.ID,
			string(it.Channel),
			it.ProspectName,
			statusLabel(it.Status),
			formatTime(it.ScheduledFor),
			formatTime(it.SentAt),
			truncate(it.Body, 40),
		})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d items", len(items)), "", "", ""})
	t.Render()
}

func renderStats(w io.Writer, contextName string, start, end time.Time, s models.OutreachStats) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s outreach %s to %s", contextName, start.Format(dateLayout), end.Format(dateLayout)))
	t.AppendHeader(table.Row{"Total", "Queued", "Sent", "Responded", "Failed", "Cancelled", "Response rate"})
	t.AppendRow(table.Row{s.Total, s.Queued, s.Sent, s.Responded, s.Failed, s.Cancelled, fmt.Sprintf("%.1f%%", s.ResponseRate*100)})
	t.Render()
}
