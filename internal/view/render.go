package view

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"clawdscan/internal/format"
	"clawdscan/internal/model"
	"clawdscan/internal/record"
)

// maxToolRows is the number of tools listed in the summary.
const maxToolRows = 10

func renderSummary(sh model.SessionHealth, now time.Time, width int, p palette) []string {
	s := sh.Summary
	sev := sh.Verdict.Severity()
	var lines []string
	add := func(layout string, args ...any) {
		lines = append(lines, fmt.Sprintf(layout, args...))
	}
	section := func(title string) {
		lines = append(lines, "", p.bold.Sprint("  "+title))
	}

	lines = append(lines, p.bold.Sprintf("Session %s", s.ID))
	add("   File:    %s", s.Path)
	add("   Agent:   %s", s.Agent)
	add("   Size:    %s", format.Size(s.SizeBytes))
	add("   Health:  %s %s", p.severity(sev, sev.String()), p.faint.Sprint(sh.Verdict.Tags.String()))
	if s.Archived {
		add("   State:   %s", p.yellow.Sprint("archived"))
	}

	section("Messages")
	add("    Total:      %d", s.MessageCount)
	add("    User:       %d", s.UserMessages)
	add("    Assistant:  %d", s.AssistantMessages)
	add("    Tool calls: %d", s.ToolCallCount)

	section("Timeline")
	add("    Created:      %s", timestamp(s.CreatedAt))
	add("    First record: %s", timestamp(s.FirstTimestamp))
	add("    Last record:  %s", timestamp(s.LastTimestamp))
	add("    Duration:     %s", format.Duration(s.FirstTimestamp, s.LastTimestamp))
	add("    Last active:  %s", format.Age(s.LastActivity(), now))

	section("Models")
	for _, m := range s.Models {
		add("    • %s", m)
	}
	if len(s.Models) == 0 {
		add("    (none recorded)")
	}
	add("    Model switches: %d", s.ModelSwitches)

	if s.CompactionCount > 0 {
		section("Compaction")
		add("    Count: %d", s.CompactionCount)
	}

	if len(s.Tools) > 0 {
		section(fmt.Sprintf("Tool usage (top %d)", maxToolRows))
		tools := sortedCounts(s.Tools)
		if len(tools) > maxToolRows {
			tools = tools[:maxToolRows]
		}
		nameWidth := 0
		for _, t := range tools {
			nameWidth = max(nameWidth, runewidth.StringWidth(t.name))
		}
		nameWidth = min(nameWidth, 30)
		barWidth := max(width-nameWidth-16, 10)
		top := tools[0].count
		for _, t := range tools {
			name := runewidth.FillRight(runewidth.Truncate(t.name, nameWidth, "…"), nameWidth)
			add("    %s %5d  %s", name, t.count, p.cyan.Sprint(format.Bar(t.count, top, barWidth)))
		}
	}

	if len(s.CustomTypes) > 0 {
		section("Custom event types")
		for _, c := range sortedCounts(s.CustomTypes) {
			add("    %-30s %5d", c.name, c.count)
		}
	}

	lines = append(lines, "")
	if s.CWD != "" {
		add("  Working dir: %s", s.CWD)
	}
	if s.Label != "" {
		add("  Label: %s", s.Label)
	}
	if s.HeaderID != "" && s.HeaderID != s.ID {
		add("  Header id: %s", s.HeaderID)
	}
	if s.MalformedLines > 0 {
		lines = append(lines, p.yellow.Sprintf("  Malformed lines: %d", s.MalformedLines))
	}
	return lines
}

type nameCount struct {
	name  string
	count int
}

func sortedCounts(m map[string]int) []nameCount {
	out := make([]nameCount, 0, len(m))
	for k, v := range m {
		out = append(out, nameCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

func timestamp(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

// renderTimeline draws one line per record, cut to width.
func renderTimeline(records []record.Record, width int, p palette) []string {
	lines := make([]string, 0, len(records))
	for i, rec := range records {
		ts := "-"
		if t, ok := rec.Time(); ok {
			ts = t.UTC().Format(time.RFC3339)
		}
		label, detail := describe(rec)
		label = runewidth.FillRight(label, 14)
		switch r := rec.(type) {
		case record.Message:
			label = p.role(r.Role, label)
		case record.Compaction:
			label = p.yellow.Sprint(label)
		default:
			label = p.faint.Sprint(label)
		}
		line := fmt.Sprintf("%s %s %s %s", p.faint.Sprintf("#%04d", i+1), p.faint.Sprint(ts), label, detail)
		lines = append(lines, truncateToWidth(line, width))
	}
	return lines
}

func describe(rec record.Record) (label, detail string) {
	switch r := rec.(type) {
	case record.Message:
		role := r.Role
		if role == "" {
			role = "message"
		}
		return role, r.Model
	case record.ToolCall:
		return "tool", r.Name
	case record.Compaction:
		return "compaction", ""
	case record.ModelSwitch:
		return "model", "→ " + r.Model
	case record.Custom:
		return "custom", strings.TrimSpace(r.CustomType + " " + compact(r.Payload))
	case record.SessionStart:
		return "session", strings.TrimSpace(r.ID + " " + r.CWD)
	case record.Unknown:
		return r.Type, ""
	}
	return string(rec.Kind()), ""
}

func compact(raw []byte) string {
	return strings.Join(strings.Fields(string(raw)), " ")
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func visibleWidth(text string) int {
	clean := ansiPattern.ReplaceAllString(text, "")
	return runewidth.StringWidth(clean)
}

// truncateToWidth cuts text to width visible cells, keeping escape sequences
// intact so colors are still reset.
func truncateToWidth(text string, width int) string {
	if width <= 0 || visibleWidth(text) <= width {
		return text
	}
	var out strings.Builder
	current := 0
	cut := false

	for i := 0; i < len(text); {
		if m := ansiPattern.FindStringIndex(text[i:]); m != nil && m[0] == 0 {
			out.WriteString(text[i : i+m[1]])
			i += m[1]
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if cut {
			continue
		}
		rw := runewidth.RuneWidth(r)
		if current+rw > width-1 {
			out.WriteString("…")
			cut = true
			continue
		}
		out.WriteRune(r)
		current += rw
	}
	return out.String()
}
