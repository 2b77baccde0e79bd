// Package format renders scan results as tables, tab-separated text, JSON or
// JSON lines.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"

	"clawdscan/internal/model"
)

// Format selects an output encoding.
type Format string

const (
	Table Format = "table"
	Plain Format = "plain"
	JSON  Format = "json"
	JSONL Format = "jsonl"
)

// ParseFormat validates a format name. The empty string means Table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return Table, nil
	case Table, Plain, JSON, JSONL:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// idWidth is the display width session ids are cut to in tables.
const idWidth = 12

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true
	return tw
}

func right(n int) table.ColumnConfig {
	return table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignCenter}
}

func left(n int) table.ColumnConfig {
	return table.ColumnConfig{Number: n, Align: text.AlignLeft, AlignHeader: text.AlignCenter}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, fields ...any) error {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprint(f)
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, "\t"))
	return err
}

// Size renders a byte count with binary units.
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Age renders how long ago t was, relative to now.
func Age(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	days := int(d.Hours() / 24)
	switch {
	case days > 30:
		return fmt.Sprintf("%dmo ago", days/30)
	case days > 0:
		return fmt.Sprintf("%dd ago", days)
	case d > time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d > time.Minute:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return "just now"
	}
}

// Duration renders the span between two timestamps.
func Duration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "unknown"
	}
	d := end.Sub(*start)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	case d > time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d > time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// ShortID cuts a session id to the table column width.
func ShortID(id string) string {
	return runewidth.Truncate(id, idWidth, "…")
}

// Truncate cuts s to width display cells.
func Truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Bar draws a proportional bar of at most width cells.
func Bar(value, maxValue, width int) string {
	if maxValue <= 0 || value <= 0 || width <= 0 {
		return ""
	}
	n := value * width / maxValue
	if n == 0 {
		n = 1
	}
	return strings.Repeat("█", n)
}

var severityColors = map[model.Severity]*color.Color{
	model.SeverityCritical:  color.New(color.FgRed, color.Bold),
	model.SeverityWarning:   color.New(color.FgYellow),
	model.SeverityZombie:    color.New(color.FgMagenta),
	model.SeverityCompacted: color.New(color.FgCyan),
	model.SeverityHealthy:   color.New(color.FgGreen),
}

// PaintSeverity colors s for sev. Color follows color.NoColor.
func PaintSeverity(sev model.Severity, s string) string {
	if c, ok := severityColors[sev]; ok {
		return c.Sprint(s)
	}
	return s
}

// PaintSize colors a rendered size by the verdict tags it triggered.
func PaintSize(tags model.Tags, s string) string {
	switch {
	case tags.Has(model.TagMegaBloat):
		return color.RedString("%s", s)
	case tags.Has(model.TagBloated):
		return color.YellowString("%s", s)
	}
	return s
}
