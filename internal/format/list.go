package format

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"clawdscan/internal/model"
	"clawdscan/internal/stats"
	"clawdscan/internal/store"
)

// barWidth is the widest usage bar in table output.
const barWidth = 40

// WriteTop writes ranked sessions.
func WriteTop(w io.Writer, ranked []model.SessionHealth, opts Options) error {
	switch opts.Format {
	case "", Table:
		return writeTopTable(w, ranked, opts)
	case Plain:
		return writeTopPlain(w, ranked, opts)
	case JSON:
		return writeJSON(w, ranked)
	case JSONL:
		return writeJSONL(w, ranked)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func writeTopPlain(w io.Writer, ranked []model.SessionHealth, opts Options) error {
	if opts.Header {
		if err := writeLine(w, "rank", "agent", "session_id", "size_bytes", "messages",
			"user_messages", "tool_calls", "compactions", "last_activity", "tags"); err != nil {
			return err
		}
	}
	for i, sh := range ranked {
		s := sh.Summary
		if err := writeLine(w, i+1, s.Agent, s.ID, s.SizeBytes, s.MessageCount, s.UserMessages,
			s.ToolCallCount, s.CompactionCount, s.LastActivity().UTC().Format(time.RFC3339),
			sh.Verdict.Tags); err != nil {
			return err
		}
	}
	return nil
}

func writeTopTable(w io.Writer, ranked []model.SessionHealth, opts Options) error {
	now := opts.now()
	tw := newTable(w)
	if opts.Header {
		tw.AppendHeader(table.Row{"#", "Agent", "Session", "Size", "Msgs", "User", "Tools", "Compact", "Last Active", "Tags"})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		right(1), left(2), left(3), right(4), right(5), right(6), right(7), right(8), right(9), left(10),
	})
	for i, sh := range ranked {
		s := sh.Summary
		tw.AppendRow(table.Row{
			i + 1,
			s.Agent,
			ShortID(s.ID),
			PaintSize(sh.Verdict.Tags, Size(s.SizeBytes)),
			s.MessageCount,
			s.UserMessages,
			s.ToolCallCount,
			s.CompactionCount,
			Age(s.LastActivity(), now),
			PaintSeverity(sh.Verdict.Severity(), sh.Verdict.Tags.String()),
		})
	}
	if len(ranked) == 0 {
		tw.AppendRow(table.Row{"-", "-", "(no sessions)", Size(0), 0, 0, 0, 0, "-", "-"})
	}
	_ = tw.Render()
	return nil
}

// WriteTools writes a merged tool histogram.
func WriteTools(w io.Writer, u stats.Usage, opts Options) error {
	return writeUsage(w, u, opts, "Tool", "Calls")
}

// WriteModels writes model usage: sessions per model and the messages in
// those sessions.
func WriteModels(w io.Writer, u stats.Usage, opts Options) error {
	return writeUsage(w, u, opts, "Model", "Messages")
}

func writeUsage(w io.Writer, u stats.Usage, opts Options, nameCol, countCol string) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "name", "count", "sessions"); err != nil {
				return err
			}
		}
		for _, c := range u.Entries {
			if err := writeLine(w, c.Name, c.Count, c.Sessions); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, u)
	case JSONL:
		return writeJSONL(w, u.Entries)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	fmt.Fprintln(w, color.New(color.Bold).Sprintf("%s usage across %d sessions", nameCol, u.Sessions))
	if len(u.Entries) == 0 {
		fmt.Fprintln(w, "  none recorded")
		return nil
	}

	maxCount := 0
	for _, c := range u.Entries {
		maxCount = max(maxCount, c.Count)
	}
	tw := newTable(w)
	if opts.Header {
		tw.AppendHeader(table.Row{nameCol, countCol, "Sessions", ""})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{left(1), right(2), right(3), left(4)})
	for _, c := range u.Entries {
		tw.AppendRow(table.Row{Truncate(c.Name, 40), c.Count, c.Sessions, color.CyanString("%s", Bar(c.Count, maxCount, barWidth))})
	}
	_ = tw.Render()
	return nil
}

// DiskView is the input of WriteDisk.
type DiskView struct {
	Root   string            `json:"root"`
	Agents []stats.AgentDisk `json:"agents"`
	Other  []store.DirUsage  `json:"other,omitempty"`
}

// Total returns session bytes across agents.
func (d DiskView) Total() int64 {
	var n int64
	for _, a := range d.Agents {
		n += a.TotalBytes()
	}
	return n
}

// WriteDisk writes the per-agent disk breakdown.
func WriteDisk(w io.Writer, d DiskView, opts Options) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "agent", "active_sessions", "active_bytes", "archived_sessions",
				"archived_bytes", "p50_bytes", "p90_bytes", "p99_bytes"); err != nil {
				return err
			}
		}
		for _, a := range d.Agents {
			if err := writeLine(w, a.Agent, a.Active, a.ActiveBytes, a.Archived, a.ArchivedBytes,
				a.ActiveSizes.P50, a.ActiveSizes.P90, a.ActiveSizes.P99); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, d)
	case JSONL:
		return writeJSONL(w, d.Agents)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	fmt.Fprintln(w, color.New(color.Bold).Sprintf("Disk usage: %s", d.Root))
	tw := newTable(w)
	if opts.Header {
		tw.AppendHeader(table.Row{"Agent", "Active", "Active Size", "Archived", "Archived Size", "Total", "P50", "P90", "P99"})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		left(1), right(2), right(3), right(4), right(5), right(6), right(7), right(8), right(9),
	})
	for _, a := range d.Agents {
		tw.AppendRow(table.Row{
			a.Agent, a.Active, Size(a.ActiveBytes), a.Archived, Size(a.ArchivedBytes), Size(a.TotalBytes()),
			Size(a.ActiveSizes.P50), Size(a.ActiveSizes.P90), Size(a.ActiveSizes.P99),
		})
	}
	tw.AppendFooter(table.Row{"TOTAL", "", "", "", "", Size(d.Total()), "", "", ""})
	_ = tw.Render()

	if len(d.Other) > 0 {
		var other int64
		ow := newTable(w)
		ow.SetColumnConfigs([]table.ColumnConfig{left(1), right(2)})
		for _, o := range d.Other {
			ow.AppendRow(table.Row{o.Name, Size(o.Bytes)})
			other += o.Bytes
		}
		ow.AppendFooter(table.Row{"GRAND TOTAL", Size(d.Total() + other)})
		_ = ow.Render()
	}
	return nil
}

// WriteTrends writes weekly trend buckets.
func WriteTrends(w io.Writer, weeks []stats.Week, opts Options) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "week_start", "sessions", "bytes", "bloated", "zombies"); err != nil {
				return err
			}
		}
		for _, wk := range weeks {
			if err := writeLine(w, wk.Start.UTC().Format(time.RFC3339), wk.Sessions, wk.Bytes, wk.Bloated, wk.Zombies); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, weeks)
	case JSONL:
		return writeJSONL(w, weeks)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	tw := newTable(w)
	if opts.Header {
		tw.AppendHeader(table.Row{"Week", "Range", "Sessions", "Size", "Bloated", "Zombies", "Sessions Δ", "Size Δ"})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		left(1), left(2), right(3), right(4), right(5), right(6), right(7), right(8),
	})
	for i, wk := range weeks {
		tw.AppendRow(table.Row{
			fmt.Sprintf("Week %d", i+1),
			fmt.Sprintf("%s – %s", wk.Start.Format("Jan 02"), wk.End.Format("Jan 02")),
			wk.Sessions,
			Size(wk.Bytes),
			wk.Bloated,
			wk.Zombies,
			percent(wk.SessionGrowth),
			percent(wk.BytesGrowth),
		})
	}
	if len(weeks) == 0 {
		tw.AppendRow(table.Row{"-", "(no data)", 0, Size(0), 0, 0, "-", "-"})
	}
	_ = tw.Render()
	return nil
}

func percent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%+.0f%%", *p)
}
