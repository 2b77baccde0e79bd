package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"clawdscan/internal/cleanup"
)

func reasons(rs []cleanup.Reason) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// WritePlan writes a dry-run cleanup plan.
func WritePlan(w io.Writer, p *cleanup.Plan, opts Options) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "agent", "session_id", "size_bytes", "reasons", "source", "dest"); err != nil {
				return err
			}
		}
		for _, it := range p.Items {
			if err := writeLine(w, it.Session.Agent, it.Session.ID, it.Session.SizeBytes,
				reasons(it.Reasons), it.Session.Path, it.Dest); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, p)
	case JSONL:
		return writeJSONL(w, p.Items)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	if len(p.Items) == 0 {
		fmt.Fprintln(w, color.GreenString("No sessions match the cleanup criteria."))
		return nil
	}

	now := opts.now()
	tw := newTable(w)
	if opts.Header {
		tw.AppendHeader(table.Row{"Agent", "Session", "Size", "Msgs", "Last Active", "Reasons"})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{left(1), left(2), right(3), right(4), right(5), left(6)})
	for _, it := range p.Items {
		tw.AppendRow(table.Row{
			it.Session.Agent,
			ShortID(it.Session.ID),
			Size(it.Session.SizeBytes),
			it.Session.MessageCount,
			Age(it.Session.LastActivity(), now),
			reasons(it.Reasons),
		})
	}
	tw.AppendFooter(table.Row{"TOTAL", len(p.Items), Size(p.TotalBytes), "", "", ""})
	_ = tw.Render()
	fmt.Fprintf(w, "Archive directory: %s\n", p.ArchiveDir)
	return nil
}

// WriteResult writes the outcome of an executed plan.
func WriteResult(w io.Writer, r *cleanup.Result, opts Options) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "session_id", "status", "bytes", "dest", "error"); err != nil {
				return err
			}
		}
		for _, o := range r.Outcomes {
			if err := writeLine(w, o.Item.Session.ID, o.Status, o.Bytes, o.Dest, o.Error); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, r)
	case JSONL:
		return writeJSONL(w, r.Outcomes)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	for _, o := range r.Outcomes {
		if o.Status == cleanup.StatusMoved {
			continue
		}
		fmt.Fprintln(w, color.RedString("  %s %s: %s", o.Status, ShortID(o.Item.Session.ID), o.Error))
	}
	fmt.Fprintf(w, "Archived %d sessions, reclaimed %s", r.Moved, Size(r.ReclaimedBytes))
	if r.Failed > 0 || r.Skipped > 0 {
		fmt.Fprintf(w, " (%d failed, %d skipped)", r.Failed, r.Skipped)
	}
	fmt.Fprintln(w)
	if r.Manifest != "" {
		fmt.Fprintf(w, "Manifest: %s\n", r.Manifest)
		fmt.Fprintf(w, "Undo with: clawdscan restore %s\n", r.Manifest)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintln(w, color.YellowString("warning: %s", warning))
	}
	return nil
}

// WriteRestore writes restore outcomes.
func WriteRestore(w io.Writer, outcomes []cleanup.RestoreOutcome, opts Options) error {
	switch opts.Format {
	case "", Table, Plain:
	case JSON:
		return writeJSON(w, outcomes)
	case JSONL:
		return writeJSONL(w, outcomes)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	restored := 0
	for _, o := range outcomes {
		if o.Status == cleanup.StatusMoved {
			restored++
			if opts.Format == Plain {
				if err := writeLine(w, o.Entry.SessionID, "restored", o.Entry.Source); err != nil {
					return err
				}
			}
			continue
		}
		if opts.Format == Plain {
			if err := writeLine(w, o.Entry.SessionID, o.Status, o.Error); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(w, color.RedString("  %s %s: %s", o.Status, ShortID(o.Entry.SessionID), o.Error))
	}
	if opts.Format != Plain {
		fmt.Fprintf(w, "Restored %d of %d sessions\n", restored, len(outcomes))
	}
	return nil
}
