package format

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"clawdscan/internal/model"
)

// Options controls every writer in this package.
type Options struct {
	Format Format
	Header bool
	Now    time.Time

	// Top limits the rows shown per section in table output. 0 shows all.
	Top int
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// WriteReport writes a fleet report. JSON emits the whole report; JSONL
// emits one session per line.
func WriteReport(w io.Writer, r *model.FleetReport, opts Options) error {
	switch opts.Format {
	case "", Table:
		return writeReportTable(w, r, opts)
	case Plain:
		return writeReportPlain(w, r, opts)
	case JSON:
		return writeJSON(w, r)
	case JSONL:
		return writeJSONL(w, r.Sessions("", true))
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func writeReportPlain(w io.Writer, r *model.FleetReport, opts Options) error {
	if opts.Header {
		if err := writeLine(w, "agent", "session_id", "archived", "severity", "tags",
			"size_bytes", "messages", "compactions", "last_activity"); err != nil {
			return err
		}
	}
	for _, a := range r.Agents {
		for _, sh := range a.Sessions {
			s := sh.Summary
			if err := writeLine(w, a.Name, s.ID, s.Archived, sh.Verdict.Severity(), sh.Verdict.Tags,
				s.SizeBytes, s.MessageCount, s.CompactionCount,
				s.LastActivity().UTC().Format(time.RFC3339)); err != nil {
				return err
			}
		}
		for _, f := range a.Failures {
			if err := writeLine(w, a.Name, f.SessionID, f.Archived, "unreadable", "-", 0, 0, 0, "-"); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeReportTable(w io.Writer, r *model.FleetReport, opts Options) error {
	now := opts.now()
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	fmt.Fprintln(w, bold.Sprint("clawdscan session health report"))
	fmt.Fprintln(w, faint.Sprintf("  root:    %s", r.Root))
	fmt.Fprintln(w, faint.Sprintf("  scanned: %s", r.ScannedAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	fmt.Fprintln(w)

	writeAgentTable(w, r)

	for _, a := range r.Agents {
		issues := agentIssues(a)
		if len(issues) == 0 {
			continue
		}
		shown := len(issues)
		if opts.Top > 0 && shown > opts.Top {
			shown = opts.Top
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold.Sprintf("%s: %d sessions with issues (showing %d)", a.Name, len(issues), shown))
		writeIssueTable(w, issues[:shown], now)
	}

	if failures := r.Failures(); len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, color.RedString("%d session files could not be read:", len(failures)))
		tw := newTable(w)
		tw.AppendHeader(table.Row{"Agent", "Session", "Error"})
		for _, f := range failures {
			tw.AppendRow(table.Row{f.Agent, ShortID(f.SessionID), Truncate(f.Error, 80)})
		}
		_ = tw.Render()
	}

	writeCleanupPotential(w, r)

	for _, warning := range r.Warnings {
		fmt.Fprintln(w, color.YellowString("warning: %s", warning))
	}
	if r.Incomplete {
		fmt.Fprintln(w, color.YellowString("scan incomplete: results cover part of the fleet"))
	}
	return nil
}

func writeAgentTable(w io.Writer, r *model.FleetReport) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Agent", "Active", "Archived", "Critical", "Warning", "Zombie", "Compacted", "Healthy", "Disk", "Unreadable"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		left(1), right(2), right(3), right(4), right(5), right(6), right(7), right(8), right(9), right(10),
	})
	row := func(name string, t model.Totals) table.Row {
		return table.Row{
			name, t.ActiveSessions, t.ArchivedSessions,
			PaintSeverity(model.SeverityCritical, fmt.Sprint(t.BySeverity[model.SeverityCritical])),
			PaintSeverity(model.SeverityWarning, fmt.Sprint(t.BySeverity[model.SeverityWarning])),
			PaintSeverity(model.SeverityZombie, fmt.Sprint(t.BySeverity[model.SeverityZombie])),
			t.BySeverity[model.SeverityCompacted],
			t.BySeverity[model.SeverityHealthy],
			Size(t.DiskBytes()),
			t.ReadFailures,
		}
	}
	for _, a := range r.Agents {
		tw.AppendRow(row(a.Name, a.Totals))
	}
	if len(r.Agents) == 0 {
		tw.AppendRow(table.Row{"(no agents)", 0, 0, 0, 0, 0, 0, 0, Size(0), 0})
	}
	tw.AppendFooter(row("TOTAL", r.Totals))
	_ = tw.Render()
}

// agentIssues returns the active sessions of a that are not healthy, largest
// first.
func agentIssues(a model.AgentReport) []model.SessionHealth {
	var issues []model.SessionHealth
	for _, sh := range a.Sessions {
		if !sh.Summary.Archived && !sh.Verdict.Healthy() {
			issues = append(issues, sh)
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		si, sj := issues[i].Summary, issues[j].Summary
		if si.SizeBytes != sj.SizeBytes {
			return si.SizeBytes > sj.SizeBytes
		}
		return si.ID < sj.ID
	})
	return issues
}

func writeIssueTable(w io.Writer, issues []model.SessionHealth, now time.Time) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Session", "Severity", "Size", "Msgs", "Compact", "Last Active", "Tags"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		left(1), left(2), right(3), right(4), right(5), right(6), left(7),
	})
	for _, sh := range issues {
		s := sh.Summary
		sev := sh.Verdict.Severity()
		tw.AppendRow(table.Row{
			ShortID(s.ID),
			PaintSeverity(sev, sev.String()),
			PaintSize(sh.Verdict.Tags, Size(s.SizeBytes)),
			s.MessageCount,
			s.CompactionCount,
			Age(s.LastActivity(), now),
			sh.Verdict.Tags.String(),
		})
	}
	_ = tw.Render()
}

func writeCleanupPotential(w io.Writer, r *model.FleetReport) {
	var (
		zombies, stale          int
		zombieBytes, staleBytes int64
		critical                []model.SessionHealth
	)
	for _, sh := range r.Sessions("", false) {
		if sh.Verdict.Tags.Has(model.TagZombie) {
			zombies++
			zombieBytes += sh.Summary.SizeBytes
		}
		if sh.Verdict.Tags.Has(model.TagStale) {
			stale++
			staleBytes += sh.Summary.SizeBytes
		}
		if sh.Verdict.Severity() == model.SeverityCritical {
			critical = append(critical, sh)
		}
	}
	if zombies == 0 && stale == 0 && len(critical) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, color.New(color.Bold).Sprint("Cleanup potential:"))
	if zombies > 0 {
		fmt.Fprintf(w, "  zombies: %s in %d sessions (clawdscan clean --zombies)\n", Size(zombieBytes), zombies)
	}
	if stale > 0 {
		fmt.Fprintf(w, "  stale:   %s in %d sessions (clawdscan clean --stale-days N)\n", Size(staleBytes), stale)
	}
	if len(critical) > 0 {
		names := make([]string, 0, len(critical))
		for _, sh := range critical {
			names = append(names, ShortID(sh.Summary.ID))
			if len(names) == 5 {
				break
			}
		}
		more := ""
		if len(critical) > len(names) {
			more = fmt.Sprintf(" and %d more", len(critical)-len(names))
		}
		fmt.Fprintf(w, "  %s %s%s\n", PaintSeverity(model.SeverityCritical, "critical:"), strings.Join(names, ", "), more)
	}
}
