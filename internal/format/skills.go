package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"clawdscan/internal/skills"
)

// WriteSkills writes a skill dependency check. Table output lists healthy
// skills only when showHealthy is set; the other formats list every skill.
func WriteSkills(w io.Writer, r skills.Report, opts Options, showHealthy bool) error {
	switch opts.Format {
	case "", Table:
	case Plain:
		if opts.Header {
			if err := writeLine(w, "name", "source", "healthy", "required_bins", "issues"); err != nil {
				return err
			}
		}
		for _, s := range r.Skills {
			if err := writeLine(w, s.Name, s.Source, s.Healthy, dashIfEmpty(strings.Join(s.Bins, ",")),
				dashIfEmpty(strings.Join(s.Issues, "; "))); err != nil {
				return err
			}
		}
		return nil
	case JSON:
		return writeJSON(w, r)
	case JSONL:
		return writeJSONL(w, r.Skills)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}

	healthy, broken, noDeps := r.Counts()
	fmt.Fprintln(w, color.New(color.Bold).Sprint("Skill health"))
	fmt.Fprintf(w, "  scanned:     %d\n", len(r.Skills))
	fmt.Fprintf(w, "  healthy:     %s\n", color.GreenString("%d", healthy))
	fmt.Fprintf(w, "  broken:      %s\n", color.RedString("%d", broken))
	fmt.Fprintf(w, "  no deps:     %d\n", noDeps)
	fmt.Fprintf(w, "  directories: %s\n", strings.Join(r.Dirs, ", "))

	if broken > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, color.RedString("Broken skills (%d):", broken))
		tw := newTable(w)
		if opts.Header {
			tw.AppendHeader(table.Row{"Skill", "Source", "Issues", "Fix"})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{left(1), left(2), left(3), left(4)})
		for _, s := range r.Skills {
			if s.Healthy {
				continue
			}
			tw.AppendRow(table.Row{s.Name, s.Source, strings.Join(s.Issues, "\n"), dashIfEmpty(strings.Join(s.Hints(), "\n"))})
		}
		_ = tw.Render()
	}

	if showHealthy && healthy > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, color.GreenString("Healthy skills (%d):", healthy))
		tw := newTable(w)
		if opts.Header {
			tw.AppendHeader(table.Row{"Skill", "Source", "Binaries"})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{left(1), left(2), left(3)})
		for _, s := range r.Skills {
			if !s.Healthy {
				continue
			}
			bins := "none"
			if len(s.Bins) > 0 {
				bins = strings.Join(s.Bins, ", ")
			}
			tw.AppendRow(table.Row{s.Name, s.Source, bins})
		}
		_ = tw.Render()
	}
	return nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
