// Package view renders a single session for inspection.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"clawdscan/internal/health"
	"clawdscan/internal/model"
	"clawdscan/internal/record"
	"clawdscan/internal/session"
)

// Modes accepted by Run.
const (
	ModeSummary  = "summary"
	ModeTimeline = "timeline"
	ModeJSON     = "json"
	ModeRaw      = "raw"
)

// Options defines the configurable parameters for inspecting a session.
type Options struct {
	Path       string
	Meta       session.Meta
	Mode       string
	Thresholds health.Thresholds
	Now        time.Time

	// Wrap overrides the detected terminal width.
	Wrap int
	// MaxEvents keeps only the last N records in timeline mode. 0 keeps all.
	MaxEvents int

	ForceColor   bool
	ForceNoColor bool
	NoPager      bool
	Out          io.Writer
	OutFile      *os.File
}

// Run renders the session at opts.Path according to opts.Mode.
func Run(opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.Thresholds == (health.Thresholds{}) {
		opts.Thresholds = health.DefaultThresholds()
	}

	mode := strings.ToLower(opts.Mode)
	if mode == "" {
		mode = ModeSummary
	}

	switch mode {
	case ModeRaw:
		return copyFile(opts.Out, opts.Path)

	case ModeJSON:
		sh, err := inspect(opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(opts.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sh)

	case ModeSummary:
		sh, err := inspect(opts)
		if err != nil {
			return err
		}
		useColor := ResolveColor(opts.ForceColor, opts.ForceNoColor, opts.Out)
		width := determineWidth(opts.OutFile, opts.Wrap)
		return writeLines(opts.Out, renderSummary(sh, opts.Now, width, newPalette(useColor)))

	case ModeTimeline:
		useColor := ResolveColor(opts.ForceColor, opts.ForceNoColor, opts.Out)
		width := determineWidth(opts.OutFile, opts.Wrap)

		ring := newRecordRing(opts.MaxEvents)
		var all []record.Record
		for rec, err := range record.All(opts.Path) {
			if err != nil {
				return err
			}
			if opts.MaxEvents > 0 {
				ring.push(rec)
			} else {
				all = append(all, rec)
			}
		}
		if opts.MaxEvents > 0 {
			all = ring.slice()
		}

		lines := renderTimeline(all, width, newPalette(useColor))
		if len(lines) == 0 {
			return nil
		}
		if !opts.NoPager && opts.OutFile != nil && isatty.IsTerminal(opts.OutFile.Fd()) {
			return pipeThroughPager(lines, useColor)
		}
		return writeLines(opts.Out, lines)

	default:
		return fmt.Errorf("unsupported mode: %s", opts.Mode)
	}
}

func inspect(opts Options) (model.SessionHealth, error) {
	summary, err := session.Summarize(opts.Path, opts.Meta)
	if err != nil {
		return model.SessionHealth{}, err
	}
	return model.SessionHealth{
		Summary: summary,
		Verdict: health.Classify(summary, opts.Thresholds, opts.Now),
	}, nil
}

type recordRing struct {
	data   []record.Record
	start  int
	length int
}

func newRecordRing(capacity int) *recordRing {
	if capacity <= 0 {
		return &recordRing{}
	}
	return &recordRing{data: make([]record.Record, capacity)}
}

func (r *recordRing) push(rec record.Record) {
	if len(r.data) == 0 {
		return
	}
	idx := (r.start + r.length) % len(r.data)
	r.data[idx] = rec
	if r.length < len(r.data) {
		r.length++
		return
	}
	r.start = (r.start + 1) % len(r.data)
}

func (r *recordRing) slice() []record.Record {
	if r.length == 0 {
		return nil
	}
	result := make([]record.Record, r.length)
	for i := 0; i < r.length; i++ {
		result[i] = r.data[(r.start+i)%len(r.data)]
	}
	return result
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func pipeThroughPager(lines []string, colorEnabled bool) error {
	text := strings.Join(lines, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	pagerCmd := os.Getenv("PAGER")
	var cmd *exec.Cmd
	if pagerCmd == "" {
		args := []string{"less"}
		if colorEnabled {
			args = append(args, "-R")
		}
		cmd = exec.Command(args[0], args[1:]...) // #nosec G204
	} else {
		cmd = exec.Command("sh", "-c", pagerCmd) // #nosec G204
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create pager pipe: %w", err)
	}
	go func() {
		defer stdin.Close()
		io.WriteString(stdin, text) //nolint:errcheck
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run pager: %w", err)
	}

	return nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

// ResolveColor decides whether output to out should be colored. Explicit
// flags win; otherwise color is used on terminals unless NO_COLOR is set.
func ResolveColor(force, forceNo bool, out io.Writer) bool {
	if force {
		return true
	}
	if forceNo {
		return false
	}
	return shouldUseColorAuto(out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &record.ReadError{Path: path, Err: err}
	}
	defer f.Close()

	_, err = io.Copy(dst, f)
	return err
}

// palette holds the colors of one render. Each color is forced on or off so
// rendering does not depend on the global color.NoColor.
type palette struct {
	bold, faint, cyan, yellow *color.Color
	roles                     map[string]*color.Color
	severities                map[model.Severity]*color.Color
	enabled                   bool
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		bold:   mk(color.Bold),
		faint:  mk(color.Faint),
		cyan:   mk(color.FgCyan),
		yellow: mk(color.FgYellow),
		roles: map[string]*color.Color{
			"user":       mk(color.FgYellow),
			"assistant":  mk(color.FgCyan),
			"toolResult": mk(color.FgMagenta),
		},
		severities: map[model.Severity]*color.Color{
			model.SeverityCritical:  mk(color.FgRed, color.Bold),
			model.SeverityWarning:   mk(color.FgYellow),
			model.SeverityZombie:    mk(color.FgMagenta),
			model.SeverityCompacted: mk(color.FgCyan),
			model.SeverityHealthy:   mk(color.FgGreen),
		},
		enabled: enabled,
	}
}

func (p palette) severity(sev model.Severity, s string) string {
	if c, ok := p.severities[sev]; ok {
		return c.Sprint(s)
	}
	return s
}

func (p palette) role(role, s string) string {
	if c, ok := p.roles[role]; ok {
		return c.Sprint(s)
	}
	return p.faint.Sprint(s)
}
