// Package main provides the clawdscan CLI for checking the health of agent
// session logs.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"clawdscan/internal/cleanup"
	"clawdscan/internal/config"
	"clawdscan/internal/format"
	"clawdscan/internal/metrics"
	"clawdscan/internal/model"
	"clawdscan/internal/session"
	"clawdscan/internal/skills"
	"clawdscan/internal/stats"
	"clawdscan/internal/store"
	"clawdscan/internal/view"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(func() time.Time { return time.Now().UTC() }).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clawdscan: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the global flags and the state derived from them.
type app struct {
	dir          string
	configPath   string
	workers      int
	verbose      bool
	forceColor   bool
	forceNoColor bool

	logger *slog.Logger
	now    func() time.Time
}

func newRootCmd(now func() time.Time) *cobra.Command {
	a := &app{now: now}

	root := &cobra.Command{
		Use:           "clawdscan",
		Short:         "Scan agent session logs for bloat, staleness and zombies",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.forceColor && a.forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}
			color.NoColor = !view.ResolveColor(a.forceColor, a.forceNoColor, cmd.OutOrStdout())

			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.dir, "dir", "", "scan root (env: CLAWDSCAN_DIR, default: ~/.openclaw)")
	flags.StringVar(&a.configPath, "config", "", "configuration file (env: CLAWDSCAN_CONFIG)")
	flags.IntVar(&a.workers, "workers", 0, "parallel file readers (default: from config)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log progress to stderr")
	flags.BoolVar(&a.forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&a.forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	root.AddCommand(
		a.newScanCmd(),
		a.newTopCmd(),
		a.newInspectCmd(),
		a.newCleanCmd(),
		a.newRestoreCmd(),
		a.newToolsCmd(),
		a.newModelsCmd(),
		a.newDiskCmd(),
		a.newHistoryCmd(),
		a.newSkillsCmd(),
	)
	return root
}

// loadConfig resolves the configuration file, then applies flag overrides.
func (a *app) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(config.ExpandHome(a.configPath))
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return config.Config{}, err
	}

	if a.dir != "" {
		cfg.Root = config.ExpandHome(a.dir)
	}
	if a.workers != 0 {
		cfg.Workers = a.workers
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &config.ConfigError{Err: err}
	}
	return cfg, nil
}

func (a *app) scan(ctx context.Context, cfg config.Config, now time.Time) (*model.FleetReport, error) {
	return store.Scan(ctx, store.Options{
		Root:        cfg.Root,
		ArchiveRoot: cfg.ArchiveDir(),
		Thresholds:  cfg.Thresholds,
		Now:         now,
		Workers:     cfg.Workers,
		Logger:      a.logger,
	})
}

// loadReport loads the configuration and scans the fleet.
func (a *app) loadReport(cmd *cobra.Command) (config.Config, *model.FleetReport, time.Time, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return config.Config{}, nil, time.Time{}, err
	}
	now := a.now()
	report, err := a.scan(cmd.Context(), cfg, now)
	if err != nil {
		return config.Config{}, nil, time.Time{}, err
	}
	if report.Incomplete {
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("warning: scan interrupted, results are partial"))
	}
	return cfg, report, now, nil
}

// outputFlags are shared by every command that writes results.
type outputFlags struct {
	format   string
	noHeader bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.format, "format", "table", "output format: table, plain, json, or jsonl")
	cmd.Flags().BoolVar(&o.noHeader, "no-header", false, "omit header rows")
}

func (o *outputFlags) options(now time.Time) (format.Options, error) {
	f, err := format.ParseFormat(o.format)
	if err != nil {
		return format.Options{}, err
	}
	return format.Options{Format: f, Header: !o.noHeader, Now: now}, nil
}

func (a *app) newScanCmd() *cobra.Command {
	var (
		out         outputFlags
		top         int
		agent       string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report the health of every session under the scan root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			opts.Top = top
			report = report.ForAgent(agent)

			if err := format.WriteReport(cmd.OutOrStdout(), report, opts); err != nil {
				return err
			}
			if metricsFile != "" {
				if err := metrics.WriteTextfile(report, metricsFile); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
				a.logger.Debug("metrics written", "path", metricsFile)
			}
			return nil
		},
	}

	out.register(cmd)
	cmd.Flags().IntVar(&top, "top", 10, "issue rows shown per agent in table output (0 means all)")
	cmd.Flags().StringVar(&agent, "agent", "", "only report sessions of this agent")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "also write Prometheus text-format gauges to this file")
	return cmd
}

func (a *app) newTopCmd() *cobra.Command {
	var (
		out      outputFlags
		limit    int
		sortBy   string
		agent    string
		archived bool
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank the largest sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := stats.ParseKey(sortBy)
			if err != nil {
				return err
			}
			_, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			ranked := stats.Top(report.Sessions(agent, archived), key, limit)
			return format.WriteTop(cmd.OutOrStdout(), ranked, opts)
		},
	}

	out.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of sessions to show (0 means all)")
	cmd.Flags().StringVar(&sortBy, "sort", "size", "ranking key: size or messages")
	cmd.Flags().StringVar(&agent, "agent", "", "only rank sessions of this agent")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived sessions")
	return cmd
}

func (a *app) newInspectCmd() *cobra.Command {
	var (
		mode      string
		maxEvents int
		wrap      int
		noPager   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <session-id-or-path>",
		Short: "Show the details of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			file, err := resolveSession(cfg, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			outFile, _ := out.(*os.File)
			return view.Run(view.Options{
				Path:         file.Path,
				Meta:         file.Meta,
				Mode:         mode,
				Thresholds:   cfg.Thresholds,
				Now:          a.now(),
				Wrap:         wrap,
				MaxEvents:    maxEvents,
				ForceColor:   a.forceColor,
				ForceNoColor: a.forceNoColor,
				NoPager:      noPager,
				Out:          out,
				OutFile:      outFile,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", view.ModeSummary, "output mode: summary, timeline, json, or raw")
	flags.IntVarP(&maxEvents, "max", "n", 0, "timeline: show only the most recent N records (0 means all)")
	flags.IntVar(&wrap, "wrap", 0, "render at the given column width")
	flags.BoolVar(&noPager, "no-pager", false, "never pipe the timeline through $PAGER")
	return cmd
}

// resolveSession accepts a path to a session file or a session id (or a
// unique id prefix) under the scan root.
func resolveSession(cfg config.Config, arg string) (store.SessionFile, error) {
	if arg == "" {
		return store.SessionFile{}, errors.New("session identifier is empty")
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		id, archived, ok := store.ParseName(filepath.Base(arg))
		if !ok {
			id = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
		}
		return store.SessionFile{
			Path: arg,
			Meta: session.Meta{ID: id, Archived: archived},
		}, nil
	}
	return store.FindFile(cfg.Root, cfg.ArchiveDir(), arg)
}

func (a *app) newCleanCmd() *cobra.Command {
	var (
		out       outputFlags
		zombies   bool
		staleDays int
		minSize   string
		agent     string
		execute   bool
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Archive zombie, stale or oversized sessions (dry run unless --execute)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := cleanup.Criteria{Zombies: zombies, StaleDays: staleDays, Agent: agent}
			if staleDays < 0 {
				return errors.New("--stale-days must not be negative")
			}
			if minSize != "" {
				n, err := config.ParseSize(minSize)
				if err != nil {
					return fmt.Errorf("invalid --min-size value: %w", err)
				}
				criteria.MinSize = n
			}
			if criteria.Empty() {
				return fmt.Errorf("%w: use --zombies, --stale-days or --min-size", cleanup.ErrNoCriteria)
			}

			cfg, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			plan, err := cleanup.NewPlan(report, criteria, cfg.ArchiveDir(), now)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !execute {
				if opts.Format == format.Table {
					fmt.Fprintln(w, color.CyanString("Dry run: nothing will be moved. Re-run with --execute to archive."))
				}
				return format.WritePlan(w, plan, opts)
			}

			if len(plan.Items) == 0 {
				return format.WritePlan(w, plan, opts)
			}
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
					fmt.Sprintf("Archive %d sessions (%s) to %s?", len(plan.Items), format.Size(plan.TotalBytes), plan.ArchiveDir))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "aborted")
					return nil
				}
			}

			res, err := cleanup.Execute(cmd.Context(), plan, cleanup.ExecOptions{
				Concurrency: cfg.Workers,
				Logger:      a.logger,
				Now:         a.now,
			})
			if err != nil {
				return err
			}
			return format.WriteResult(w, res, opts)
		},
	}

	out.register(cmd)
	flags := cmd.Flags()
	flags.BoolVar(&zombies, "zombies", false, "select zombie sessions")
	flags.IntVar(&staleDays, "stale-days", 0, "select sessions idle for more than N days")
	flags.StringVar(&minSize, "min-size", "", "select sessions larger than this size (e.g. 5MB, 512KiB)")
	flags.StringVar(&agent, "agent", "", "only consider sessions of this agent")
	flags.BoolVar(&execute, "execute", false, "move the selected sessions into the archive")
	flags.BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (a *app) newRestoreCmd() *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "restore <manifest>",
		Short: "Move the sessions of an archive run back to their original paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := out.options(a.now())
			if err != nil {
				return err
			}
			path := config.ExpandHome(args[0])
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, cleanup.ManifestName)
			}
			outcomes, err := cleanup.Restore(cmd.Context(), path, a.logger)
			if err != nil {
				return err
			}
			return format.WriteRestore(cmd.OutOrStdout(), outcomes, opts)
		},
	}

	out.register(cmd)
	return cmd
}

func (a *app) newToolsCmd() *cobra.Command {
	var (
		out   outputFlags
		agent string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show tool usage across sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			usage := stats.ToolUsage(report.Sessions(agent, false)).Limit(limit)
			return format.WriteTools(cmd.OutOrStdout(), usage, opts)
		},
	}

	out.register(cmd)
	cmd.Flags().StringVar(&agent, "agent", "", "only count sessions of this agent")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of tools to show (0 means all)")
	return cmd
}

func (a *app) newModelsCmd() *cobra.Command {
	var (
		out   outputFlags
		agent string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show model usage across sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			return format.WriteModels(cmd.OutOrStdout(), stats.ModelUsage(report.Sessions(agent, false)), opts)
		},
	}

	out.register(cmd)
	cmd.Flags().StringVar(&agent, "agent", "", "only count sessions of this agent")
	return cmd
}

func (a *app) newDiskCmd() *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "disk",
		Short: "Break down disk usage per agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			d := format.DiskView{
				Root:   cfg.Root,
				Agents: stats.Disk(report),
				Other:  store.AuxiliaryUsage(cfg.Root),
			}
			return format.WriteDisk(cmd.OutOrStdout(), d, opts)
		},
	}

	out.register(cmd)
	return cmd
}

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		out  outputFlags
		days int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show weekly session trends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive (got %d)", days)
			}
			_, report, now, err := a.loadReport(cmd)
			if err != nil {
				return err
			}
			opts, err := out.options(now)
			if err != nil {
				return err
			}
			weeks := stats.Trends(report.Sessions("", false), now, days)
			return format.WriteTrends(cmd.OutOrStdout(), weeks, opts)
		},
	}

	out.register(cmd)
	cmd.Flags().IntVar(&days, "days", 28, "number of days to cover")
	return cmd
}

func (a *app) newSkillsCmd() *cobra.Command {
	var (
		out  outputFlags
		dirs []string
		name string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Check that installed skills have their required binaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			opts, err := out.options(a.now())
			if err != nil {
				return err
			}

			searched := skills.Dirs(skills.DirOptions{Root: cfg.Root, Configured: cfg.SkillDirs, Extra: dirs})
			a.logger.Debug("checking skills", "dirs", searched)
			report, err := skills.Check(searched, skills.Options{})
			if err != nil {
				return err
			}
			if name != "" {
				skill, ok := report.Find(name)
				if !ok {
					return fmt.Errorf("%w: %s", skills.ErrNotFound, name)
				}
				report.Skills = []skills.Skill{skill}
			}
			return format.WriteSkills(cmd.OutOrStdout(), report, opts, all || name != "")
		},
	}

	out.register(cmd)
	cmd.Flags().StringSliceVar(&dirs, "dirs", nil, "additional skill directories to check")
	cmd.Flags().StringVar(&name, "skill", "", "check only the skill with this name")
	cmd.Flags().BoolVar(&all, "all", false, "list healthy skills too")
	return cmd
}
