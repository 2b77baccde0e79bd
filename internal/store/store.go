// Package store discovers session files under a scan root and builds the
// fleet report.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clawdscan/internal/health"
	"clawdscan/internal/model"
	"clawdscan/internal/session"
)

// ErrRootNotFound is returned when the scan root is missing or not a directory.
var ErrRootNotFound = errors.New("scan root not found")

// ErrSessionNotFound is returned by FindFile when no session matches.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionExt    = ".jsonl"
	deletedMarker = ".deleted."
	agentsDir     = "agents"
	sessionsDir   = "sessions"
)

// SessionFile is one discovered session log.
type SessionFile struct {
	Path string
	Meta session.Meta
}

// Agent is one agent directory and its session files.
type Agent struct {
	Name  string
	Path  string
	Files []SessionFile
}

// Discover enumerates agents and their session files under root. Agents live
// in root/agents when that directory exists, otherwise directly under root.
// archiveRoot, when inside root, is skipped. Unreadable agent directories are
// returned as warnings.
func Discover(root, archiveRoot string) ([]Agent, []string, error) {
	if root == "" {
		return nil, nil, errors.New("root directory is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	base := root
	if fi, err := os.Stat(filepath.Join(root, agentsDir)); err == nil && fi.IsDir() {
		base = filepath.Join(root, agentsDir)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %v", ErrRootNotFound, base, err)
	}

	skip := cleanAbs(archiveRoot)
	var (
		agents   []Agent
		warnings []string
	)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if skip != "" && cleanAbs(dir) == skip {
			continue
		}

		files, err := listSessionFiles(root, entry.Name(), dir)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("list agent %s: %v", entry.Name(), err))
			continue
		}
		agents = append(agents, Agent{Name: entry.Name(), Path: dir, Files: files})
	}
	return agents, warnings, nil
}

func listSessionFiles(root, agent, agentDir string) ([]SessionFile, error) {
	dir := agentDir
	if fi, err := os.Stat(filepath.Join(agentDir, sessionsDir)); err == nil && fi.IsDir() {
		dir = filepath.Join(agentDir, sessionsDir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []SessionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, archived, ok := ParseName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Join(agent, entry.Name())
		}
		files = append(files, SessionFile{
			Path: path,
			Meta: session.Meta{ID: id, Agent: agent, RelPath: rel, Archived: archived},
		})
	}
	return files, nil
}

// ParseName derives the session id from a file name and reports whether the
// file is an archived (deleted) session. ok is false for names that are not
// session logs.
func ParseName(name string) (id string, archived bool, ok bool) {
	idx := strings.Index(name, sessionExt)
	if idx <= 0 {
		return "", false, false
	}
	archived = strings.Contains(name, deletedMarker)
	if !archived && !strings.HasSuffix(name, sessionExt) {
		return "", false, false
	}
	return name[:idx], archived, true
}

func cleanAbs(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Options controls a fleet scan.
type Options struct {
	Root        string
	ArchiveRoot string
	Thresholds  health.Thresholds
	Now         time.Time
	Workers     int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Thresholds == (health.Thresholds{}) {
		o.Thresholds = health.DefaultThresholds()
	}
	return o
}

type result struct {
	agent   string
	health  model.SessionHealth
	failure *model.ReadFailure
}

// Scan summarizes and classifies every session under opts.Root. Files are
// processed by a bounded pool of workers; a single collector owns the report.
// Unreadable files become ReadFailure entries. When ctx is cancelled the
// partial report is returned with Incomplete set and a nil error. Only a
// missing root fails the scan.
func Scan(ctx context.Context, opts Options) (*model.FleetReport, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	agents, warnings, err := Discover(opts.Root, opts.ArchiveRoot)
	if err != nil {
		return nil, err
	}

	report := &model.FleetReport{
		Root:      opts.Root,
		ScannedAt: opts.Now,
		Warnings:  warnings,
	}
	index := make(map[string]int, len(agents))
	total := 0
	for _, a := range agents {
		index[a.Name] = len(report.Agents)
		report.Agents = append(report.Agents, model.AgentReport{Name: a.Name, Path: a.Path})
		total += len(a.Files)
	}
	for _, w := range warnings {
		log.Warn("agent skipped", "reason", w)
	}

	results := make(chan result, opts.Workers)
	collected := make(chan int)
	go func() {
		n := 0
		for res := range results {
			n++
			agent := &report.Agents[index[res.agent]]
			if res.failure != nil {
				log.Warn("session unreadable",
					"agent", res.agent, "path", res.failure.Path, "error", res.failure.Error)
				agent.AddFailure(*res.failure)
				continue
			}
			agent.Add(res.health)
		}
		collected <- n
	}()

	log.Debug("scan started", "root", opts.Root, "agents", len(agents), "files", total, "workers", opts.Workers)

	var g errgroup.Group
	g.SetLimit(opts.Workers)
feed:
	for _, a := range agents {
		for _, f := range a.Files {
			if ctx.Err() != nil {
				break feed
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results <- scanFile(f, opts)
				return nil
			})
		}
	}
	_ = g.Wait()
	close(results)
	processed := <-collected

	if processed < total {
		report.Incomplete = true
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("scan cancelled: %d of %d session files processed", processed, total))
		log.Warn("scan incomplete", "processed", processed, "total", total)
	}

	report.Finalize()
	log.Debug("scan finished", "sessions", report.Totals.ActiveSessions+report.Totals.ArchivedSessions,
		"failures", report.Totals.ReadFailures)
	return report, nil
}

func scanFile(f SessionFile, opts Options) result {
	summary, err := session.Summarize(f.Path, f.Meta)
	if err != nil {
		return result{
			agent: f.Meta.Agent,
			failure: &model.ReadFailure{
				SessionID: f.Meta.ID,
				Agent:     f.Meta.Agent,
				Path:      f.Path,
				Archived:  f.Meta.Archived,
				Error:     err.Error(),
			},
		}
	}
	return result{
		agent: f.Meta.Agent,
		health: model.SessionHealth{
			Summary: summary,
			Verdict: health.Classify(summary, opts.Thresholds, opts.Now),
		},
	}
}

// FindFile locates a session file by id. An exact id match wins; otherwise a
// unique id prefix is accepted. Active sessions are preferred over archived
// ones with the same id.
func FindFile(root, archiveRoot, id string) (SessionFile, error) {
	if id == "" {
		return SessionFile{}, errors.New("session id is required")
	}
	agents, _, err := Discover(root, archiveRoot)
	if err != nil {
		return SessionFile{}, err
	}

	var exact, prefix []SessionFile
	for _, a := range agents {
		for _, f := range a.Files {
			switch {
			case f.Meta.ID == id:
				exact = append(exact, f)
			case strings.HasPrefix(f.Meta.ID, id):
				prefix = append(prefix, f)
			}
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = prefix
	}
	if len(candidates) == 0 {
		return SessionFile{}, fmt.Errorf("%w: %s under %s", ErrSessionNotFound, id, root)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].Meta, candidates[j].Meta
		if ci.Archived != cj.Archived {
			return !ci.Archived
		}
		return candidates[i].Path < candidates[j].Path
	})

	ids := make(map[string]struct{})
	for _, c := range candidates {
		ids[c.Meta.ID] = struct{}{}
	}
	if len(ids) > 1 {
		return SessionFile{}, fmt.Errorf("session id %q is ambiguous: %d sessions match", id, len(ids))
	}
	return candidates[0], nil
}

// AuxiliaryDirs are directories under the root reported alongside sessions
// in disk usage.
var AuxiliaryDirs = []string{"extensions", "plugins", "cache", "logs"}

// DirUsage is the total size of regular files under one directory.
type DirUsage struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// AuxiliaryUsage measures AuxiliaryDirs under root. Missing or empty
// directories are left out; unreadable entries are skipped.
func AuxiliaryUsage(root string) []DirUsage {
	var out []DirUsage
	for _, name := range AuxiliaryDirs {
		var total int64
		_ = filepath.WalkDir(filepath.Join(root, name), func(_ string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
		if total > 0 {
			out = append(out, DirUsage{Name: name, Bytes: total})
		}
	}
	return out
}
