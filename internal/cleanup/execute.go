package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ManifestName is the manifest file written into each run directory.
const ManifestName = "manifest.json"

// Status is the result of one cleanup or restore action.
type Status string

const (
	StatusMoved   Status = "moved"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the per-session result of Execute.
type Outcome struct {
	Item   Item   `json:"item"`
	Status Status `json:"status"`
	Dest   string `json:"dest,omitempty"`
	Bytes  int64  `json:"bytes"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// Result summarizes an executed plan.
type Result struct {
	RunID          string    `json:"run_id"`
	ArchiveDir     string    `json:"archive_dir"`
	Manifest       string    `json:"manifest,omitempty"`
	Outcomes       []Outcome `json:"outcomes"`
	Moved          int       `json:"moved"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	ReclaimedBytes int64     `json:"reclaimed_bytes"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// ExecOptions controls Execute.
type ExecOptions struct {
	// Concurrency bounds parallel moves. Default: 4
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Manifest records one executed run so it can be restored.
type Manifest struct {
	RunID      string          `json:"run_id"`
	Root       string          `json:"root"`
	ArchiveDir string          `json:"archive_dir"`
	StartedAt  time.Time       `json:"started_at"`
	Entries    []ManifestEntry `json:"entries"`
}

// ManifestEntry is one archived session.
type ManifestEntry struct {
	SessionID string   `json:"session_id"`
	Agent     string   `json:"agent"`
	Source    string   `json:"source"`
	Dest      string   `json:"dest"`
	SizeBytes int64    `json:"size_bytes"`
	Reasons   []Reason `json:"reasons"`
}

// Execute moves every planned session into the plan's archive directory.
// A failed move is recorded in its outcome and the rest of the plan
// continues. Moves run in parallel, but two items planned for the same
// destination never move at the same time, and an occupied destination gets
// a numeric suffix instead of being replaced. After the moves a manifest is
// written to the run directory. When ctx is cancelled, items whose move has
// not begun are marked skipped.
func Execute(ctx context.Context, plan *Plan, opts ExecOptions) (*Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger

	result := &Result{
		RunID:      uuid.NewString(),
		ArchiveDir: plan.ArchiveDir,
		Outcomes:   make([]Outcome, len(plan.Items)),
	}
	if len(plan.Items) == 0 {
		return result, nil
	}
	started := opts.Now().UTC()

	if err := os.MkdirAll(plan.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	locks := newKeyedMutex()
	var wg sync.WaitGroup

	for i, item := range plan.Items {
		result.Outcomes[i] = Outcome{Item: item}
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(plan.Items); j++ {
				result.Outcomes[j] = Outcome{Item: plan.Items[j], Status: StatusSkipped, Err: err, Error: err.Error()}
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			unlock := locks.Lock(item.Dest)
			defer unlock()
			result.Outcomes[i] = moveItem(ctx, item)
		}()
	}
	wg.Wait()

	manifest := Manifest{
		RunID:      result.RunID,
		Root:       plan.Root,
		ArchiveDir: plan.ArchiveDir,
		StartedAt:  started,
	}
	for _, o := range result.Outcomes {
		switch o.Status {
		case StatusMoved:
			result.Moved++
			result.ReclaimedBytes += o.Bytes
			manifest.Entries = append(manifest.Entries, ManifestEntry{
				SessionID: o.Item.Session.ID,
				Agent:     o.Item.Session.Agent,
				Source:    o.Item.Session.Path,
				Dest:      o.Dest,
				SizeBytes: o.Bytes,
				Reasons:   o.Item.Reasons,
			})
			log.Debug("session archived", "id", o.Item.Session.ID, "dest", o.Dest)
		case StatusFailed:
			result.Failed++
			log.Warn("session not archived", "id", o.Item.Session.ID, "error", o.Error)
		case StatusSkipped:
			result.Skipped++
		}
	}

	if len(manifest.Entries) > 0 {
		path, err := writeManifest(plan.ArchiveDir, manifest)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("write manifest: %v", err))
			log.Warn("manifest not written", "dir", plan.ArchiveDir, "error", err)
		} else {
			result.Manifest = path
		}
	}
	return result, nil
}

func moveItem(ctx context.Context, item Item) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Item: item, Status: StatusSkipped, Err: err, Error: err.Error()}
	}
	src := item.Session.Path
	out := Outcome{Item: item, Status: StatusFailed}

	dest, err := reserve(item.Dest, true)
	if err != nil {
		out.Err = &MoveError{Source: src, Dest: item.Dest, Err: err}
		out.Error = out.Err.Error()
		return out
	}
	n, err := relocate(src, dest)
	if err != nil {
		_ = os.Remove(dest)
		out.Err = &MoveError{Source: src, Dest: dest, Err: err}
		out.Error = out.Err.Error()
		return out
	}
	out.Status = StatusMoved
	out.Dest = dest
	out.Bytes = n
	return out
}

func writeManifest(dir string, m Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ManifestName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		path = filepath.Join(dir, "manifest-"+m.RunID[:8]+".json")
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// ReadManifest loads a manifest written by Execute.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// RestoreOutcome is the per-entry result of Restore.
type RestoreOutcome struct {
	Entry  ManifestEntry `json:"entry"`
	Status Status        `json:"status"`
	Err    error         `json:"-"`
	Error  string        `json:"error,omitempty"`
}

// Restore moves the sessions listed in the manifest at path back to their
// original locations. An entry whose original path is occupied, or whose
// archived file is gone, fails without touching either file.
func Restore(ctx context.Context, path string, logger *slog.Logger) ([]RestoreOutcome, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}

	outcomes := make([]RestoreOutcome, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, RestoreOutcome{Entry: entry, Status: StatusSkipped, Err: err, Error: err.Error()})
			continue
		}
		out := RestoreOutcome{Entry: entry, Status: StatusMoved}
		if err := restoreEntry(entry); err != nil {
			out.Status = StatusFailed
			out.Err = err
			out.Error = err.Error()
			logger.Warn("session not restored", "id", entry.SessionID, "error", err)
		} else {
			logger.Debug("session restored", "id", entry.SessionID, "path", entry.Source)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func restoreEntry(entry ManifestEntry) error {
	if _, err := os.Stat(entry.Dest); err != nil {
		return &MoveError{Source: entry.Dest, Dest: entry.Source, Err: err}
	}
	target, err := reserve(entry.Source, false)
	if err != nil {
		return &MoveError{Source: entry.Dest, Dest: entry.Source, Err: err}
	}
	if _, err := relocate(entry.Dest, target); err != nil {
		_ = os.Remove(target)
		return &MoveError{Source: entry.Dest, Dest: entry.Source, Err: err}
	}
	return nil
}
