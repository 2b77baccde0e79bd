// Package session folds session log records into per-session summaries.
package session

import (
	"errors"
	"maps"
	"os"
	"slices"
	"time"

	"clawdscan/internal/model"
	"clawdscan/internal/record"
)

// Meta carries the identity of a session file, as derived by the caller from
// its location.
type Meta struct {
	ID       string
	Agent    string
	RelPath  string
	Archived bool
}

// Aggregator accumulates records of one session in a single pass. Its memory
// use grows with the number of distinct tools, models and custom types only.
type Aggregator struct {
	summary model.SessionSummary
	models  map[string]struct{}

	first, last time.Time
	created     time.Time
}

// NewAggregator starts a summary from base, which supplies the identity and
// file fields.
func NewAggregator(base model.SessionSummary) *Aggregator {
	base.Tools = make(map[string]int)
	base.CustomTypes = make(map[string]int)
	return &Aggregator{
		summary: base,
		models:  make(map[string]struct{}),
	}
}

// Add folds one record into the summary.
func (a *Aggregator) Add(rec record.Record) {
	if ts, ok := rec.Time(); ok {
		if a.first.IsZero() || ts.Before(a.first) {
			a.first = ts
		}
		if a.last.IsZero() || ts.After(a.last) {
			a.last = ts
		}
	}

	switch r := rec.(type) {
	case record.Message:
		a.summary.MessageCount++
		switch r.Role {
		case "user":
			a.summary.UserMessages++
		case "assistant":
			a.summary.AssistantMessages++
		}
		a.addModel(r.Model)
	case record.ToolCall:
		a.summary.ToolCallCount++
		a.summary.Tools[r.Name]++
	case record.Compaction:
		a.summary.CompactionCount++
	case record.ModelSwitch:
		a.summary.ModelSwitches++
		a.addModel(r.Model)
	case record.Custom:
		a.summary.CustomTypes[r.CustomType]++
		a.addModel(r.SnapshotModel())
	case record.SessionStart:
		if ts, ok := r.Time(); ok && a.created.IsZero() {
			a.created = ts
		}
		if a.summary.HeaderID == "" {
			a.summary.HeaderID = r.ID
		}
		if a.summary.CWD == "" {
			a.summary.CWD = r.CWD
		}
		if a.summary.Label == "" {
			a.summary.Label = r.Label
		}
	case record.Unknown:
	}
}

func (a *Aggregator) addModel(id string) {
	if id != "" {
		a.models[id] = struct{}{}
	}
}

// Summary returns the folded summary. malformed is the number of lines the
// parser skipped.
func (a *Aggregator) Summary(malformed int) model.SessionSummary {
	out := a.summary
	out.MalformedLines = malformed
	out.Models = slices.Sorted(maps.Keys(a.models))
	out.Tools = maps.Clone(a.summary.Tools)
	out.CustomTypes = maps.Clone(a.summary.CustomTypes)
	out.FirstTimestamp = timePtr(a.first)
	out.LastTimestamp = timePtr(a.last)
	out.CreatedAt = timePtr(a.created)
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Summarize reads the session file at path and folds it into a summary.
// Unreadable files yield a *record.ReadError; malformed lines never fail.
func Summarize(path string, meta Meta) (model.SessionSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.SessionSummary{}, &record.ReadError{Path: path, Err: err}
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return model.SessionSummary{}, &record.ReadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return model.SessionSummary{}, &record.ReadError{Path: path, Err: errors.New("is a directory")}
	}

	agg := NewAggregator(model.SessionSummary{
		ID:        meta.ID,
		Agent:     meta.Agent,
		Path:      path,
		RelPath:   meta.RelPath,
		Archived:  meta.Archived,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime().UTC(),
	})

	tally, err := record.IterateReader(file, func(rec record.Record) error {
		agg.Add(rec)
		return nil
	})
	if err != nil {
		var readErr *record.ReadError
		if errors.As(err, &readErr) {
			readErr.Path = path
			return model.SessionSummary{}, readErr
		}
		return model.SessionSummary{}, &record.ReadError{Path: path, Err: err}
	}

	return agg.Summary(tally.Malformed), nil
}
