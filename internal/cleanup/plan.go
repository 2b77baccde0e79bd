// Package cleanup selects sessions for archival and moves them into a
// timestamped archive directory. Nothing here deletes a session file.
package cleanup

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"clawdscan/internal/health"
	"clawdscan/internal/model"
)

// RunStampLayout names run directories; it sorts chronologically.
const RunStampLayout = "20060102-150405"

// ErrNoCriteria is returned when no selection criterion is set.
var ErrNoCriteria = errors.New("no cleanup criteria given")

// Reason names a criterion a session matched.
type Reason string

const (
	ReasonZombie Reason = "zombie"
	ReasonStale  Reason = "stale"
	ReasonSize   Reason = "size"
)

// Criteria selects sessions. Zero fields are unset. A session qualifies when
// it matches any set criterion; Agent only narrows the population. MinSize
// selects sessions strictly larger than it.
type Criteria struct {
	Zombies   bool   `json:"zombies,omitempty"`
	StaleDays int    `json:"stale_days,omitempty"`
	MinSize   int64  `json:"min_size,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

// Empty reports whether no selector is set.
func (c Criteria) Empty() bool {
	return !c.Zombies && c.StaleDays <= 0 && c.MinSize <= 0
}

// Match returns the reasons sh qualifies, or nil.
func (c Criteria) Match(sh model.SessionHealth, now time.Time) []Reason {
	if c.Agent != "" && sh.Summary.Agent != c.Agent {
		return nil
	}
	var reasons []Reason
	if c.Zombies && sh.Verdict.Tags.Has(model.TagZombie) {
		reasons = append(reasons, ReasonZombie)
	}
	if c.StaleDays > 0 && health.IsStale(sh.Summary, time.Duration(c.StaleDays)*24*time.Hour, now) {
		reasons = append(reasons, ReasonStale)
	}
	if c.MinSize > 0 && sh.Summary.SizeBytes > c.MinSize {
		reasons = append(reasons, ReasonSize)
	}
	return reasons
}

// Item is one session selected for archival.
type Item struct {
	Session model.SessionSummary `json:"session"`
	Verdict model.Verdict        `json:"verdict"`
	Reasons []Reason             `json:"reasons"`
	Dest    string               `json:"dest"`
}

// Plan is the set of sessions a cleanup would archive.
type Plan struct {
	RunStamp   string    `json:"run_stamp"`
	CreatedAt  time.Time `json:"created_at"`
	Root       string    `json:"root"`
	ArchiveDir string    `json:"archive_dir"`
	Criteria   Criteria  `json:"criteria"`
	Items      []Item    `json:"items"`
	TotalBytes int64     `json:"total_bytes"`
}

// NewPlan selects active sessions of report matching c. Destinations mirror
// each session's path relative to the scan root under
// <archiveRoot>/<run stamp>. It only reads report and never touches the
// filesystem.
func NewPlan(report *model.FleetReport, c Criteria, archiveRoot string, now time.Time) (*Plan, error) {
	if c.Empty() {
		return nil, ErrNoCriteria
	}
	if archiveRoot == "" {
		return nil, errors.New("archive root is required")
	}

	stamp := now.UTC().Format(RunStampLayout)
	plan := &Plan{
		RunStamp:   stamp,
		CreatedAt:  now,
		Root:       report.Root,
		ArchiveDir: filepath.Join(archiveRoot, stamp),
		Criteria:   c,
	}

	for _, sh := range report.Sessions(c.Agent, false) {
		reasons := c.Match(sh, now)
		if len(reasons) == 0 {
			continue
		}
		plan.Items = append(plan.Items, Item{
			Session: sh.Summary,
			Verdict: sh.Verdict,
			Reasons: reasons,
			Dest:    filepath.Join(plan.ArchiveDir, archiveRel(sh.Summary)),
		})
		plan.TotalBytes += sh.Summary.SizeBytes
	}
	return plan, nil
}

func archiveRel(s model.SessionSummary) string {
	rel := filepath.Clean(s.RelPath)
	if s.RelPath == "" || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Join(s.Agent, filepath.Base(s.Path))
	}
	return rel
}
