package model

import (
	"sort"
	"time"
)

// SessionHealth pairs a summary with its verdict.
type SessionHealth struct {
	Summary SessionSummary `json:"session"`
	Verdict Verdict        `json:"verdict"`
}

// ReadFailure records a session file that could not be read.
type ReadFailure struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	Path      string `json:"path"`
	Archived  bool   `json:"archived"`
	Error     string `json:"error"`
}

// Totals aggregates counts for an agent or the whole fleet. Severity counts
// cover active sessions only; archived sessions are counted separately.
type Totals struct {
	ActiveSessions   int              `json:"active_sessions"`
	ArchivedSessions int              `json:"archived_sessions"`
	BySeverity       map[Severity]int `json:"by_severity"`
	ActiveBytes      int64            `json:"active_bytes"`
	ArchivedBytes    int64            `json:"archived_bytes"`
	ReadFailures     int              `json:"read_failures"`
	MalformedLines   int              `json:"malformed_lines"`
}

// DiskBytes returns active plus archived bytes.
func (t Totals) DiskBytes() int64 { return t.ActiveBytes + t.ArchivedBytes }

// Issues returns the number of active sessions that are not healthy.
func (t Totals) Issues() int {
	n := 0
	for sev, count := range t.BySeverity {
		if sev != SeverityHealthy {
			n += count
		}
	}
	return n
}

func (t *Totals) addSession(sh SessionHealth) {
	t.MalformedLines += sh.Summary.MalformedLines
	if sh.Summary.Archived {
		t.ArchivedSessions++
		t.ArchivedBytes += sh.Summary.SizeBytes
		return
	}
	if t.BySeverity == nil {
		t.BySeverity = make(map[Severity]int, len(Severities))
	}
	t.ActiveSessions++
	t.ActiveBytes += sh.Summary.SizeBytes
	t.BySeverity[sh.Verdict.Severity()]++
}

func (t *Totals) merge(other Totals) {
	t.ActiveSessions += other.ActiveSessions
	t.ArchivedSessions += other.ArchivedSessions
	t.ActiveBytes += other.ActiveBytes
	t.ArchivedBytes += other.ArchivedBytes
	t.ReadFailures += other.ReadFailures
	t.MalformedLines += other.MalformedLines
	for sev, count := range other.BySeverity {
		if t.BySeverity == nil {
			t.BySeverity = make(map[Severity]int, len(Severities))
		}
		t.BySeverity[sev] += count
	}
}

// AgentReport groups the sessions of one agent.
type AgentReport struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Sessions []SessionHealth `json:"sessions"`
	Failures []ReadFailure   `json:"failures,omitempty"`
	Totals   Totals          `json:"totals"`
}

// Add records a classified session.
func (a *AgentReport) Add(sh SessionHealth) {
	a.Sessions = append(a.Sessions, sh)
	a.Totals.addSession(sh)
}

// AddFailure records an unreadable session.
func (a *AgentReport) AddFailure(f ReadFailure) {
	a.Failures = append(a.Failures, f)
	a.Totals.ReadFailures++
}

// FleetReport is the result of one scan across every agent.
type FleetReport struct {
	Root       string        `json:"root"`
	ScannedAt  time.Time     `json:"scanned_at"`
	Agents     []AgentReport `json:"agents"`
	Totals     Totals        `json:"totals"`
	Incomplete bool          `json:"incomplete"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Agent returns the report for name, or nil.
func (r *FleetReport) Agent(name string) *AgentReport {
	for i := range r.Agents {
		if r.Agents[i].Name == name {
			return &r.Agents[i]
		}
	}
	return nil
}

// ForAgent returns a copy of r holding only the agent named name, with fleet
// totals recomputed. An empty name returns r itself.
func (r *FleetReport) ForAgent(name string) *FleetReport {
	if name == "" {
		return r
	}
	out := *r
	out.Agents = nil
	if a := r.Agent(name); a != nil {
		out.Agents = []AgentReport{*a}
	}
	out.Totals = Totals{}
	for _, a := range out.Agents {
		out.Totals.merge(a.Totals)
	}
	return &out
}

// Sessions returns every session of the agent named agent, or of all agents
// when agent is empty. Archived sessions are included only when asked for.
func (r *FleetReport) Sessions(agent string, includeArchived bool) []SessionHealth {
	var out []SessionHealth
	for _, a := range r.Agents {
		if agent != "" && a.Name != agent {
			continue
		}
		for _, sh := range a.Sessions {
			if sh.Summary.Archived && !includeArchived {
				continue
			}
			out = append(out, sh)
		}
	}
	return out
}

// Failures returns every read failure across agents.
func (r *FleetReport) Failures() []ReadFailure {
	var out []ReadFailure
	for _, a := range r.Agents {
		out = append(out, a.Failures...)
	}
	return out
}

// Finalize sorts agents and sessions for deterministic output and recomputes
// fleet totals from the per-agent totals.
func (r *FleetReport) Finalize() {
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].Name < r.Agents[j].Name })

	r.Totals = Totals{}
	for i := range r.Agents {
		a := &r.Agents[i]
		sort.Slice(a.Sessions, func(x, y int) bool {
			sx, sy := a.Sessions[x].Summary, a.Sessions[y].Summary
			if sx.ID != sy.ID {
				return sx.ID < sy.ID
			}
			return sx.Path < sy.Path
		})
		sort.Slice(a.Failures, func(x, y int) bool { return a.Failures[x].Path < a.Failures[y].Path })
		r.Totals.merge(a.Totals)
	}
}
