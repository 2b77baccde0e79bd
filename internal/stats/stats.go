// Package stats ranks and aggregates sessions of a completed fleet report.
// Every function is read-only over its input.
package stats

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"clawdscan/internal/model"
)

// Key selects the ranking field for Top.
type Key string

const (
	KeySize     Key = "size"
	KeyMessages Key = "messages"
)

// ParseKey validates a ranking key name.
func ParseKey(s string) (Key, error) {
	switch Key(strings.ToLower(s)) {
	case KeySize:
		return KeySize, nil
	case KeyMessages, "msgs":
		return KeyMessages, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want size or messages)", s)
}

func (k Key) value(s model.SessionSummary) int64 {
	if k == KeyMessages {
		return int64(s.MessageCount)
	}
	return s.SizeBytes
}

// Top returns the n sessions with the largest key value, ties broken by
// ascending session id and then path. n <= 0 returns every session ranked.
func Top(sessions []model.SessionHealth, key Key, n int) []model.SessionHealth {
	ranked := slices.Clone(sessions)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Summary, ranked[j].Summary
		va, vb := key.value(a), key.value(b)
		if va != vb {
			return va > vb
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Path < b.Path
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Distribution summarizes a population of values.
type Distribution struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
	Min   int64 `json:"min"`
	P50   int64 `json:"p50"`
	P90   int64 `json:"p90"`
	P99   int64 `json:"p99"`
	Max   int64 `json:"max"`
}

// Mean returns the arithmetic mean, or 0 for an empty population.
func (d Distribution) Mean() float64 {
	if d.Count == 0 {
		return 0
	}
	return float64(d.Total) / float64(d.Count)
}

// Percentiles computes nearest-rank percentiles: the value at index
// floor(n*q) of the sorted population, clamped to the last element.
func Percentiles(values []int64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var total int64
	for _, v := range sorted {
		total += v
	}
	return Distribution{
		Count: len(sorted),
		Total: total,
		Min:   sorted[0],
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P99:   percentile(sorted, 0.99),
		Max:   sorted[len(sorted)-1],
	}
}

func percentile(sorted []int64, q float64) int64 {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Population holds size and message distributions for a set of sessions.
type Population struct {
	Size     Distribution `json:"size_bytes"`
	Messages Distribution `json:"messages"`
}

// Describe computes the size and message distributions of sessions.
func Describe(sessions []model.SessionHealth) Population {
	sizes := make([]int64, 0, len(sessions))
	msgs := make([]int64, 0, len(sessions))
	for _, sh := range sessions {
		sizes = append(sizes, sh.Summary.SizeBytes)
		msgs = append(msgs, int64(sh.Summary.MessageCount))
	}
	return Population{Size: Percentiles(sizes), Messages: Percentiles(msgs)}
}

// Count is one entry of a usage histogram.
type Count struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Sessions int    `json:"sessions"`
}

// Usage is a merged histogram over a set of sessions.
type Usage struct {
	Sessions int     `json:"sessions"`
	Total    int     `json:"total"`
	Entries  []Count `json:"entries"`
}

// ToolUsage sums the per-session tool histograms. Entries are ordered by
// count descending, then name.
func ToolUsage(sessions []model.SessionHealth) Usage {
	counts := make(map[string]*Count)
	usage := Usage{Sessions: len(sessions)}
	for _, sh := range sessions {
		for name, n := range sh.Summary.Tools {
			c := counts[name]
			if c == nil {
				c = &Count{Name: name}
				counts[name] = c
			}
			c.Count += n
			c.Sessions++
			usage.Total += n
		}
	}
	usage.Entries = sortedCounts(counts)
	return usage
}

// ModelUsage counts, per model, the sessions that used it and the messages
// in those sessions. Entries are ordered by sessions descending, then name.
func ModelUsage(sessions []model.SessionHealth) Usage {
	counts := make(map[string]*Count)
	usage := Usage{Sessions: len(sessions)}
	for _, sh := range sessions {
		for _, m := range sh.Summary.Models {
			c := counts[m]
			if c == nil {
				c = &Count{Name: m}
				counts[m] = c
			}
			c.Sessions++
			c.Count += sh.Summary.MessageCount
		}
		usage.Total += sh.Summary.MessageCount
	}
	entries := make([]Count, 0, len(counts))
	for _, c := range counts {
		entries = append(entries, *c)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Sessions != entries[j].Sessions {
			return entries[i].Sessions > entries[j].Sessions
		}
		return entries[i].Name < entries[j].Name
	})
	usage.Entries = entries
	return usage
}

func sortedCounts(counts map[string]*Count) []Count {
	entries := make([]Count, 0, len(counts))
	for _, c := range counts {
		entries = append(entries, *c)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// Limit truncates the entries to at most n. n <= 0 keeps everything.
func (u Usage) Limit(n int) Usage {
	if n > 0 && len(u.Entries) > n {
		u.Entries = u.Entries[:n]
	}
	return u
}

// AgentDisk is the disk breakdown of one agent.
type AgentDisk struct {
	Agent         string       `json:"agent"`
	Active        int          `json:"active_sessions"`
	ActiveBytes   int64        `json:"active_bytes"`
	Archived      int          `json:"archived_sessions"`
	ArchivedBytes int64        `json:"archived_bytes"`
	ActiveSizes   Distribution `json:"active_sizes"`
}

// TotalBytes returns active plus archived bytes.
func (d AgentDisk) TotalBytes() int64 { return d.ActiveBytes + d.ArchivedBytes }

// Disk breaks disk usage down per agent in report order.
func Disk(report *model.FleetReport) []AgentDisk {
	out := make([]AgentDisk, 0, len(report.Agents))
	for _, a := range report.Agents {
		d := AgentDisk{
			Agent:         a.Name,
			Active:        a.Totals.ActiveSessions,
			ActiveBytes:   a.Totals.ActiveBytes,
			Archived:      a.Totals.ArchivedSessions,
			ArchivedBytes: a.Totals.ArchivedBytes,
		}
		var sizes []int64
		for _, sh := range a.Sessions {
			if !sh.Summary.Archived {
				sizes = append(sizes, sh.Summary.SizeBytes)
			}
		}
		d.ActiveSizes = Percentiles(sizes)
		out = append(out, d)
	}
	return out
}

// Week is one bucket of a trend.
type Week struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Sessions int       `json:"sessions"`
	Bytes    int64     `json:"bytes"`
	Bloated  int       `json:"bloated"`
	Zombies  int       `json:"zombies"`

	// Growth is the percentage change against the previous week, present
	// when the previous week had sessions.
	SessionGrowth *float64 `json:"session_growth,omitempty"`
	BytesGrowth   *float64 `json:"bytes_growth,omitempty"`
}

// Trends buckets active sessions by the week of their last activity over the
// days before now. Weeks run forward from now-days; every week is present,
// including empty ones.
func Trends(sessions []model.SessionHealth, now time.Time, days int) []Week {
	if days <= 0 {
		return nil
	}
	const week = 7 * 24 * time.Hour
	start := now.Add(-time.Duration(days) * 24 * time.Hour)
	n := (days + 6) / 7

	weeks := make([]Week, n)
	for i := range weeks {
		weeks[i].Start = start.Add(time.Duration(i) * week)
		end := weeks[i].Start.Add(week)
		if end.After(now) {
			end = now
		}
		weeks[i].End = end
	}

	for _, sh := range sessions {
		if sh.Summary.Archived {
			continue
		}
		at := sh.Summary.LastActivity()
		if at.Before(start) || at.After(now) {
			continue
		}
		i := int(at.Sub(start) / week)
		if i >= n {
			i = n - 1
		}
		w := &weeks[i]
		w.Sessions++
		w.Bytes += sh.Summary.SizeBytes
		if isBloated(sh.Verdict.Tags) {
			w.Bloated++
		}
		if sh.Verdict.Tags.Has(model.TagZombie) {
			w.Zombies++
		}
	}

	for i := 1; i < n; i++ {
		prev, cur := weeks[i-1], &weeks[i]
		if prev.Sessions > 0 {
			cur.SessionGrowth = growth(float64(prev.Sessions), float64(cur.Sessions))
		}
		if prev.Bytes > 0 {
			cur.BytesGrowth = growth(float64(prev.Bytes), float64(cur.Bytes))
		}
	}
	return weeks
}

func isBloated(tags model.Tags) bool {
	return tags.Has(model.TagMegaBloat) || tags.Has(model.TagBloated) ||
		tags.Has(model.TagMessageOverflow) || tags.Has(model.TagMessageHeavy)
}

func growth(prev, cur float64) *float64 {
	g := (cur - prev) / prev * 100
	return &g
}
