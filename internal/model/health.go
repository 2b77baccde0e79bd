package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IssueTag names one health problem found in a session.
type IssueTag uint8

const (
	TagMegaBloat IssueTag = iota
	TagMessageOverflow
	TagBloated
	TagMessageHeavy
	TagStale
	TagZombie
	TagOverCompacted

	numTags
)

var tagNames = [numTags]string{
	TagMegaBloat:       "mega-bloat",
	TagMessageOverflow: "msg-overflow",
	TagBloated:         "bloated",
	TagMessageHeavy:    "msg-heavy",
	TagStale:           "stale",
	TagZombie:          "zombie",
	TagOverCompacted:   "over-compacted",
}

func (t IssueTag) String() string {
	if t >= numTags {
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
	return tagNames[t]
}

// Severity returns the severity class the tag belongs to.
func (t IssueTag) Severity() Severity {
	switch t {
	case TagMegaBloat, TagMessageOverflow:
		return SeverityCritical
	case TagBloated, TagMessageHeavy, TagStale:
		return SeverityWarning
	case TagZombie:
		return SeverityZombie
	case TagOverCompacted:
		return SeverityCompacted
	default:
		return SeverityHealthy
	}
}

// ParseIssueTag resolves a tag from its String form.
func ParseIssueTag(name string) (IssueTag, error) {
	for i, n := range tagNames {
		if n == name {
			return IssueTag(i), nil
		}
	}
	return 0, fmt.Errorf("unknown issue tag %q", name)
}

// Tags is a set of IssueTag values.
type Tags uint8

// TagsOf builds a set from the given tags.
func TagsOf(tags ...IssueTag) Tags {
	var set Tags
	for _, t := range tags {
		set = set.With(t)
	}
	return set
}

// With returns the set with t added.
func (s Tags) With(t IssueTag) Tags { return s | 1<<t }

// Has reports whether t is in the set.
func (s Tags) Has(t IssueTag) bool { return s&(1<<t) != 0 }

// Empty reports whether the set has no tags.
func (s Tags) Empty() bool { return s == 0 }

// List returns the tags in declaration order.
func (s Tags) List() []IssueTag {
	var out []IssueTag
	for t := IssueTag(0); t < numTags; t++ {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s Tags) String() string {
	list := s.List()
	if len(list) == 0 {
		return "healthy"
	}
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as an array of tag names.
func (s Tags) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s.List()))
	for _, t := range s.List() {
		names = append(names, t.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of tag names.
func (s *Tags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set Tags
	for _, name := range names {
		t, err := ParseIssueTag(name)
		if err != nil {
			return err
		}
		set = set.With(t)
	}
	*s = set
	return nil
}

// Severity ranks verdicts. Higher values take precedence.
type Severity uint8

const (
	SeverityHealthy Severity = iota
	SeverityCompacted
	SeverityZombie
	SeverityWarning
	SeverityCritical
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityWarning,
	SeverityZombie,
	SeverityCompacted,
	SeverityHealthy,
}

func (s Severity) String() string {
	switch s {
	case SeverityHealthy:
		return "healthy"
	case SeverityCompacted:
		return "compacted"
	case SeverityZombie:
		return "zombie"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler so severities can key JSON maps.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for _, candidate := range Severities {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Verdict is the classification of one session. Severity is always derived
// from the tag set.
type Verdict struct {
	Tags Tags
}

// Severity returns the highest-ranked severity among the tags, or
// SeverityHealthy for an empty set.
func (v Verdict) Severity() Severity {
	worst := SeverityHealthy
	for _, t := range v.Tags.List() {
		if sev := t.Severity(); sev > worst {
			worst = sev
		}
	}
	return worst
}

// Healthy reports whether no issue was found.
func (v Verdict) Healthy() bool { return v.Tags.Empty() }

type verdictJSON struct {
	Severity Severity `json:"severity"`
	Tags     Tags     `json:"tags"`
}

// MarshalJSON includes the derived severity next to the tags.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(verdictJSON{Severity: v.Severity(), Tags: v.Tags})
}

// UnmarshalJSON reads the tags; the severity field is ignored and re-derived.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var raw verdictJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Tags = raw.Tags
	return nil
}
