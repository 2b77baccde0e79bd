// Package model provides the shared data model for session health reports.
package model

import (
	"slices"
	"time"
)

// SessionSummary is the folded view of one session log file.
type SessionSummary struct {
	ID       string `json:"id"`       // Derived from the file name
	Agent    string `json:"agent"`    // Owning agent directory name
	Path     string `json:"path"`     // Full path to the JSONL file
	RelPath  string `json:"rel_path"` // Path relative to the scan root
	Archived bool   `json:"archived"` // Soft-deleted (".deleted.") session

	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`

	MessageCount      int `json:"message_count"`
	UserMessages      int `json:"user_messages"`
	AssistantMessages int `json:"assistant_messages"`
	ToolCallCount     int `json:"tool_call_count"`
	CompactionCount   int `json:"compaction_count"`
	ModelSwitches     int `json:"model_switches"`

	Models      []string       `json:"models"`       // Sorted, distinct
	Tools       map[string]int `json:"tools"`        // Tool name -> invocations
	CustomTypes map[string]int `json:"custom_types"` // Custom event type -> count

	FirstTimestamp *time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp  *time.Time `json:"last_timestamp,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"` // Session header timestamp

	HeaderID string `json:"header_id,omitempty"`
	CWD      string `json:"cwd,omitempty"`
	Label    string `json:"label,omitempty"`

	MalformedLines int `json:"malformed_lines"`
}

// LastActivity returns the latest record timestamp, falling back to the file
// modification time for logs without timestamps.
func (s SessionSummary) LastActivity() time.Time {
	if s.LastTimestamp != nil {
		return *s.LastTimestamp
	}
	return s.ModTime
}

// Created returns the session creation time: the header timestamp, else the
// earliest record timestamp, else the file modification time.
func (s SessionSummary) Created() time.Time {
	if s.CreatedAt != nil {
		return *s.CreatedAt
	}
	if s.FirstTimestamp != nil {
		return *s.FirstTimestamp
	}
	return s.ModTime
}

// HasModel reports whether id was observed in the session.
func (s SessionSummary) HasModel(id string) bool {
	_, found := slices.BinarySearch(s.Models, id)
	return found
}
