// Package record provides the typed records decoded from session JSONL logs.
package record

import (
	"encoding/json"
	"time"
)

// Kind identifies the variant of a decoded record.
type Kind string

const (
	KindMessage      Kind = "message"
	KindToolCall     Kind = "tool_call"
	KindCompaction   Kind = "compaction"
	KindModelSwitch  Kind = "model_change"
	KindCustom       Kind = "custom"
	KindSessionStart Kind = "session"
	KindUnknown      Kind = "unknown"
)

// Record is a single decoded log entry. The concrete type is always one of
// Message, ToolCall, Compaction, ModelSwitch, Custom, SessionStart or Unknown,
// so a type switch over those cases is exhaustive.
type Record interface {
	Kind() Kind
	// Time returns the record timestamp and whether one was present.
	Time() (time.Time, bool)
	sealed()
}

// Header holds the fields shared by every record variant.
type Header struct {
	Timestamp time.Time // zero when the line carried no usable timestamp
}

// Time implements Record.
func (h Header) Time() (time.Time, bool) { return h.Timestamp, !h.Timestamp.IsZero() }

func (Header) sealed() {}

// Message is a conversational turn.
type Message struct {
	Header
	Role  string // "user", "assistant", "toolResult", ...
	Model string
}

// Kind implements Record.
func (Message) Kind() Kind { return KindMessage }

// ToolCall is one tool invocation.
type ToolCall struct {
	Header
	Name string
}

// Kind implements Record.
func (ToolCall) Kind() Kind { return KindToolCall }

// Compaction marks a point where history was condensed.
type Compaction struct {
	Header
}

// Kind implements Record.
func (Compaction) Kind() Kind { return KindCompaction }

// ModelSwitch records a change of the active model.
type ModelSwitch struct {
	Header
	Model string
}

// Kind implements Record.
func (ModelSwitch) Kind() Kind { return KindModelSwitch }

// Custom is an extension event with an opaque payload.
type Custom struct {
	Header
	CustomType string
	Payload    json.RawMessage
}

// Kind implements Record.
func (Custom) Kind() Kind { return KindCustom }

// customTypeModelSnapshot carries the model in effect at a point in time.
const customTypeModelSnapshot = "model-snapshot"

// SnapshotModel returns the model id carried by a model-snapshot event, or ""
// for any other custom event.
func (c Custom) SnapshotModel() string {
	if c.CustomType != customTypeModelSnapshot || len(c.Payload) == 0 {
		return ""
	}
	var data struct {
		ModelID json.RawMessage `json:"modelId"`
	}
	if err := json.Unmarshal(c.Payload, &data); err != nil {
		return ""
	}
	return stringValue(data.ModelID)
}

// SessionStart is the header line written when a session is created.
type SessionStart struct {
	Header
	ID    string
	CWD   string
	Label string
}

// Kind implements Record.
func (SessionStart) Kind() Kind { return KindSessionStart }

// Unknown preserves a well-formed entry whose type is not recognized.
type Unknown struct {
	Header
	Type string
	Raw  []byte
}

// Kind implements Record.
func (Unknown) Kind() Kind { return KindUnknown }
