package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"strings"
	"time"
)

// ReadError reports that a session file could not be opened or read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read session %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Tally counts what one pass over a log saw.
type Tally struct {
	Lines     int // non-blank lines
	Records   int // records emitted, one line may emit several
	Malformed int // lines skipped as unparseable
}

const (
	readBufferSize = 64 * 1024
	// Lines beyond this are skipped as malformed rather than buffered.
	maxLineBytes = 64 * 1024 * 1024
)

var errStop = errors.New("stop iteration")

// Iterate streams the log at path and calls fn for each record in file order.
// Malformed lines are counted and skipped. Open and read failures are returned
// as *ReadError. An error returned by fn stops iteration and is returned as is.
func Iterate(path string, fn func(Record) error) (Tally, error) {
	file, err := os.Open(path)
	if err != nil {
		return Tally{}, &ReadError{Path: path, Err: err}
	}
	defer file.Close() //nolint:errcheck

	tally, err := IterateReader(file, fn)
	var readErr *ReadError
	if errors.As(err, &readErr) {
		readErr.Path = path
	}
	return tally, err
}

// IterateReader is Iterate over an already open stream.
func IterateReader(r io.Reader, fn func(Record) error) (Tally, error) {
	var (
		tally   Tally
		stopErr error
		dec     = newDecoder()
	)

	emit := func(rec Record) error {
		tally.Records++
		if err := fn(rec); err != nil {
			stopErr = err
			return errStop
		}
		return nil
	}

	err := scanLines(r, func(line []byte, oversized bool) error {
		if oversized {
			tally.Lines++
			tally.Malformed++
			return nil
		}
		if len(line) == 0 {
			return nil
		}
		tally.Lines++
		ok, err := dec.decodeLine(line, emit)
		if !ok {
			tally.Malformed++
		}
		return err
	})

	switch {
	case err == nil:
		return tally, nil
	case errors.Is(err, errStop):
		return tally, stopErr
	default:
		return tally, &ReadError{Err: err}
	}
}

// All returns a restartable sequence over the records at path. Every range
// reopens the file. A read failure is yielded once as (nil, *ReadError).
func All(path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		_, err := Iterate(path, func(rec Record) error {
			if !yield(rec, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, err)
		}
	}
}

// scanLines calls fn with each line trimmed of surrounding whitespace. Lines
// longer than maxLineBytes are drained and reported with oversized set.
func scanLines(r io.Reader, fn func(line []byte, oversized bool) error) error {
	reader := bufio.NewReaderSize(r, readBufferSize)
	var (
		pending   []byte
		oversized bool
	)
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 && !oversized {
			if len(pending)+len(chunk) > maxLineBytes {
				oversized = true
				pending = pending[:0]
			} else {
				pending = append(pending, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if len(pending) > 0 || oversized {
			if cbErr := fn(bytes.TrimSpace(pending), oversized); cbErr != nil {
				return cbErr
			}
		}
		pending = pending[:0]
		oversized = false

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type rawEntry struct {
	Type       json.RawMessage `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Message    json.RawMessage `json:"message"`
	Model      json.RawMessage `json:"model"`
	ModelID    json.RawMessage `json:"modelId"`
	Name       json.RawMessage `json:"name"`
	ToolName   json.RawMessage `json:"toolName"`
	CustomType json.RawMessage `json:"customType"`
	Data       json.RawMessage `json:"data"`
	ID         json.RawMessage `json:"id"`
	CWD        json.RawMessage `json:"cwd"`
	Label      json.RawMessage `json:"label"`
}

type messagePayload struct {
	Role       json.RawMessage `json:"role"`
	Model      json.RawMessage `json:"model"`
	ToolName   json.RawMessage `json:"toolName"`
	ToolCallID json.RawMessage `json:"toolCallId"`
	ToolUseID  json.RawMessage `json:"toolUseId"`
	Content    json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type json.RawMessage `json:"type"`
	Name json.RawMessage `json:"name"`
	ID   json.RawMessage `json:"id"`
}

// decoder carries the per-stream state needed to count each tool call once.
// A call can appear both as an assistant tool block and as a later toolResult
// message. The result only counts when it has no matching block: by call id
// when it carries one, otherwise only while the stream has had no tool blocks.
type decoder struct {
	callIDs    map[string]struct{}
	blockCalls int
}

func newDecoder() *decoder {
	return &decoder{callIDs: make(map[string]struct{})}
}

func (d *decoder) noteCall(id string) {
	d.blockCalls++
	if id != "" {
		d.callIDs[id] = struct{}{}
	}
}

func (d *decoder) resultCounts(id string) bool {
	if id != "" {
		_, seen := d.callIDs[id]
		return !seen
	}
	return d.blockCalls == 0
}

// decodeLine decodes one JSON line and emits its records. It reports false
// when the line is not an object with a string "type" discriminant.
func (d *decoder) decodeLine(line []byte, emit func(Record) error) (bool, error) {
	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return false, nil
	}
	entryType := stringValue(entry.Type)
	if entryType == "" {
		return false, nil
	}

	header := Header{Timestamp: parseTimestamp(entry.Timestamp)}

	switch entryType {
	case "message":
		return true, d.emitMessage(header, entry, emit)
	case "tool_call", "tool_use", "toolCall":
		d.noteCall(stringValue(entry.ID))
		name := firstString(entry.Name, entry.ToolName)
		return true, emit(ToolCall{Header: header, Name: toolName(name)})
	case "compaction":
		return true, emit(Compaction{Header: header})
	case "model_change":
		return true, emit(ModelSwitch{Header: header, Model: firstString(entry.ModelID, entry.Model)})
	case "custom":
		customType := stringValue(entry.CustomType)
		if customType == "" {
			customType = "unknown"
		}
		var payload json.RawMessage
		if len(entry.Data) > 0 {
			payload = bytes.Clone(entry.Data)
		}
		return true, emit(Custom{Header: header, CustomType: customType, Payload: payload})
	case "session":
		return true, emit(SessionStart{
			Header: header,
			ID:     stringValue(entry.ID),
			CWD:    stringValue(entry.CWD),
			Label:  firstString(entry.Label, entry.Name),
		})
	default:
		return true, emit(Unknown{Header: header, Type: entryType, Raw: bytes.Clone(line)})
	}
}

func (d *decoder) emitMessage(header Header, entry rawEntry, emit func(Record) error) error {
	var msg messagePayload
	if len(entry.Message) > 0 {
		// A message body that is not an object still counts as a message.
		_ = json.Unmarshal(entry.Message, &msg)
	}

	role := stringValue(msg.Role)
	model := firstString(msg.Model, entry.Model)
	if err := emit(Message{Header: header, Role: role, Model: model}); err != nil {
		return err
	}

	switch role {
	case "assistant":
		for _, block := range toolUseBlocks(msg.Content) {
			d.noteCall(stringValue(block.ID))
			if err := emit(ToolCall{Header: header, Name: toolName(stringValue(block.Name))}); err != nil {
				return err
			}
		}
	case "toolResult":
		if d.resultCounts(firstString(msg.ToolCallID, msg.ToolUseID)) {
			return emit(ToolCall{Header: header, Name: toolName(stringValue(msg.ToolName))})
		}
	}
	return nil
}

// toolUseBlocks returns the tool_use blocks of an assistant content array.
// Non-array content yields nothing.
func toolUseBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var calls []contentBlock
	for _, rawBlock := range blocks {
		var block contentBlock
		if err := json.Unmarshal(rawBlock, &block); err != nil {
			continue
		}
		switch stringValue(block.Type) {
		case "tool_use", "toolCall":
			calls = append(calls, block)
		}
	}
	return calls
}

func toolName(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

// stringValue returns raw decoded as a JSON string, or "" when it is absent or
// of another JSON type.
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstString(values ...json.RawMessage) string {
	for _, raw := range values {
		if s := stringValue(raw); s != "" {
			return s
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Epoch numbers are only trusted between 1970 and the end of year 9999.
var maxEpoch = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)

// parseTimestamp accepts RFC3339 strings (zone-less values are read as UTC)
// and epoch numbers in seconds or milliseconds. Anything else is zero.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	if raw[0] != '"' {
		var epoch float64
		if err := json.Unmarshal(raw, &epoch); err != nil {
			return time.Time{}
		}
		return epochTime(epoch)
	}

	value := strings.TrimSpace(stringValue(raw))
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// epochTime reads values of 1e12 and above as milliseconds, smaller ones as
// seconds. Values outside the trusted window are zero.
func epochTime(epoch float64) time.Time {
	if math.IsNaN(epoch) || math.IsInf(epoch, 0) || epoch <= 0 {
		return time.Time{}
	}
	millis := epoch
	if epoch < 1e12 {
		millis = epoch * 1000
	}
	if millis >= float64(maxEpoch.UnixMilli()) {
		return time.Time{}
	}
	return time.UnixMilli(int64(millis)).UTC()
}
