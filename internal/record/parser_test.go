package record

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func collect(t *testing.T, path string) ([]Record, Tally) {
	t.Helper()
	var records []Record
	tally, err := Iterate(path, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate returned error: %v", err)
	}
	return records, tally
}

func TestIterateVariants(t *testing.T) {
	path := writeLog(t,
		`{"type":"session","id":"abc","cwd":"/work","label":"demo","timestamp":"2025-01-05T10:00:00Z"}`,
		`{"type":"message","timestamp":"2025-01-05T10:00:01Z","message":{"role":"user","content":"hi"}}`,
		`{"type":"message","timestamp":"2025-01-05T10:00:02Z","message":{"role":"assistant","model":"claude-opus","content":[{"type":"text","text":"ok"},{"type":"tool_use","name":"exec"},{"type":"toolCall","name":"read"}]}}`,
		`{"type":"compaction","timestamp":"2025-01-05T10:00:03Z"}`,
		`{"type":"model_change","modelId":"gpt-5","timestamp":"2025-01-05T10:00:04Z"}`,
		`{"type":"custom","customType":"model-snapshot","data":{"modelId":"claude-haiku"}}`,
		`{"type":"thinking_level_change","level":"high"}`,
		`{"type":"tool_call","toolName":"grep","timestamp":1736071205000}`,
	)

	records, tally := collect(t, path)

	wantKinds := []Kind{
		KindSessionStart, KindMessage, KindMessage, KindToolCall, KindToolCall,
		KindCompaction, KindModelSwitch, KindCustom, KindUnknown, KindToolCall,
	}
	if len(records) != len(wantKinds) {
		t.Fatalf("expected %d records, got %d", len(wantKinds), len(records))
	}
	for i, kind := range wantKinds {
		if records[i].Kind() != kind {
			t.Fatalf("record %d: expected kind %s, got %s", i, kind, records[i].Kind())
		}
	}
	if tally.Lines != 8 || tally.Malformed != 0 || tally.Records != len(wantKinds) {
		t.Fatalf("unexpected tally: %+v", tally)
	}

	start, ok := records[0].(SessionStart)
	if !ok || start.ID != "abc" || start.CWD != "/work" || start.Label != "demo" {
		t.Fatalf("unexpected session header: %#v", records[0])
	}

	assistant := records[2].(Message)
	if assistant.Role != "assistant" || assistant.Model != "claude-opus" {
		t.Fatalf("unexpected assistant message: %#v", assistant)
	}
	if got := records[3].(ToolCall).Name; got != "exec" {
		t.Fatalf("unexpected tool name: %s", got)
	}
	if got := records[4].(ToolCall).Name; got != "read" {
		t.Fatalf("unexpected tool name: %s", got)
	}
	if got := records[6].(ModelSwitch).Model; got != "gpt-5" {
		t.Fatalf("unexpected model switch: %s", got)
	}
	if got := records[7].(Custom).SnapshotModel(); got != "claude-haiku" {
		t.Fatalf("unexpected snapshot model: %s", got)
	}
	if got := records[8].(Unknown).Type; got != "thinking_level_change" {
		t.Fatalf("unknown type not preserved: %s", got)
	}

	ts, ok := records[9].Time()
	if !ok || !ts.Equal(time.Date(2025, 1, 5, 10, 0, 5, 0, time.UTC)) {
		t.Fatalf("epoch millis timestamp not parsed: %v %v", ts, ok)
	}
	if _, ok := records[7].Time(); ok {
		t.Fatalf("custom record without timestamp should be untimed")
	}
}

func TestIterateSkipsMalformedLines(t *testing.T) {
	path := writeLog(t,
		`{"type":"message","message":{"role":"user"}}`,
		`not json at all`,
		``,
		`{"no_type":true}`,
		`{"type":42}`,
		`[1,2,3]`,
		`null`,
		`{"type":"compaction","timestamp":"yesterday"}`,
		`{"type":"message","message":{"role":"assis`, // truncated tail
	)

	records, tally := collect(t, path)

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if tally.Malformed != 6 {
		t.Fatalf("expected 6 malformed lines, got %d", tally.Malformed)
	}
	if tally.Lines != 8 {
		t.Fatalf("blank lines should not be counted, got %d", tally.Lines)
	}
	if _, ok := records[1].Time(); ok {
		t.Fatalf("unparseable timestamp should leave record untimed")
	}
}

func TestIterateMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	_, err := Iterate(path, func(Record) error { return nil })

	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if readErr.Path != path {
		t.Fatalf("unexpected path in error: %s", readErr.Path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadError should unwrap to os.ErrNotExist")
	}
}

func TestIterateStopsOnCallbackError(t *testing.T) {
	path := writeLog(t,
		`{"type":"compaction"}`,
		`{"type":"compaction"}`,
		`{"type":"compaction"}`,
	)
	stop := errors.New("enough")

	seen := 0
	_, err := Iterate(path, func(Record) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if seen != 2 {
		t.Fatalf("iteration should stop after 2 records, saw %d", seen)
	}
}

func TestAllIsRestartable(t *testing.T) {
	path := writeLog(t,
		`{"type":"message","message":{"role":"user"}}`,
		`{"type":"compaction"}`,
	)
	seq := All(path)

	for pass := 0; pass < 2; pass++ {
		count := 0
		for rec, err := range seq {
			if err != nil {
				t.Fatalf("pass %d: unexpected error %v", pass, err)
			}
			if rec == nil {
				t.Fatalf("pass %d: nil record", pass)
			}
			count++
		}
		if count != 2 {
			t.Fatalf("pass %d: expected 2 records, got %d", pass, count)
		}
	}

	for range seq {
		break
	}
}

func TestAllYieldsReadError(t *testing.T) {
	var errs int
	for rec, err := range All(filepath.Join(t.TempDir(), "gone.jsonl")) {
		if rec != nil {
			t.Fatalf("unexpected record %#v", rec)
		}
		var readErr *ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("expected *ReadError, got %v", err)
		}
		errs++
	}
	if errs != 1 {
		t.Fatalf("expected exactly one error, got %d", errs)
	}
}

func TestScanLinesLongLine(t *testing.T) {
	long := `{"type":"message","message":{"role":"user","content":"` + strings.Repeat("x", 3*readBufferSize) + `"}}`
	path := writeLog(t, long, `{"type":"compaction"}`)

	records, tally := collect(t, path)
	if len(records) != 2 || tally.Malformed != 0 {
		t.Fatalf("long line should decode: records=%d tally=%+v", len(records), tally)
	}
}

func toolNames(records []Record) []string {
	var names []string
	for _, rec := range records {
		if call, ok := rec.(ToolCall); ok {
			names = append(names, call.Name)
		}
	}
	return names
}

func TestIterateToolResults(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  []string
	}{
		{
			name: "results only",
			lines: []string{
				`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"running"}]}}`,
				`{"type":"message","message":{"role":"toolResult","toolName":"exec"}}`,
				`{"type":"message","message":{"role":"toolResult"}}`,
			},
			want: []string{"exec", "unknown"},
		},
		{
			name: "result matching a block by id",
			lines: []string{
				`{"type":"message","message":{"role":"assistant","content":[{"type":"toolCall","id":"c1","name":"exec"}]}}`,
				`{"type":"message","message":{"role":"toolResult","toolCallId":"c1","toolName":"exec"}}`,
				`{"type":"message","message":{"role":"toolResult","toolCallId":"c2","toolName":"read"}}`,
			},
			want: []string{"exec", "read"},
		},
		{
			name: "result without id after blocks",
			lines: []string{
				`{"type":"message","message":{"role":"assistant","content":[{"type":"tool_use","name":"exec"}]}}`,
				`{"type":"message","message":{"role":"toolResult","toolName":"exec"}}`,
			},
			want: []string{"exec"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, _ := collect(t, writeLog(t, tc.lines...))
			got := toolNames(records)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("tool calls = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseTimestampEpochRange(t *testing.T) {
	cases := map[string]time.Time{
		`1736071205`:    time.Date(2025, 1, 5, 10, 0, 5, 0, time.UTC),
		`1736071205000`: time.Date(2025, 1, 5, 10, 0, 5, 0, time.UTC),
		`1736071205.5`:  time.Date(2025, 1, 5, 10, 0, 5, 500*int(time.Millisecond), time.UTC),
		`1e300`:         {},
		`-5`:            {},
		`0`:             {},
		`253402300800`:  {}, // 10000-01-01 in seconds
		`true`:          {},
	}
	for raw, want := range cases {
		if got := parseTimestamp([]byte(raw)); !got.Equal(want) {
			t.Fatalf("parseTimestamp(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestIterateGarbageEpochLeavesRecordUntimed(t *testing.T) {
	path := writeLog(t,
		`{"type":"message","timestamp":1e300,"message":{"role":"user"}}`,
		`{"type":"message","timestamp":"2025-01-01T00:00:01Z","message":{"role":"assistant"}}`,
	)
	records, tally := collect(t, path)
	if len(records) != 2 || tally.Malformed != 0 {
		t.Fatalf("unexpected records=%d tally=%+v", len(records), tally)
	}
	if ts, ok := records[0].Time(); ok {
		t.Fatalf("out-of-range epoch should leave record untimed, got %v", ts)
	}
}
