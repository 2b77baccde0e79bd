package view

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clawdscan/internal/model"
	"clawdscan/internal/session"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func writeSession(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write session: %v", err)
	}
	return path
}

func sampleSession(t *testing.T) string {
	return writeSession(t,
		`{"type":"session","id":"s1","cwd":"/repo","timestamp":"2025-03-01T08:00:00Z"}`,
		`{"type":"message","timestamp":"2025-03-01T08:01:00Z","message":{"role":"user","content":"go"}}`,
		`{"type":"message","timestamp":"2025-03-01T08:02:00Z","message":{"role":"assistant","model":"opus","content":[{"type":"tool_use","name":"exec"}]}}`,
		`{"type":"compaction","timestamp":"2025-03-01T08:03:00Z"}`,
		`{"type":"custom","customType":"usage","timestamp":"2025-03-01T08:04:00Z"}`,
	)
}

func TestRunSummary(t *testing.T) {
	path := sampleSession(t)
	var buf bytes.Buffer
	err := Run(Options{
		Path:         path,
		Meta:         session.Meta{ID: "s1", Agent: "main"},
		Mode:         ModeSummary,
		Now:          testNow,
		Wrap:         80,
		ForceNoColor: true,
		Out:          &buf,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Session s1",
		"Agent:   main",
		"Total:      2",
		"Tool calls: 1",
		"• opus",
		"exec",
		"Custom event types",
		"usage",
		"Working dir: /repo",
		"zombie",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("summary should not contain escape sequences when color is off:\n%s", out)
	}
}

func TestRunJSON(t *testing.T) {
	path := sampleSession(t)
	var buf bytes.Buffer
	err := Run(Options{
		Path: path,
		Meta: session.Meta{ID: "s1", Agent: "main"},
		Mode: ModeJSON,
		Now:  testNow,
		Out:  &buf,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var got model.SessionHealth
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, buf.String())
	}
	if got.Summary.ID != "s1" || got.Summary.MessageCount != 2 {
		t.Fatalf("unexpected summary: %+v", got.Summary)
	}
	if !got.Verdict.Tags.Has(model.TagZombie) || !got.Verdict.Tags.Has(model.TagStale) {
		t.Fatalf("expected stale zombie verdict, got %s", got.Verdict.Tags)
	}
}

func TestRunRaw(t *testing.T) {
	path := sampleSession(t)
	var buf bytes.Buffer
	if err := Run(Options{Path: path, Mode: ModeRaw, Out: &buf}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if buf.String() != string(want) {
		t.Fatalf("raw output mismatch\nwant:\n%q\n\ngot:\n%q", want, buf.String())
	}
}

func TestRunTimelineMaxEvents(t *testing.T) {
	path := sampleSession(t)
	var buf bytes.Buffer
	err := Run(Options{
		Path:         path,
		Mode:         ModeTimeline,
		MaxEvents:    2,
		Wrap:         120,
		ForceNoColor: true,
		NoPager:      true,
		Out:          &buf,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "compaction") {
		t.Fatalf("expected compaction first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "custom") || !strings.Contains(lines[1], "usage") {
		t.Fatalf("expected custom event last, got %q", lines[1])
	}
}

func TestRunTimelineAll(t *testing.T) {
	path := sampleSession(t)
	var buf bytes.Buffer
	err := Run(Options{Path: path, Mode: ModeTimeline, Wrap: 120, ForceNoColor: true, NoPager: true, Out: &buf})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "assistant") || !strings.Contains(lines[2], "opus") {
		t.Fatalf("unexpected assistant line %q", lines[2])
	}
	if fields := strings.Fields(lines[3]); len(fields) != 4 || fields[0] != "#0004" || fields[2] != "tool" || fields[3] != "exec" {
		t.Fatalf("expected tool call row, got %q", lines[3])
	}
}

func TestRunUnknownMode(t *testing.T) {
	if err := Run(Options{Path: "x", Mode: "bogus", Out: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRunMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	if err := Run(Options{Path: path, Mode: ModeSummary, Out: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRecordRingKeepsLast(t *testing.T) {
	ring := newRecordRing(0)
	ring.push(nil)
	if got := ring.slice(); got != nil {
		t.Fatalf("zero-capacity ring should stay empty, got %v", got)
	}
}

func TestTruncateToWidth(t *testing.T) {
	if got := truncateToWidth("hello world", 8); got != "hello w…" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncateToWidth("short", 10); got != "short" {
		t.Fatalf("short text changed: %q", got)
	}

	colored := "\x1b[31mhello world\x1b[0m"
	got := truncateToWidth(colored, 6)
	if visibleWidth(got) != 6 {
		t.Fatalf("expected visible width 6, got %d (%q)", visibleWidth(got), got)
	}
	if !strings.HasSuffix(got, "\x1b[0m") {
		t.Fatalf("reset sequence dropped: %q", got)
	}
}

func TestResolveColor(t *testing.T) {
	var buf bytes.Buffer
	if !ResolveColor(true, false, &buf) {
		t.Fatal("forced color should win")
	}
	if ResolveColor(false, true, &buf) {
		t.Fatal("forced no-color should win")
	}
	if ResolveColor(false, false, &buf) {
		t.Fatal("non-file writer should not be colored")
	}
}
