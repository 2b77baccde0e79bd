package format

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"clawdscan/internal/cleanup"
	"clawdscan/internal/model"
	"clawdscan/internal/skills"
	"clawdscan/internal/stats"
	"clawdscan/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func health(id, agent string, size int64, msgs int, last string, tags ...model.IssueTag) model.SessionHealth {
	return model.SessionHealth{
		Summary: model.SessionSummary{
			ID:            id,
			Agent:         agent,
			Path:          "/root/.openclaw/agents/" + agent + "/sessions/" + id + ".jsonl",
			RelPath:       "agents/" + agent + "/sessions/" + id + ".jsonl",
			SizeBytes:     size,
			MessageCount:  msgs,
			LastTimestamp: ts(last),
			Tools:         map[string]int{"exec": msgs},
			Models:        []string{"opus"},
		},
		Verdict: model.Verdict{Tags: model.TagsOf(tags...)},
	}
}

func sampleReport() *model.FleetReport {
	r := &model.FleetReport{Root: "/root/.openclaw", ScannedAt: testNow}
	r.Agents = []model.AgentReport{{Name: "main"}, {Name: "coder"}}
	r.Agents[0].Add(health("alpha", "main", 2<<20, 10, "2025-03-09T10:00:00Z", model.TagBloated))
	r.Agents[0].Add(health("beta", "main", 100, 1, "2025-03-01T10:00:00Z", model.TagZombie, model.TagStale))
	r.Agents[1].Add(health("gamma", "coder", 500, 4, "2025-03-10T10:00:00Z"))
	r.Agents[1].AddFailure(model.ReadFailure{SessionID: "broken", Agent: "coder", Path: "/x/broken.jsonl", Error: "permission denied"})
	r.Finalize()
	return r
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": Table, "table": Table, "PLAIN": Plain, "json": JSON, "jsonl": JSONL}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWriteReportPlain(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), Options{Format: Plain, Header: true}); err != nil {
		t.Fatalf("WriteReport plain returned error: %v", err)
	}

	expected := strings.Join([]string{
		"agent\tsession_id\tarchived\tseverity\ttags\tsize_bytes\tmessages\tcompactions\tlast_activity",
		"coder\tgamma\tfalse\thealthy\thealthy\t500\t4\t0\t2025-03-10T10:00:00Z",
		"coder\tbroken\tfalse\tunreadable\t-\t0\t0\t0\t-",
		"main\talpha\tfalse\twarning\tbloated\t2097152\t10\t0\t2025-03-09T10:00:00Z",
		"main\tbeta\tfalse\twarning\tstale,zombie\t100\t1\t0\t2025-03-01T10:00:00Z",
	}, "\n") + "\n"

	if got := buf.String(); got != expected {
		t.Fatalf("plain output mismatch:\nexpected: %q\nactual:   %q", expected, got)
	}
}

func TestWriteReportTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), Options{Format: Table, Header: true, Now: testNow}); err != nil {
		t.Fatalf("WriteReport table returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"root:    /root/.openclaw",
		"TOTAL",
		"main: 2 sessions with issues (showing 2)",
		"1 session files could not be read:",
		"permission denied",
		"Cleanup potential:",
		"clawdscan clean --zombies",
		"2.0 MiB",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "coder: ") {
		t.Fatalf("healthy agent should have no issue table:\n%s", out)
	}
}

func TestWriteReportTableTopAndIncomplete(t *testing.T) {
	r := sampleReport()
	r.Incomplete = true
	r.Warnings = []string{"scan cancelled: 2 of 4 session files processed"}

	var buf bytes.Buffer
	if err := WriteReport(&buf, r, Options{Header: true, Now: testNow, Top: 1}); err != nil {
		t.Fatalf("WriteReport returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "main: 2 sessions with issues (showing 1)") {
		t.Fatalf("expected top limit to apply:\n%s", out)
	}
	if !strings.Contains(out, "warning: scan cancelled") || !strings.Contains(out, "scan incomplete") {
		t.Fatalf("expected incomplete notice:\n%s", out)
	}
}

func TestWriteReportJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), Options{Format: JSON}); err != nil {
		t.Fatalf("WriteReport json returned error: %v", err)
	}
	var decoded model.FleetReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded.Agents) != 2 || decoded.Totals.ActiveSessions != 3 || decoded.Totals.ReadFailures != 1 {
		t.Fatalf("unexpected decoded report: %+v", decoded.Totals)
	}
}

func TestWriteReportJSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), Options{Format: JSONL}); err != nil {
		t.Fatalf("WriteReport jsonl returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var sh model.SessionHealth
	if err := json.Unmarshal([]byte(lines[0]), &sh); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if sh.Summary.ID != "gamma" {
		t.Fatalf("expected first line to be gamma, got %q", sh.Summary.ID)
	}
}

func TestWriteReportUnsupported(t *testing.T) {
	if err := WriteReport(&bytes.Buffer{}, sampleReport(), Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWriteTopPlain(t *testing.T) {
	r := sampleReport()
	ranked := stats.Top(r.Sessions("", false), stats.KeySize, 2)

	var buf bytes.Buffer
	if err := WriteTop(&buf, ranked, Options{Format: Plain}); err != nil {
		t.Fatalf("WriteTop returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 rows, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "1\tmain\talpha\t2097152") {
		t.Fatalf("unexpected first row %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2\tcoder\tgamma\t500") {
		t.Fatalf("unexpected second row %q", lines[1])
	}
}

func TestWriteTopTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTop(&buf, nil, Options{Header: true, Now: testNow}); err != nil {
		t.Fatalf("WriteTop returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "(no sessions)") {
		t.Fatalf("expected empty marker:\n%s", buf.String())
	}
}

func TestWriteToolsAndModels(t *testing.T) {
	sessions := sampleReport().Sessions("", false)

	var buf bytes.Buffer
	if err := WriteTools(&buf, stats.ToolUsage(sessions), Options{Format: Plain, Header: true}); err != nil {
		t.Fatalf("WriteTools returned error: %v", err)
	}
	want := "name\tcount\tsessions\nexec\t15\t3\n"
	if got := buf.String(); got != want {
		t.Fatalf("tools output mismatch:\nexpected: %q\nactual:   %q", want, got)
	}

	buf.Reset()
	if err := WriteModels(&buf, stats.ModelUsage(sessions), Options{Header: true}); err != nil {
		t.Fatalf("WriteModels returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Model usage across 3 sessions") || !strings.Contains(out, "opus") {
		t.Fatalf("unexpected models table:\n%s", out)
	}
}

func TestWriteDisk(t *testing.T) {
	r := sampleReport()
	view := DiskView{
		Root:   r.Root,
		Agents: stats.Disk(r),
		Other:  []store.DirUsage{{Name: "logs", Bytes: 1024}},
	}
	if got, want := view.Total(), int64(2<<20+600); got != want {
		t.Fatalf("Total() = %d, want %d", got, want)
	}

	var buf bytes.Buffer
	if err := WriteDisk(&buf, view, Options{Header: true}); err != nil {
		t.Fatalf("WriteDisk returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Disk usage: /root/.openclaw", "coder", "main", "logs", "GRAND TOTAL"} {
		if !strings.Contains(out, want) {
			t.Fatalf("disk output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTrends(t *testing.T) {
	weeks := stats.Trends(sampleReport().Sessions("", false), testNow, 14)

	var buf bytes.Buffer
	if err := WriteTrends(&buf, weeks, Options{Format: Plain}); err != nil {
		t.Fatalf("WriteTrends returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 weeks, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[1], "\t2\t2097652\t1\t0") {
		t.Fatalf("unexpected last week %q", lines[1])
	}

	buf.Reset()
	if err := WriteTrends(&buf, weeks, Options{Header: true}); err != nil {
		t.Fatalf("WriteTrends table returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "Week 2") {
		t.Fatalf("expected week labels:\n%s", buf.String())
	}
}

func TestPercent(t *testing.T) {
	if got := percent(nil); got != "-" {
		t.Fatalf("percent(nil) = %q", got)
	}
	v := 50.0
	if got := percent(&v); got != "+50%" {
		t.Fatalf("percent(50) = %q", got)
	}
}

func TestWritePlan(t *testing.T) {
	plan, err := cleanup.NewPlan(sampleReport(), cleanup.Criteria{Zombies: true}, "/root/.openclaw/archived-sessions", testNow)
	if err != nil {
		t.Fatalf("NewPlan returned error: %v", err)
	}

	var buf bytes.Buffer
	if err := WritePlan(&buf, plan, Options{Format: Plain}); err != nil {
		t.Fatalf("WritePlan returned error: %v", err)
	}
	want := "main\tbeta\t100\tzombie\t/root/.openclaw/agents/main/sessions/beta.jsonl\t" +
		"/root/.openclaw/archived-sessions/20250310-120000/agents/main/sessions/beta.jsonl\n"
	if got := buf.String(); got != want {
		t.Fatalf("plan output mismatch:\nexpected: %q\nactual:   %q", want, got)
	}

	buf.Reset()
	if err := WritePlan(&buf, plan, Options{Header: true, Now: testNow}); err != nil {
		t.Fatalf("WritePlan table returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "Archive directory: /root/.openclaw/archived-sessions/20250310-120000") {
		t.Fatalf("expected archive directory line:\n%s", buf.String())
	}
}

func TestWritePlanEmpty(t *testing.T) {
	plan := &cleanup.Plan{}
	var buf bytes.Buffer
	if err := WritePlan(&buf, plan, Options{}); err != nil {
		t.Fatalf("WritePlan returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "No sessions match") {
		t.Fatalf("expected empty plan message, got %q", buf.String())
	}
}

func TestWriteResult(t *testing.T) {
	res := &cleanup.Result{
		Manifest: "/a/manifest.json",
		Outcomes: []cleanup.Outcome{
			{Item: cleanup.Item{Session: model.SessionSummary{ID: "ok"}}, Status: cleanup.StatusMoved, Bytes: 10},
			{Item: cleanup.Item{Session: model.SessionSummary{ID: "bad"}}, Status: cleanup.StatusFailed, Error: "boom"},
		},
		Moved:          1,
		Failed:         1,
		ReclaimedBytes: 10,
	}
	var buf bytes.Buffer
	if err := WriteResult(&buf, res, Options{}); err != nil {
		t.Fatalf("WriteResult returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"failed bad: boom", "Archived 1 sessions, reclaimed 10 B (1 failed, 0 skipped)", "clawdscan restore /a/manifest.json"} {
		if !strings.Contains(out, want) {
			t.Fatalf("result output missing %q:\n%s", want, out)
		}
	}
}

func TestHelpers(t *testing.T) {
	if got := Age(testNow.Add(-3*24*time.Hour), testNow); got != "3d ago" {
		t.Fatalf("Age = %q", got)
	}
	if got := Age(time.Time{}, testNow); got != "unknown" {
		t.Fatalf("Age(zero) = %q", got)
	}
	if got := Duration(ts("2025-03-01T08:00:00Z"), ts("2025-03-01T10:30:00Z")); got != "2h 30m" {
		t.Fatalf("Duration = %q", got)
	}
	if got := ShortID("0123456789abcdef"); got != "0123456789a…" {
		t.Fatalf("ShortID = %q", got)
	}
	if got := Bar(1, 100, 10); got != "█" {
		t.Fatalf("Bar minimum = %q", got)
	}
	if got := Size(-5); got != "0 B" {
		t.Fatalf("Size(-5) = %q", got)
	}
}

func TestWriteSkills(t *testing.T) {
	report := skills.Report{
		Dirs: []string{"/skills"},
		Skills: []skills.Skill{
			{Name: "gh", Source: skills.SourceBuiltin, Bins: []string{"gh"}, Healthy: true},
			{
				Name:    "imsg",
				Source:  skills.SourceCustom,
				Bins:    []string{"imsg"},
				Install: []skills.InstallStep{{Kind: "brew", Formula: "imsg"}},
				Issues:  []string{"Missing binary: imsg"},
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteSkills(&buf, report, Options{Header: true}, false); err != nil {
		t.Fatalf("WriteSkills returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"scanned:     2", "broken:      1", "Broken skills (1):", "Missing binary: imsg", "brew install imsg"} {
		if !strings.Contains(out, want) {
			t.Fatalf("skills table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Healthy skills") {
		t.Fatalf("healthy skills listed without being asked:\n%s", out)
	}

	buf.Reset()
	if err := WriteSkills(&buf, report, Options{Header: true}, true); err != nil {
		t.Fatalf("WriteSkills returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "Healthy skills (1):") {
		t.Fatalf("expected healthy section:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteSkills(&buf, report, Options{Format: JSONL}, false); err != nil {
		t.Fatalf("WriteSkills jsonl returned error: %v", err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", n)
	}
}
