package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawdscan/internal/model"
	"clawdscan/internal/record"
)

func writeSession(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestSummarize(t *testing.T) {
	path := writeSession(t,
		`{"type":"session","id":"hdr-1","cwd":"/repo","name":"nightly","timestamp":"2025-03-01T08:00:00Z"}`,
		`{"type":"message","timestamp":"2025-03-01T08:01:00Z","message":{"role":"user","content":"go"}}`,
		`{"type":"message","timestamp":"2025-03-01T07:59:00Z","message":{"role":"assistant","model":"opus","content":[{"type":"tool_use","name":"exec"},{"type":"tool_use","name":"exec"},{"type":"tool_use","name":"read"}]}}`,
		`{"type":"message","timestamp":"2025-03-01T08:05:00Z","message":{"role":"toolResult","toolName":"exec"}}`,
		`{"type":"compaction","timestamp":"2025-03-01T09:00:00Z"}`,
		`{"type":"compaction"}`,
		`{"type":"model_change","model":"sonnet"}`,
		`{"type":"custom","customType":"model-snapshot","data":{"modelId":"opus"}}`,
		`{"type":"custom","customType":"usage"}`,
		`garbage`,
		`{"type":"thinking_level_change"}`,
	)

	summary, err := Summarize(path, Meta{ID: "s1", Agent: "main", RelPath: "agents/main/sessions/s1.jsonl"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, "s1", summary.ID)
	assert.Equal(t, "main", summary.Agent)
	assert.Equal(t, path, summary.Path)
	assert.Equal(t, info.Size(), summary.SizeBytes)
	assert.Equal(t, 3, summary.MessageCount)
	assert.Equal(t, 1, summary.UserMessages)
	assert.Equal(t, 1, summary.AssistantMessages)
	assert.Equal(t, 3, summary.ToolCallCount)
	assert.Equal(t, map[string]int{"exec": 2, "read": 1}, summary.Tools)
	assert.Equal(t, 2, summary.CompactionCount)
	assert.Equal(t, 1, summary.ModelSwitches)
	assert.Equal(t, []string{"opus", "sonnet"}, summary.Models)
	assert.True(t, summary.HasModel("sonnet"))
	assert.Equal(t, map[string]int{"model-snapshot": 1, "usage": 1}, summary.CustomTypes)
	assert.Equal(t, 1, summary.MalformedLines)
	assert.Equal(t, "hdr-1", summary.HeaderID)
	assert.Equal(t, "/repo", summary.CWD)
	assert.Equal(t, "nightly", summary.Label)

	require.NotNil(t, summary.FirstTimestamp)
	require.NotNil(t, summary.LastTimestamp)
	require.NotNil(t, summary.CreatedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 7, 59, 0, 0, time.UTC), *summary.FirstTimestamp)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), *summary.LastTimestamp)
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), *summary.CreatedAt)
	assert.False(t, summary.LastTimestamp.Before(*summary.FirstTimestamp))
}

func TestSummarizeIgnoresOutOfRangeEpoch(t *testing.T) {
	path := writeSession(t,
		`{"type":"message","timestamp":1e300,"message":{"role":"user"}}`,
		`{"type":"message","timestamp":"2025-01-01T00:00:01Z","message":{"role":"assistant"}}`,
	)

	summary, err := Summarize(path, Meta{ID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, summary.FirstTimestamp)
	want := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, want, *summary.FirstTimestamp)
	assert.Equal(t, want, *summary.LastTimestamp)
}

func TestSummarizeToolResultsOnly(t *testing.T) {
	path := writeSession(t,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"on it"}]}}`,
		`{"type":"message","message":{"role":"toolResult","toolName":"exec"}}`,
	)

	summary, err := Summarize(path, Meta{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ToolCallCount)
	assert.Equal(t, map[string]int{"exec": 1}, summary.Tools)
}

func TestSummarizeEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	summary, err := Summarize(path, Meta{ID: "empty"})
	require.NoError(t, err)

	assert.Zero(t, summary.MessageCount)
	assert.Zero(t, summary.SizeBytes)
	assert.Nil(t, summary.FirstTimestamp)
	assert.Nil(t, summary.LastTimestamp)
	assert.Equal(t, summary.ModTime, summary.LastActivity())
	assert.Equal(t, summary.ModTime, summary.Created())
}

func TestSummarizeUnreadable(t *testing.T) {
	_, err := Summarize(filepath.Join(t.TempDir(), "nope.jsonl"), Meta{ID: "nope"})

	var readErr *record.ReadError
	require.True(t, errors.As(err, &readErr))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Summarize(t.TempDir(), Meta{ID: "dir"})
	require.True(t, errors.As(err, &readErr))
}

func TestAggregatorSummaryIsSnapshot(t *testing.T) {
	agg := NewAggregator(model.SessionSummary{ID: "x"})
	agg.Add(record.ToolCall{Name: "exec"})

	first := agg.Summary(0)
	agg.Add(record.ToolCall{Name: "exec"})
	second := agg.Summary(0)

	assert.Equal(t, 1, first.Tools["exec"])
	assert.Equal(t, 2, second.Tools["exec"])
}
