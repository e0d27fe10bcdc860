package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriterAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turns.jsonl")
	w := NewJSONLWriter(path)
	defer w.Close()

	now := time.Unix(1000, 0).UTC()
	r1 := NewTurnRecord(1, "proj", "sess", "fix the parser", now)
	r1.FilesUsed = []string{"parser.go"}
	require.NoError(t, w.Append(r1))
	require.NoError(t, w.Append(NewTurnRecord(2, "proj", "sess", "add tests", now)))

	turns, err := ReadTurns(path)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].TurnID)
	assert.Equal(t, []string{"parser.go"}, turns[0].FilesUsed)
	assert.Equal(t, len("fix the parser"), turns[0].PromptLength)
}

func TestReadTurnsSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turns.jsonl")
	content := `{"turn_id": 1, "session_id": "s"}
{"turn_id": 2, "sess`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	turns, err := ReadTurns(path)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].TurnID)
}

func TestReadTurnsMissingFile(t *testing.T) {
	turns, err := ReadTurns(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, turns)
}

func TestNewTurnRecordTrimsPrompt(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	r := NewTurnRecord(1, "p", "s", string(long), time.Now())
	assert.Equal(t, 2000, r.PromptLength)
	assert.Len(t, r.PromptText, 500)
	assert.Equal(t, 500, r.TokenEstimate)
}

func TestTurnIndexInsertAndQuery(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenTurnIndex(filepath.Join(dir, "turns_index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()

	now := time.Now()
	offsets := []time.Duration{-20 * time.Minute, -10 * time.Minute, -5 * time.Minute}
	for i, off := range offsets {
		r := TurnRecord{
			TurnID:        i + 1,
			SessionID:     "s",
			Timestamp:     now.Add(off),
			TokenEstimate: 100,
			FilesUsed:     []string{"a.go"},
		}
		require.NoError(t, idx.Insert(r))
	}

	// Only turns 2 and 3 fall within the last 15 minutes.
	total, err := idx.TokensSince(time.Now().Add(-15 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 200, total)

	// Re-inserting a turn overwrites it rather than double counting.
	require.NoError(t, idx.Insert(TurnRecord{TurnID: 3, SessionID: "s", Timestamp: now.Add(-5 * time.Minute), TokenEstimate: 150}))
	total, err = idx.TokensSince(time.Now().Add(-15 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 250, total)
}

func TestTurnIndexRebuildFromLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "turns.jsonl")
	w := NewJSONLWriter(logPath)
	for i := 1; i <= 5; i++ {
		require.NoError(t, w.Append(TurnRecord{TurnID: i, SessionID: "s", Timestamp: time.Now(), TokenEstimate: 10, FilesUsed: []string{"f.go"}}))
	}
	w.Close()

	idx, err := OpenTurnIndex(filepath.Join(dir, "turns_index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.RebuildFromLog(logPath)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	total, err := idx.TokensSince(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 50, total)
}
