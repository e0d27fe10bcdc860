// Package telemetry records per-turn observations. The durable format is
// append-only JSONL (turns.jsonl, events.jsonl); a derived SQLite index
// over the turn log serves rolling-window queries without re-scanning the
// log on every prompt. Model rebuilds replay the JSONL log itself.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// promptTrimLen bounds how much prompt text is retained per record.
const promptTrimLen = 500

// TurnRecord is one request/response cycle as observed by the hook. It is
// the unit both the Learner and the Predictor consume post-turn.
type TurnRecord struct {
	TurnID        int       `json:"turn_id"`
	RecordID      string    `json:"record_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Project       string    `json:"project"`
	SessionID     string    `json:"session_id"`
	PromptLength  int       `json:"prompt_length"`
	PromptText    string    `json:"prompt_text,omitempty"`
	FilesInjected []string  `json:"files_injected"`
	FilesUsed     []string  `json:"files_used"`
	TokenEstimate int       `json:"token_estimate"`
	HostToolCalls int       `json:"host_tool_calls,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// ToolCall is one observed host tool invocation, as reported by the stop
// event. OpHash identifies the operation content (e.g. an edit diff hash)
// without carrying the content itself.
type ToolCall struct {
	Tool       string `json:"tool"`
	TargetPath string `json:"target_path,omitempty"`
	OpHash     string `json:"op_hash,omitempty"`
}

// NewTurnRecord builds a record for the given prompt, trimming the stored
// text and stamping a correlation id.
func NewTurnRecord(turnID int, project, sessionID, prompt string, now time.Time) TurnRecord {
	text := prompt
	if len(text) > promptTrimLen {
		text = text[:promptTrimLen]
	}
	return TurnRecord{
		TurnID:       turnID,
		RecordID:     uuid.NewString(),
		Timestamp:    now,
		Project:      project,
		SessionID:    sessionID,
		PromptLength: len(prompt),
		PromptText:   text,
		// 4 chars/token is close enough for budget accounting; exact
		// counting is a non-goal.
		TokenEstimate: len(prompt) / 4,
	}
}

// EventRecord is one advisory or diagnostic event, appended to events.jsonl.
type EventRecord struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Source    string    `json:"source"`  // component or plugin name
	Kind      string    `json:"kind"`    // e.g. violation, advisory, error
	Message   string    `json:"message"`
	TurnID    int       `json:"turn_id,omitempty"`
}

// Appender is the narrow interface the rest of the module depends on.
type Appender interface {
	Append(record any) error
}

// JSONLWriter appends records to a JSONL file, one JSON object per line.
// Writes are serialized; the file is opened lazily and kept open.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLWriter creates a writer for path. The file is created on first
// append.
func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

// Append marshals record and writes it as one line.
func (w *JSONLWriter) Append(record any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", w.path, err)
		}
		w.f = f
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file if open.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReadTurns loads every parseable TurnRecord from a turns.jsonl file in
// order. Malformed lines are skipped: the log is append-only and a torn
// final line after a crash is expected.
func ReadTurns(path string) ([]TurnRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open turn log: %w", err)
	}
	defer f.Close()

	var turns []TurnRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var t TurnRecord
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	if err := sc.Err(); err != nil {
		return turns, fmt.Errorf("scan turn log: %w", err)
	}
	return turns, nil
}
