package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luan/attentive/internal/logging"
)

// TurnIndex is a derived SQLite index over turns.jsonl, serving the
// burn-rate plugin's rolling-window token queries without re-scanning the
// log on every prompt. It is fully rebuildable: the JSONL file is the
// source of truth and the index may be deleted at any time.
type TurnIndex struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenTurnIndex opens (or creates) the index database at path.
func OpenTurnIndex(path string) (*TurnIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open turn index: %w", err)
	}
	idx := &TurnIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init turn index schema: %w", err)
	}
	return idx, nil
}

func (x *TurnIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		turn_id INTEGER PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		prompt_length INTEGER NOT NULL,
		token_estimate INTEGER NOT NULL,
		files_injected TEXT NOT NULL,
		files_used TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);
	`
	_, err := x.db.Exec(schema)
	return err
}

// Insert records one turn. Re-inserting the same turn_id overwrites it,
// which makes rebuilds idempotent.
func (x *TurnIndex) Insert(t TurnRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	injected, _ := json.Marshal(t.FilesInjected)
	used, _ := json.Marshal(t.FilesUsed)

	_, err := x.db.Exec(`
		INSERT INTO turns (turn_id, session_id, timestamp, prompt_length, token_estimate, files_injected, files_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(turn_id) DO UPDATE SET
			session_id = excluded.session_id,
			timestamp = excluded.timestamp,
			prompt_length = excluded.prompt_length,
			token_estimate = excluded.token_estimate,
			files_injected = excluded.files_injected,
			files_used = excluded.files_used
	`, t.TurnID, t.SessionID, t.Timestamp.UnixMilli(), t.PromptLength, t.TokenEstimate, string(injected), string(used))
	if err != nil {
		return fmt.Errorf("insert turn %d: %w", t.TurnID, err)
	}
	return nil
}

// RebuildFromLog drops and repopulates the index from a turns.jsonl file.
func (x *TurnIndex) RebuildFromLog(logPath string) (int, error) {
	turns, err := ReadTurns(logPath)
	if err != nil {
		return 0, err
	}

	x.mu.Lock()
	if _, err := x.db.Exec(`DELETE FROM turns`); err != nil {
		x.mu.Unlock()
		return 0, fmt.Errorf("clear turn index: %w", err)
	}
	x.mu.Unlock()

	count := 0
	for _, t := range turns {
		if err := x.Insert(t); err != nil {
			logging.Get(logging.CategoryTelemetry).Warn("rebuild: skipping turn %d: %v", t.TurnID, err)
			continue
		}
		count++
	}
	return count, nil
}

// TokensSince sums token estimates for turns at or after cutoff. Used by
// the burn-rate plugin's rolling window.
func (x *TurnIndex) TokensSince(cutoff time.Time) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var total sql.NullInt64
	err := x.db.QueryRow(`
		SELECT SUM(token_estimate) FROM turns WHERE timestamp >= ?
	`, cutoff.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query tokens since: %w", err)
	}
	return int(total.Int64), nil
}

// Close closes the database.
func (x *TurnIndex) Close() error {
	return x.db.Close()
}
