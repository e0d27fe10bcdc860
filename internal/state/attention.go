// Package state persists the router's per-session attention scores. The
// on-disk document is versioned JSON written atomically; a corrupt or
// version-mismatched file is discarded and rebuilt empty so a session can
// always proceed.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luan/attentive/internal/logging"
)

// CurrentVersion is the attn_state.json schema version this build reads
// and writes. Unknown versions trigger a rebuild from empty.
const CurrentVersion = 1

// Score bounds. Every write path clamps into this range.
const (
	ScoreMin = 0.0
	ScoreMax = 1.2
)

// AttentionState is the per-working-copy attention record: a score and a
// consecutive-turns-hot streak per file, plus the session turn counter.
// The Router is the sole mutator during a turn.
type AttentionState struct {
	Version    int                `json:"version"`
	TurnCount  int                `json:"turn_count"`
	LastUpdate time.Time          `json:"last_update"`
	Scores     map[string]float64 `json:"scores"`
	Streaks    map[string]int     `json:"streaks"`

	// SessionID and ProjectHash are stamped when a session starts; a state
	// file whose ProjectHash names another project is detected then and
	// rebuilt rather than silently misapplied.
	SessionID   string `json:"session_id,omitempty"`
	ProjectHash string `json:"project_hash,omitempty"`

	// PendingPurge tracks files observed missing on disk, mapped to the
	// turn the absence was first seen. Entries survive at least one turn
	// before removal so a transient rename does not drop learned heat.
	PendingPurge map[string]int `json:"pending_purge,omitempty"`
}

// NewAttentionState returns an empty state at the current schema version.
func NewAttentionState() *AttentionState {
	return &AttentionState{
		Version:      CurrentVersion,
		Scores:       make(map[string]float64),
		Streaks:      make(map[string]int),
		PendingPurge: make(map[string]int),
	}
}

// Clamp saturates s into the legal score range.
func Clamp(s float64) float64 {
	if s < ScoreMin {
		return ScoreMin
	}
	if s > ScoreMax {
		return ScoreMax
	}
	return s
}

// Set writes a clamped score for id.
func (a *AttentionState) Set(id string, score float64) {
	a.Scores[id] = Clamp(score)
}

// Get returns the score for id, zero if absent.
func (a *AttentionState) Get(id string) float64 {
	return a.Scores[id]
}

// Bump raises id's score to at least floor (clamped).
func (a *AttentionState) Bump(id string, floor float64) {
	if cur := a.Scores[id]; floor > cur {
		a.Scores[id] = Clamp(floor)
	}
}

// Add adds delta to id's score (clamped).
func (a *AttentionState) Add(id string, delta float64) {
	a.Scores[id] = Clamp(a.Scores[id] + delta)
}

// Drop removes all record of id.
func (a *AttentionState) Drop(id string) {
	delete(a.Scores, id)
	delete(a.Streaks, id)
	delete(a.PendingPurge, id)
}

// MarkMissing records that id was not found on disk at the given turn. The
// score is zeroed immediately; the entry itself is purged by SweepPurged
// once at least one full turn has passed.
func (a *AttentionState) MarkMissing(id string, turn int) {
	a.Scores[id] = 0
	if a.PendingPurge == nil {
		a.PendingPurge = make(map[string]int)
	}
	if _, ok := a.PendingPurge[id]; !ok {
		a.PendingPurge[id] = turn
	}
}

// Reappeared clears a pending purge for a file seen on disk again.
func (a *AttentionState) Reappeared(id string) {
	delete(a.PendingPurge, id)
}

// SweepPurged removes entries whose purge grace period has elapsed.
func (a *AttentionState) SweepPurged(currentTurn int) {
	for id, seenTurn := range a.PendingPurge {
		if currentTurn > seenTurn {
			a.Drop(id)
		}
	}
}

// Load reads attn_state.json from path. Missing, corrupt, or
// version-mismatched files all yield a fresh empty state: the attention
// router is advisory and an empty state is always a safe fallback.
func Load(path string) *AttentionState {
	log := logging.Get(logging.CategoryState)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read %s failed, starting empty: %v", path, err)
		}
		return NewAttentionState()
	}

	var st AttentionState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn("corrupt state file %s, rebuilding empty: %v", path, err)
		return NewAttentionState()
	}
	if st.Version != CurrentVersion {
		log.Warn("state version %d != %d, rebuilding empty", st.Version, CurrentVersion)
		return NewAttentionState()
	}
	if st.Scores == nil {
		st.Scores = make(map[string]float64)
	}
	if st.Streaks == nil {
		st.Streaks = make(map[string]int)
	}
	if st.PendingPurge == nil {
		st.PendingPurge = make(map[string]int)
	}
	for id, s := range st.Scores {
		st.Scores[id] = Clamp(s)
	}
	return &st
}

// Save writes the state atomically. An I/O failure here is non-fatal to
// the turn: the caller logs it and the next load sees the prior commit.
func (a *AttentionState) Save(path string, now time.Time) error {
	a.Version = CurrentVersion
	a.LastUpdate = now
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attention state: %w", err)
	}
	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("persist attention state: %w", err)
	}
	return nil
}
