// Package usage reads the host assistant's usage cache and tracks a
// rolling token burn rate. It is the external stats source behind the
// burn-rate plugin; the cache file is owned by the host and this package
// only ever reads it.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Snapshot is one observation of the host's usage counters.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	UsedTokens  int64     `json:"used_tokens"`
	QuotaTokens int64     `json:"quota_tokens"`
}

// Remaining returns the unspent quota, never negative.
func (s Snapshot) Remaining() int64 {
	if s.QuotaTokens <= s.UsedTokens {
		return 0
	}
	return s.QuotaTokens - s.UsedTokens
}

// Source supplies usage snapshots.
type Source interface {
	Read() (Snapshot, error)
}

// FileSource reads the host assistant's usage cache JSON file.
type FileSource struct {
	Path string
}

func (f FileSource) Read() (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read usage cache: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse usage cache: %w", err)
	}
	return s, nil
}

// RateTracker maintains an EWMA of tokens/min across successive snapshots.
// Safe for concurrent use.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	alpha  float64

	last     *Snapshot
	ratePerMin float64 // EWMA
}

// NewRateTracker creates a tracker over the given window. A gap between
// consecutive snapshots longer than the window resets the rate; otherwise
// every earlier sample stays in the EWMA with geometrically shrinking weight.
func NewRateTracker(window time.Duration) *RateTracker {
	return &RateTracker{window: window, alpha: 0.3}
}

// Observe folds a new snapshot into the rate. Non-monotonic counters
// (quota reset) reset the tracker.
func (t *RateTracker) Observe(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil || s.UsedTokens < t.last.UsedTokens {
		t.last = &s
		t.ratePerMin = 0
		return
	}

	elapsed := s.Timestamp.Sub(t.last.Timestamp)
	if elapsed <= 0 {
		return
	}
	if elapsed > t.window {
		// Stale gap: the old sample tells us nothing about the current burn.
		t.last = &s
		t.ratePerMin = 0
		return
	}

	delta := float64(s.UsedTokens - t.last.UsedTokens)
	instant := delta / elapsed.Minutes()
	if t.ratePerMin == 0 {
		t.ratePerMin = instant
	} else {
		t.ratePerMin = (1-t.alpha)*t.ratePerMin + t.alpha*instant
	}
	t.last = &s
}

// RatePerMin returns the current EWMA tokens/min.
func (t *RateTracker) RatePerMin() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ratePerMin
}

// MinutesToExhaustion predicts how long the remaining quota lasts at the
// current rate. Returns ok=false when no rate is established yet.
func (t *RateTracker) MinutesToExhaustion() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ratePerMin <= 0 || t.last == nil {
		return 0, false
	}
	return float64(t.last.Remaining()) / t.ratePerMin, true
}
