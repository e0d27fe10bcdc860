package router

import (
	"time"

	"github.com/luan/attentive/internal/state"
)

// Tier buckets a file by score. Hot files ship full content, Warm files an
// outline, Cold files only their path in the evicted manifest.
type Tier int

const (
	TierCold Tier = iota
	TierWarm
	TierHot
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	default:
		return "cold"
	}
}

// RankedFile is one file after Phase 8's stable sort.
type RankedFile struct {
	FileID string
	Score  float64
	Streak int
	Tier   Tier
}

// Stats records what each phase did, including partial-result annotations
// when a phase ran out of budget.
type Stats struct {
	Turn               int                      `json:"turn"`
	PhaseDurations     map[string]time.Duration `json:"-"`
	FilesScored        int                      `json:"files_scored"`
	HotCount           int                      `json:"hot_count"`
	WarmCount          int                      `json:"warm_count"`
	ColdCount          int                      `json:"cold_count"`
	KeywordHits        int                      `json:"keyword_hits"`
	LearnedHits        int                      `json:"learned_hits"`
	PredictorMode      string                   `json:"predictor_mode,omitempty"`
	CoactivationPartial bool                    `json:"coactivation_partial,omitempty"`
	PredictorPartial    bool                    `json:"predictor_partial,omitempty"`
	OutputChars        int                      `json:"output_chars"`
	MissingFiles       []string                 `json:"missing_files,omitempty"`
	PersistError       string                   `json:"persist_error,omitempty"`
}

// RoutingResult is what Route hands back to the host for one turn.
type RoutingResult struct {
	State             *state.AttentionState
	DirectlyActivated []string // sorted
	Ranked            []RankedFile
	Output            string
	Stats             Stats
}

// HotSet returns the FileIds assigned Hot this turn, in rank order.
func (r *RoutingResult) HotSet() []string {
	var out []string
	for _, f := range r.Ranked {
		if f.Tier == TierHot {
			out = append(out, f.FileID)
		}
	}
	return out
}

// InjectedSet returns every file tiered Hot or Warm this turn, in rank
// order. This is what the post-turn hook records as files_injected. It is
// taken from the tiers alone: a Warm file whose outline was empty, or a file
// pushed to the path-only list by the character budget, is included even
// though none of its content or outline is in the output.
func (r *RoutingResult) InjectedSet() []string {
	var out []string
	for _, f := range r.Ranked {
		if f.Tier == TierHot || f.Tier == TierWarm {
			out = append(out, f.FileID)
		}
	}
	return out
}
