package router

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/state"
)

// Phase 1: per-category score decay. Entries falling below epsilon are
// removed entirely.
func (r *Router) phaseDecay(st *state.AttentionState) {
	for id, score := range st.Scores {
		score *= r.cfg.Decay.Rate(r.fileCategory(id))
		if score < r.cfg.Decay.Epsilon {
			delete(st.Scores, id)
			delete(st.Streaks, id)
			continue
		}
		st.Scores[id] = score
	}
}

// filenameRe finds path-shaped substrings ("lexer.rs", "src/parse.go") in
// the raw prompt, before tokenization splits them apart.
var filenameRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./-]*\.[A-Za-z0-9_]+`)

// Phase 2: keyword activation. Config keyword entries and filename
// substrings in the prompt directly activate their targets; indexer hits
// contribute a smaller supplemental bump without counting as direct.
func (r *Router) phaseKeyword(st *state.AttentionState, prompt string, stats *Stats) map[string]bool {
	log := logging.Get(logging.CategoryRouter)
	directly := make(map[string]bool)

	lower := strings.ToLower(prompt)
	tokens := make(map[string]bool)
	for _, tok := range learner.Tokenize(prompt) {
		tokens[tok] = true
	}

	matches := func(pattern string) bool {
		p := strings.ToLower(pattern)
		if p == "" {
			return false
		}
		if strings.IndexFunc(p, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		}) >= 0 {
			return strings.Contains(lower, p)
		}
		return tokens[p]
	}

	for _, kw := range r.cfg.Keywords {
		hit := matches(kw.Pattern)
		for _, alias := range kw.Aliases {
			if hit {
				break
			}
			hit = matches(alias)
		}
		if !hit {
			continue
		}
		stats.KeywordHits++
		for _, target := range kw.Targets {
			st.Bump(target, 1.0*kw.Weight)
			directly[target] = true
		}
	}

	// Filename substrings activate the files they resolve to.
	for _, cand := range filenameRe.FindAllString(lower, -1) {
		if id, ok := r.resolveFileMention(st, cand); ok {
			st.Bump(id, 1.0)
			if !directly[id] {
				stats.KeywordHits++
			}
			directly[id] = true
		}
	}

	// Indexer supplement: ranked retrieval hits nudge scores but are not
	// direct activations and cannot reach Hot on their own.
	results := r.indexer.Query(prompt)
	if len(results) > 0 {
		maxScore := results[0].Score
		for _, res := range results {
			if res.Score > maxScore {
				maxScore = res.Score
			}
		}
		limit := 5
		if len(results) < limit {
			limit = len(results)
		}
		for _, res := range results[:limit] {
			if maxScore <= 0 {
				break
			}
			st.Add(res.FileID, 0.2*res.Score/maxScore)
		}
	}

	if len(directly) > 0 {
		log.Debug("keyword activation: %d direct targets", len(directly))
	}
	return directly
}

// resolveFileMention maps a filename-shaped prompt substring to a FileId:
// an exact project-relative path, a basename of an already-scored file, or
// a basename found by a bounded walk of the project tree.
func (r *Router) resolveFileMention(st *state.AttentionState, cand string) (string, bool) {
	cand = strings.Trim(cand, "./")
	if cand == "" {
		return "", false
	}

	if r.fileExists(cand) {
		return cand, true
	}

	base := filepath.Base(cand)
	for id := range st.Scores {
		if strings.EqualFold(filepath.Base(id), base) {
			return id, true
		}
	}

	if r.projectRoot != "" {
		if id, ok := findByBasename(r.projectRoot, base); ok {
			return id, true
		}
	}
	return "", false
}

// Phase 3: learned boost. Zero in observing maturity, since Query returns
// nothing until the learner is active.
func (r *Router) phaseLearnedBoost(st *state.AttentionState, prompt string, stats *Stats) {
	if r.learner == nil {
		return
	}
	for _, tok := range learner.UniqueTokens(prompt) {
		hits := r.learner.Query(tok)
		if len(hits) == 0 {
			continue
		}
		idf := r.learner.IDF(tok)
		for _, hit := range hits {
			st.Add(hit.FileID, r.cfg.Weights.LearnedBoost*idf*hit.Strength)
			stats.LearnedHits++
		}
	}
}

// Phase 4: bounded breadth-first traversal of the co-activation graph from
// the directly-activated set, depth 2. A file visited at both depths takes
// the larger bonus once. If the phase budget runs out the bonuses applied
// so far stand and stats are annotated.
func (r *Router) phaseCoactivation(st *state.AttentionState, directly map[string]bool, stats *Stats) {
	if r.learner == nil || len(directly) == 0 {
		return
	}
	deadline := time.Now().Add(r.cfg.Deadlines.Coactivation)

	seeds := make([]string, 0, len(directly))
	for id := range directly {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	bonus := make(map[string]float64)
	var depth1 []string

	for _, seed := range seeds {
		if time.Now().After(deadline) {
			stats.CoactivationPartial = true
			logging.Get(logging.CategoryRouter).Warn("coactivation: %v", ErrDeadlineExceeded)
			break
		}
		for _, n := range r.learner.Neighbors(seed) {
			b := r.cfg.Weights.CoactivationDepth1 * n.Strength
			old, seen := bonus[n.FileID]
			if !seen {
				depth1 = append(depth1, n.FileID)
			}
			if b > old {
				bonus[n.FileID] = b
			}
		}
	}

	if !stats.CoactivationPartial {
		for _, node := range depth1 {
			if time.Now().After(deadline) {
				stats.CoactivationPartial = true
				break
			}
			for _, n := range r.learner.Neighbors(node) {
				b := r.cfg.Weights.CoactivationDepth2 * n.Strength
				if b > bonus[n.FileID] {
					bonus[n.FileID] = b
				}
			}
		}
	}

	for id, b := range bonus {
		if directly[id] {
			// Directly-activated files do not get pushed past 1.0 by their
			// own neighborhood.
			cur := st.Get(id)
			next := state.Clamp(cur + b)
			if next > 1.0 && cur <= 1.0 {
				next = 1.0
			}
			st.Set(id, next)
			continue
		}
		st.Add(id, b)
	}
}

// Phase 5: pinned floor. Pinned files never sit below the warm threshold.
func (r *Router) phasePinnedFloor(st *state.AttentionState) {
	floor := r.cfg.Thresholds.Warm + r.cfg.Weights.PinnedFloorMargin
	for _, id := range r.cfg.Pinned {
		st.Bump(id, floor)
	}
}

// Phase 6: demoted penalty. Pinned files are exempt.
func (r *Router) phaseDemotedPenalty(st *state.AttentionState) {
	for _, id := range r.cfg.Demoted {
		if r.cfg.IsPinned(id) {
			continue
		}
		if cur, ok := st.Scores[id]; ok {
			st.Set(id, cur*r.cfg.Weights.DemotedPenalty)
		}
	}
}

// Phase 7: predictive pre-warm. Additive and capped so the predictor can
// bias but never unilaterally promote a file to Hot.
func (r *Router) phasePredictor(st *state.AttentionState, prompt string, lastHot []string, stats *Stats) {
	if r.predictor == nil {
		return
	}
	started := time.Now()
	preds := r.predictor.Predict(prompt, lastHot)
	if time.Since(started) > r.cfg.Deadlines.Predictor {
		stats.PredictorPartial = true
		logging.Get(logging.CategoryRouter).Warn("predictor: %v", ErrDeadlineExceeded)
	}
	if len(preds) == 0 {
		return
	}
	stats.PredictorMode = string(preds[0].Mode)

	limit := r.cfg.Weights.PredictorMaxCandidates
	if len(preds) < limit {
		limit = len(preds)
	}
	for _, p := range preds[:limit] {
		st.Add(p.FileID, r.cfg.Weights.PredictorBoost*p.Confidence)
	}
}
