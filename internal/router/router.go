// Package router implements the synchronous scoring pipeline that decides,
// for each turn, which files enter the model's context window and in what
// form. The pipeline is eight phases executed in order on a single
// goroutine; only Hot-tier file reads fan out to a bounded worker pool.
package router

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/predictor"
	"github.com/luan/attentive/internal/retrieval"
	"github.com/luan/attentive/internal/state"
)

// Router maps a prompt plus historical state to a tiered file selection
// and an assembled context blob. It exclusively owns AttentionState for
// the duration of a turn; the learner and predictor are read-only here.
type Router struct {
	cfg       *config.Config
	projectRoot string
	statePath string
	lockPath  string
	clock     paths.Clock
	learner   *learner.Learner
	predictor *predictor.Predictor
	indexer   retrieval.Indexer
	repoMap   retrieval.RepoMap
}

// Options wires the router's collaborators. Learner and Predictor may be
// nil (their phases become no-ops); Indexer and RepoMap are optional
// external machinery with built-in fallbacks.
type Options struct {
	Config      *config.Config
	ProjectRoot string
	StatePath   string
	Clock       paths.Clock
	Learner     *learner.Learner
	Predictor   *predictor.Predictor
	Indexer     retrieval.Indexer
	RepoMap     retrieval.RepoMap
}

// New builds a Router from options, filling in fallbacks.
func New(opts Options) *Router {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = paths.SystemClock{}
	}
	repoMap := opts.RepoMap
	if repoMap == nil {
		repoMap = retrieval.OutlineFallback{Root: opts.ProjectRoot, MaxLines: cfg.Caps.WarmOutlineLines}
	}
	indexer := opts.Indexer
	if indexer == nil {
		indexer = retrieval.NullIndexer{}
	}
	return &Router{
		cfg:         cfg,
		projectRoot: opts.ProjectRoot,
		statePath:   opts.StatePath,
		lockPath:    opts.StatePath + ".lock",
		clock:       clock,
		learner:     opts.Learner,
		predictor:   opts.Predictor,
		indexer:     indexer,
		repoMap:     repoMap,
	}
}

// Route processes one turn: load state, run the eight phases, assemble the
// context blob, persist state. A persist failure is non-fatal; the output
// is still returned and the next turn loads the prior committed state.
func (r *Router) Route(prompt string) *RoutingResult {
	timer := logging.StartTimer(logging.CategoryRouter, "Route")
	defer timer.StopWithThreshold(r.cfg.Deadlines.Turn)

	if dir := filepath.Dir(r.lockPath); dir != "" {
		os.MkdirAll(dir, 0755)
	}
	lock, lockErr := state.AcquireLock(r.lockPath)
	if lockErr != nil {
		logging.Get(logging.CategoryRouter).Warn("state lock unavailable, proceeding unlocked: %v", lockErr)
	}
	defer lock.Release()

	st := state.Load(r.statePath)
	res := r.routeState(st, prompt)

	if err := st.Save(r.statePath, r.clock.Now()); err != nil {
		logging.Get(logging.CategoryState).Error("persist failed (non-fatal): %v", err)
		res.Stats.PersistError = err.Error()
	}
	return res
}

// routeState runs the pipeline against an already-loaded state. Split out
// so warm-started or in-memory states can be routed directly.
func (r *Router) routeState(st *state.AttentionState, prompt string) *RoutingResult {
	now := r.clock.Now()
	st.TurnCount++

	res := &RoutingResult{State: st}
	res.Stats.Turn = st.TurnCount
	res.Stats.PhaseDurations = make(map[string]time.Duration)

	// Previous turn's hot set, read before any phase mutates streaks.
	lastHot := make([]string, 0, len(st.Streaks))
	for id, streak := range st.Streaks {
		if streak > 0 {
			lastHot = append(lastHot, id)
		}
	}
	sort.Strings(lastHot)

	directly := r.runPhases(st, prompt, lastHot, &res.Stats)
	r.reconcileMissing(st, &res.Stats)

	res.DirectlyActivated = make([]string, 0, len(directly))
	for id := range directly {
		res.DirectlyActivated = append(res.DirectlyActivated, id)
	}
	sort.Strings(res.DirectlyActivated)

	res.Ranked = r.rankAndTier(st, &res.Stats)
	res.Output = r.assemble(st, res.Ranked, &res.Stats)

	st.SweepPurged(st.TurnCount)
	st.LastUpdate = now
	return res
}

func (r *Router) runPhases(st *state.AttentionState, prompt string, lastHot []string, stats *Stats) map[string]bool {
	phase := func(name string, fn func()) {
		t := time.Now()
		fn()
		stats.PhaseDurations[name] = time.Since(t)
	}

	var directly map[string]bool
	phase("decay", func() { r.phaseDecay(st) })
	phase("keyword", func() { directly = r.phaseKeyword(st, prompt, stats) })
	phase("learned", func() { r.phaseLearnedBoost(st, prompt, stats) })
	phase("coactivation", func() { r.phaseCoactivation(st, directly, stats) })
	phase("pinned", func() { r.phasePinnedFloor(st) })
	phase("demoted", func() { r.phaseDemotedPenalty(st) })
	phase("predictor", func() { r.phasePredictor(st, prompt, lastHot, stats) })
	// Phase 8 (sort, tiering, budget) happens in rankAndTier/assemble.
	return directly
}

// reconcileMissing existence-checks every scored file, whatever tier it is
// headed for. A file gone from disk has its score zeroed and enters the
// purge grace period; a file seen again before the sweep is reprieved.
func (r *Router) reconcileMissing(st *state.AttentionState, stats *Stats) {
	log := logging.Get(logging.CategoryRouter)
	for id := range st.Scores {
		if r.fileExists(id) {
			st.Reappeared(id)
			continue
		}
		if _, pending := st.PendingPurge[id]; !pending {
			log.Warn("scored file missing on disk: %s", id)
			stats.MissingFiles = append(stats.MissingFiles, id)
		}
		st.MarkMissing(id, st.TurnCount)
	}
}

// rankAndTier is Phase 8's cache-stability sort, tier assignment, and
// budget enforcement. Files pending purge are excluded: their score is
// already zeroed and the spec omits missing files from the output.
func (r *Router) rankAndTier(st *state.AttentionState, stats *Stats) []RankedFile {
	ranked := make([]RankedFile, 0, len(st.Scores))
	for id, score := range st.Scores {
		if _, pending := st.PendingPurge[id]; pending {
			continue
		}
		ranked = append(ranked, RankedFile{
			FileID: id,
			Score:  score,
			Streak: st.Streaks[id],
		})
	}

	// Composite key: (-score, streak, lexicographic). The streak term keeps
	// a file that has been hot for several turns ahead of a same-scored
	// newcomer, which is what makes the selection cache-stable.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Streak != ranked[j].Streak {
			return ranked[i].Streak > ranked[j].Streak
		}
		return ranked[i].FileID < ranked[j].FileID
	})

	hot, warm := 0, 0
	for i := range ranked {
		switch {
		case ranked[i].Score >= r.cfg.Thresholds.Hot:
			ranked[i].Tier = TierHot
		case ranked[i].Score >= r.cfg.Thresholds.Warm:
			ranked[i].Tier = TierWarm
		default:
			ranked[i].Tier = TierCold
		}

		// Budget enforcement: overflow demotes Hot to Warm and Warm to
		// Cold. Pinned files are exempt from falling out of Warm.
		if ranked[i].Tier == TierHot {
			if hot >= r.cfg.Caps.MaxHot {
				ranked[i].Tier = TierWarm
			} else {
				hot++
			}
		}
		if ranked[i].Tier == TierWarm {
			if warm >= r.cfg.Caps.MaxWarm && !r.cfg.IsPinned(ranked[i].FileID) {
				ranked[i].Tier = TierCold
			} else {
				warm++
			}
		}
	}

	// Streak update: +1 when Hot this turn, reset otherwise.
	hotNow := make(map[string]bool, hot)
	for _, f := range ranked {
		if f.Tier == TierHot {
			hotNow[f.FileID] = true
		}
	}
	for id := range st.Scores {
		if hotNow[id] {
			st.Streaks[id]++
		} else {
			delete(st.Streaks, id)
		}
	}
	for i := range ranked {
		ranked[i].Streak = st.Streaks[ranked[i].FileID]
	}

	stats.FilesScored = len(ranked)
	for _, f := range ranked {
		switch f.Tier {
		case TierHot:
			stats.HotCount++
		case TierWarm:
			stats.WarmCount++
		default:
			stats.ColdCount++
		}
	}
	return ranked
}

// fileCategory classifies a file for decay-rate selection. Keyword config
// wins when an entry targets the file; otherwise the extension decides.
func (r *Router) fileCategory(id string) config.Category {
	for _, kw := range r.cfg.Keywords {
		for _, target := range kw.Targets {
			if target == id && kw.Category != "" {
				return kw.Category
			}
		}
	}
	switch strings.ToLower(filepath.Ext(id)) {
	case ".md", ".markdown":
		return config.CategoryMarkdown
	case ".txt", ".rst", ".adoc":
		return config.CategoryProse
	case ".go", ".rs", ".py", ".js", ".ts", ".c", ".h", ".cpp", ".java", ".rb", ".zig", ".sh":
		return config.CategoryCode
	default:
		return config.CategoryMixed
	}
}

// fileExists checks id relative to the project root.
func (r *Router) fileExists(id string) bool {
	if r.projectRoot == "" {
		return true
	}
	info, err := os.Stat(filepath.Join(r.projectRoot, id))
	return err == nil && !info.IsDir()
}
