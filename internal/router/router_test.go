package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// newTestRouter materializes files into a temp project and builds a router
// over it.
func newTestRouter(t *testing.T, files map[string]string, tweak func(*config.Config)) (*Router, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfg := config.DefaultConfig()
	if tweak != nil {
		tweak(cfg)
	}
	r := New(Options{
		Config:      cfg,
		ProjectRoot: root,
		StatePath:   filepath.Join(root, ".state", "attn_state.json"),
		Clock:       fixedClock{t: time.Unix(1700000000, 0)},
	})
	return r, root
}

func TestColdStartFilenameMention(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"src/lexer.rs": "fn lex() { /* tokenize */ }",
		"src/main.rs":  "fn main() {}",
	}, nil)

	res := r.Route("fix the parser bug in lexer.rs")

	assert.Contains(t, res.DirectlyActivated, "src/lexer.rs")
	assert.Equal(t, 1, res.State.TurnCount)

	require.NotEmpty(t, res.Ranked)
	assert.Equal(t, "src/lexer.rs", res.Ranked[0].FileID)
	assert.Equal(t, TierHot, res.Ranked[0].Tier)
	assert.Contains(t, res.Output, "fn lex()")
}

func TestKeywordEntryActivation(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"auth/session.go": "package auth",
	}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "login", Targets: []string{"auth/session.go"}, Category: config.CategoryCode, Weight: 1.0},
		}
	})

	res := r.Route("the LOGIN flow is broken")
	assert.Contains(t, res.DirectlyActivated, "auth/session.go")
	assert.Equal(t, 1.0, res.State.Get("auth/session.go"))
}

func TestKeywordAliasActivation(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"auth/session.go": "package auth",
	}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "login", Aliases: []string{"signin"}, Targets: []string{"auth/session.go"}, Weight: 1.0},
		}
	})

	res := r.Route("signin fails for new users")
	assert.Contains(t, res.DirectlyActivated, "auth/session.go")
}

func TestObservingLearnerAppliesZeroBoost(t *testing.T) {
	l := learner.New(config.DefaultConfig().Learner)
	for i := 0; i < 10; i++ { // well below the maturity gate
		l.Observe(telemetry.TurnRecord{PromptText: "tune widget", FilesUsed: []string{"widget.go"}})
	}

	r, _ := newTestRouter(t, map[string]string{"widget.go": "package w"}, nil)
	r.learner = l

	res := r.Route("tune widget")
	assert.Zero(t, res.Stats.LearnedHits)
	assert.Equal(t, 0.0, res.State.Get("widget.go"))
}

func TestActiveLearnerBoosts(t *testing.T) {
	l := learner.New(config.DefaultConfig().Learner)
	for i := 0; i < 30; i++ {
		l.Observe(telemetry.TurnRecord{PromptText: "tune widget", FilesUsed: []string{"widget.go"}})
	}

	r, _ := newTestRouter(t, map[string]string{"widget.go": "package w"}, nil)
	r.learner = l

	res := r.Route("tune widget")
	assert.Positive(t, res.Stats.LearnedHits)
	assert.Positive(t, res.State.Get("widget.go"))
}

func TestPinnedFileNeverCold(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"CONTRACT.md": "# contract",
		"other.go":    "package other",
	}, func(cfg *config.Config) {
		cfg.Pinned = []string{"CONTRACT.md"}
	})

	res := r.Route("prompt with no keyword match at all")

	var pinnedTier Tier = TierCold
	for _, f := range res.Ranked {
		if f.FileID == "CONTRACT.md" {
			pinnedTier = f.Tier
		}
	}
	assert.NotEqual(t, TierCold, pinnedTier)
	assert.GreaterOrEqual(t, res.State.Get("CONTRACT.md"), r.cfg.Thresholds.Warm)
}

func TestDemotedPenaltyHalvesScore(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"noisy.md": "# noisy",
	}, func(cfg *config.Config) {
		cfg.Demoted = []string{"noisy.md"}
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "noisy", Targets: []string{"noisy.md"}, Category: config.CategoryMarkdown, Weight: 1.0},
		}
	})

	res := r.Route("noisy")
	// Activated to 1.0 then halved by Phase 6.
	assert.InDelta(t, 0.5, res.State.Get("noisy.md"), 1e-9)
}

func TestScoresAlwaysInRange(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"a.go": "package a", "b.go": "package b", "c.md": "# c",
	}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "alpha", Targets: []string{"a.go", "b.go"}, Weight: 2.0}, // weight >1 tries to overshoot
		}
		cfg.Pinned = []string{"c.md"}
	})

	prompts := []string{"alpha", "alpha alpha b.go", "c.md alpha", "nothing", ""}
	for _, p := range prompts {
		res := r.Route(p)
		for id, score := range res.State.Scores {
			assert.GreaterOrEqual(t, score, 0.0, "score for %s", id)
			assert.LessOrEqual(t, score, 1.2, "score for %s", id)
		}
		assert.LessOrEqual(t, res.Stats.HotCount, r.cfg.Caps.MaxHot)
		assert.LessOrEqual(t, len(res.Output), r.cfg.Caps.MaxContextChars)
	}
}

func TestLargeProjectBudgets(t *testing.T) {
	files := make(map[string]string, 200)
	var pinned []string
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("pkg%02d/file%03d.go", i/10, i)
		files[name] = fmt.Sprintf("package pkg%02d\n\nfunc F%03d() {}\n", i/10, i)
		if i < 20 {
			pinned = append(pinned, name)
		}
	}

	r, _ := newTestRouter(t, files, func(cfg *config.Config) {
		cfg.Pinned = pinned
	})

	res := r.Route("something entirely unrelated to any file")

	assert.LessOrEqual(t, len(res.Output), 20000)
	assert.LessOrEqual(t, res.Stats.HotCount, 3)

	evictedLine := ""
	for _, line := range strings.Split(res.Output, "\n") {
		if strings.HasPrefix(line, "evicted: ") {
			evictedLine = line
		}
	}
	require.NotEmpty(t, evictedLine)
	evicted := strings.Split(strings.TrimPrefix(evictedLine, "evicted: "), ", ")
	assert.GreaterOrEqual(t, len(evicted), 177)
}

func TestRouteDeterministic(t *testing.T) {
	files := map[string]string{
		"a.go": "package a", "b.go": "package b", "z.go": "package z",
	}
	build := func() *Router {
		r, _ := newTestRouter(t, files, func(cfg *config.Config) {
			cfg.Keywords = []config.KeywordEntry{
				{Pattern: "same", Targets: []string{"a.go", "b.go", "z.go"}, Weight: 1.0},
			}
		})
		return r
	}

	out1 := build().Route("same prompt")
	out2 := build().Route("same prompt")
	assert.Equal(t, out1.Output, out2.Output)
	assert.Equal(t, out1.DirectlyActivated, out2.DirectlyActivated)
}

func TestDecayRemovesStaleEntries(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{"a.go": "package a"}, nil)

	st := state.NewAttentionState()
	st.Set("a.go", 0.011) // one decay step below epsilon
	r.routeState(st, "unrelated")
	assert.NotContains(t, st.Scores, "a.go")
}

func TestMissingHotFileZeroedAndSkipped(t *testing.T) {
	r, root := newTestRouter(t, map[string]string{"gone.go": "package gone"}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "gone", Targets: []string{"gone.go"}, Weight: 1.0},
		}
	})
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	res := r.Route("gone")
	assert.NotContains(t, res.Output, "package gone")
	assert.Contains(t, res.Stats.MissingFiles, "gone.go")
	assert.Equal(t, 0.0, res.State.Get("gone.go"))
}

func TestMissingColdFileZeroedViaRoute(t *testing.T) {
	r, root := newTestRouter(t, map[string]string{
		"ghost.go": "package ghost",
		"main.go":  "package main",
	}, func(cfg *config.Config) {
		// Weight 0.2 leaves the file below the warm threshold: Cold tier.
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "ghost", Targets: []string{"ghost.go"}, Weight: 0.2},
		}
	})

	res := r.Route("ghost")
	assert.InDelta(t, 0.2, res.State.Get("ghost.go"), 1e-9)

	require.NoError(t, os.Remove(filepath.Join(root, "ghost.go")))

	// The file is Cold, never selected into Hot or Warm, yet the next
	// route must still notice it is gone.
	res = r.Route("unrelated prompt")
	assert.Equal(t, 0.0, res.State.Get("ghost.go"))
	assert.Contains(t, res.Stats.MissingFiles, "ghost.go")
	assert.Contains(t, res.State.PendingPurge, "ghost.go")
	assert.NotContains(t, res.Output, "ghost.go")
	for _, f := range res.Ranked {
		assert.NotEqual(t, "ghost.go", f.FileID)
	}

	// One grace turn later the entry is purged entirely.
	res = r.Route("another prompt")
	assert.NotContains(t, res.State.Scores, "ghost.go")
	assert.NotContains(t, res.State.PendingPurge, "ghost.go")
}

func TestReappearedFileKeepsScore(t *testing.T) {
	r, root := newTestRouter(t, map[string]string{
		"flaky.go": "package flaky",
	}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "flaky", Targets: []string{"flaky.go"}, Weight: 0.2},
		}
	})

	r.Route("flaky")
	path := filepath.Join(root, "flaky.go")
	require.NoError(t, os.Remove(path))
	r.Route("unrelated")

	// The file returns before the purge sweep fires; re-activation scores
	// it again and the pending purge is lifted.
	require.NoError(t, os.WriteFile(path, []byte("package flaky"), 0644))
	res := r.Route("flaky")
	assert.InDelta(t, 0.2, res.State.Get("flaky.go"), 1e-9)
	assert.NotContains(t, res.State.PendingPurge, "flaky.go")
}

func TestStreakIncrementsWhileHot(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{"a.go": "package a"}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "alpha", Targets: []string{"a.go"}, Weight: 1.0},
		}
	})

	res := r.Route("alpha")
	assert.Equal(t, 1, res.State.Streaks["a.go"])
	res = r.Route("alpha")
	assert.Equal(t, 2, res.State.Streaks["a.go"])
	// One decay step leaves 1.0 * 0.85 = 0.85, still at or above the hot
	// threshold (0.8), so the streak keeps growing.
	res = r.Route("unrelated prompt with no match")
	assert.Equal(t, 3, res.State.Streaks["a.go"])
	// A second step leaves 0.85 * 0.85 = 0.7225: Warm, so the streak resets.
	res = r.Route("unrelated prompt with no match")
	assert.Equal(t, 0, res.State.Streaks["a.go"])
}

func TestStatePersistsAcrossRoutes(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{"a.go": "package a"}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "alpha", Targets: []string{"a.go"}, Weight: 1.0},
		}
	})

	first := r.Route("alpha")
	assert.Equal(t, 1, first.State.TurnCount)

	second := r.Route("alpha")
	assert.Equal(t, 2, second.State.TurnCount)
	// Re-activation bumps the decayed prior score (0.85) back up to 1.0.
	assert.Equal(t, 1.0, second.State.Get("a.go"))
}
