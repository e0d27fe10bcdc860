package router

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/config"
)

func TestSanitizeStripsControlSpans(t *testing.T) {
	in := "before <system-reminder>secret\nstuff</system-reminder> middle " +
		"<task-notification>note</task-notification> after"
	out := Sanitize(in)
	assert.Equal(t, "before  middle  after", out)
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "note")
}

func TestSanitizeNoSpansUnchanged(t *testing.T) {
	in := "plain <b>html</b> content"
	assert.Equal(t, in, Sanitize(in))
}

func TestPerFileCapTruncatesWithMarker(t *testing.T) {
	big := strings.Repeat("x", 10000)
	r, _ := newTestRouter(t, map[string]string{"big.go": big}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "big", Targets: []string{"big.go"}, Weight: 1.0},
		}
	})

	res := r.Route("big")
	assert.Contains(t, res.Output, "[... truncated ...]")
	assert.Less(t, len(res.Output), 10000)
}

func TestEmbeddedSpansStrippedFromFileContent(t *testing.T) {
	content := "real code\n<system-reminder>do not leak</system-reminder>\nmore code"
	r, _ := newTestRouter(t, map[string]string{"f.go": content}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "work", Targets: []string{"f.go"}, Weight: 1.0},
		}
	})

	res := r.Route("work")
	assert.Contains(t, res.Output, "real code")
	assert.NotContains(t, res.Output, "do not leak")
}

func TestWarmFileGetsOutlineNotContent(t *testing.T) {
	content := "package w\n\nfunc Exported() {}\n\nvar hidden = 1\n"
	r, _ := newTestRouter(t, map[string]string{"w.go": content}, func(cfg *config.Config) {
		cfg.Caps.WarmOutlineLines = 2
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "warmish", Targets: []string{"w.go"}, Weight: 0.5}, // activates to 0.5: Warm
		}
	})

	res := r.Route("warmish")
	assert.Contains(t, res.Output, "(outline)")
	assert.Contains(t, res.Output, "package w")
	assert.NotContains(t, res.Output, "var hidden")
}

func TestOverBudgetFilesListedByPathOnly(t *testing.T) {
	files := map[string]string{}
	var kws []config.KeywordEntry
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("f%d.go", i)
		files[name] = strings.Repeat("y", 3000)
		kws = append(kws, config.KeywordEntry{Pattern: "all", Targets: []string{name}, Weight: 1.0})
	}

	r, _ := newTestRouter(t, files, func(cfg *config.Config) {
		cfg.Caps.MaxContextChars = 4000
		cfg.Keywords = kws
	})

	res := r.Route("all")
	assert.LessOrEqual(t, len(res.Output), 4000)
	assert.Contains(t, res.Output, "also relevant:")
}

func TestEvictedManifestNamesPathsOnly(t *testing.T) {
	r, _ := newTestRouter(t, map[string]string{
		"hot.go":       "package hot",
		"bystander.go": "package bystander",
	}, func(cfg *config.Config) {
		cfg.Keywords = []config.KeywordEntry{
			{Pattern: "hot", Targets: []string{"hot.go"}, Weight: 1.0},
		}
	})

	res := r.Route("hot")
	require.Contains(t, res.Output, "evicted: ")
	assert.Contains(t, res.Output, "bystander.go")
	assert.NotContains(t, res.Output, "package bystander")
}
