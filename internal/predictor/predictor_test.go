package predictor

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
)

func testCfg() config.PredictorConfig {
	return config.DefaultConfig().Predictor
}

func turn(prompt string, used ...string) telemetry.TurnRecord {
	return telemetry.TurnRecord{PromptText: prompt, FilesUsed: used}
}

func TestConfidentModeBasenameMention(t *testing.T) {
	p := New(testCfg(), nil)
	p.Update(turn("setup", "src/lexer.rs"))

	preds := p.Predict("fix the parser bug in lexer.rs", nil)
	require.NotEmpty(t, preds)
	assert.Equal(t, "src/lexer.rs", preds[0].FileID)
	assert.Equal(t, ModeConfident, preds[0].Mode)
	assert.Equal(t, 0.9, preds[0].Confidence)
}

func TestConfidentModeStrongKeyword(t *testing.T) {
	// A fixed IDF function makes "zparser" strong and everything else weak.
	idf := func(tok string) float64 {
		if tok == "zparser" {
			return 5.0
		}
		return 1.0
	}
	p := New(testCfg(), idf)
	p.Update(turn("work on zparser internals", "internal/parse.go"))

	preds := p.Predict("zparser is broken again", nil)
	require.NotEmpty(t, preds)
	assert.Equal(t, "internal/parse.go", preds[0].FileID)
	assert.Equal(t, ModeConfident, preds[0].Mode)
	assert.Equal(t, 0.7, preds[0].Confidence)
}

func TestStrongKeywordAmbiguousTargetNotConfident(t *testing.T) {
	idf := func(string) float64 { return 5.0 }
	p := New(testCfg(), idf)
	p.Update(turn("zmod", "a.go", "b.go"))

	// "zmod" maps to two files: not a confident signal.
	preds := p.Predict("zmod", nil)
	for _, pr := range preds {
		assert.Equal(t, ModeFallback, pr.Mode)
	}
}

func TestConfidentModeMarkovTransition(t *testing.T) {
	p := New(testCfg(), nil)
	// a.go is always followed by b.go.
	for i := 0; i < 5; i++ {
		p.Update(turn("step one", "a.go"))
		p.Update(turn("step two", "b.go"))
	}

	preds := p.Predict("continue", []string{"a.go"})
	require.NotEmpty(t, preds)
	assert.Equal(t, "b.go", preds[0].FileID)
	assert.Equal(t, ModeConfident, preds[0].Mode)
	assert.Greater(t, preds[0].Confidence, 0.3)
}

func TestFallbackModeCapsConfidence(t *testing.T) {
	p := New(testCfg(), nil)
	for i := 0; i < 10; i++ {
		p.Update(turn(fmt.Sprintf("unrelated %d", i), "popular.go"))
	}

	preds := p.Predict("nothing matches here", nil)
	require.NotEmpty(t, preds)
	assert.Equal(t, ModeFallback, preds[0].Mode)
	assert.LessOrEqual(t, preds[0].Confidence, 0.4)
	assert.Greater(t, preds[0].Confidence, 0.0)
}

func TestFallbackExcludesLastHot(t *testing.T) {
	p := New(testCfg(), nil)
	p.Update(turn("x", "only.go"))

	preds := p.Predict("nothing", []string{"only.go"})
	for _, pr := range preds {
		assert.NotEqual(t, "only.go", pr.FileID)
	}
}

func TestEmptyModelPredictsNothing(t *testing.T) {
	p := New(testCfg(), nil)
	assert.Empty(t, p.Predict("anything", nil))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "predictor_model.json")

	p := New(testCfg(), nil)
	for i := 0; i < 5; i++ {
		p.Update(turn("edit lexer.rs", "src/lexer.rs"))
		p.Update(turn("then parser", "src/parser.rs"))
	}
	require.NoError(t, p.Save(path, time.Now()))

	restored := New(testCfg(), nil)
	restored.Load(path, "")

	orig := p.Predict("lexer.rs please", nil)
	back := restored.Predict("lexer.rs please", nil)
	assert.Equal(t, orig, back)
}

func TestLoadVersionMismatchRebuildsFromLog(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "predictor_model.json")
	logPath := filepath.Join(dir, "turns.jsonl")

	require.NoError(t, state.WriteFileAtomic(modelPath, []byte(`{"version": 99}`), 0644))

	w := telemetry.NewJSONLWriter(logPath)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Append(telemetry.TurnRecord{TurnID: i + 1, PromptText: "edit main.go", FilesUsed: []string{"main.go"}}))
	}
	w.Close()

	p := New(testCfg(), nil)
	p.Load(modelPath, logPath)

	preds := p.Predict("main.go again", nil)
	require.NotEmpty(t, preds)
	assert.Equal(t, "main.go", preds[0].FileID)
	assert.Equal(t, ModeConfident, preds[0].Mode)
}
