package loopbreaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/telemetry"
)

type collector struct{ records []any }

func (c *collector) Append(r any) error {
	c.records = append(c.records, r)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func harness(t *testing.T) (*plugin.Supervisor, *LoopBreaker, *collector) {
	t.Helper()
	dir := t.TempDir()
	p := &paths.Paths{PerCopyDir: dir, SharedDir: dir, ConfigDir: dir, ProjectRoot: dir}
	events := &collector{}
	s := plugin.NewSupervisor(p, fixedClock{t: time.Unix(1000, 0)}, events)
	s.SetTurn("sess-1", 1)
	lb := New(config.DefaultConfig().Plugins.LoopBreaker)
	s.Register(lb)
	s.SessionStart()
	return s, lb, events
}

func edit(path, hash string) telemetry.ToolCall {
	return telemetry.ToolCall{Tool: "edit", TargetPath: path, OpHash: hash}
}

func TestSimilarityToolEqualityMandatory(t *testing.T) {
	a := Signature{Tool: "edit", TargetPath: "src/a.rs", OpHash: "h1"}
	b := Signature{Tool: "read", TargetPath: "src/a.rs", OpHash: "h1"}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestSimilaritySamePathSameHash(t *testing.T) {
	a := Signature{Tool: "edit", TargetPath: "src/a.rs", OpHash: "h1"}
	b := Signature{Tool: "edit", TargetPath: "src/a.rs", OpHash: "h1"}
	assert.Equal(t, 1.0, Similarity(a, b))
}

func TestSimilaritySharedSuffixOverMaxDepth(t *testing.T) {
	a := Signature{Tool: "edit", TargetPath: "src/core/a.rs"}
	b := Signature{Tool: "edit", TargetPath: "other/core/a.rs"}
	// Shared suffix: core/a.rs (2 components) over max depth 3.
	assert.InDelta(t, 2.0/3.0, Similarity(a, b), 1e-9)
}

func TestSimilarityDisjointPaths(t *testing.T) {
	a := Signature{Tool: "edit", TargetPath: "a.rs"}
	b := Signature{Tool: "edit", TargetPath: "b.rs"}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestLoopDetectedAcrossInterleavedCalls(t *testing.T) {
	s, _, events := harness(t)

	// Two similar edits to a.rs, then b.rs, then a.rs again.
	s.Stop(telemetry.TurnRecord{ToolCalls: []telemetry.ToolCall{
		edit("src/a.rs", "h1"),
		edit("src/a.rs", "h1"),
		edit("src/b.rs", "h2"),
		edit("src/a.rs", "h1"),
	}})

	// Violation event logged.
	found := false
	for _, r := range events.records {
		if ev, ok := r.(telemetry.EventRecord); ok && ev.Kind == "violation" {
			found = true
		}
	}
	assert.True(t, found, "expected a violation event")

	// Advisory surfaces on the next prompt, once.
	out := s.PromptPre("next prompt")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "strategy_change")

	out = s.PromptPre("and again")
	assert.Empty(t, out)
}

func TestNoLoopForDistinctTargets(t *testing.T) {
	s, _, events := harness(t)

	s.Stop(telemetry.TurnRecord{ToolCalls: []telemetry.ToolCall{
		edit("a.rs", "h1"),
		edit("b.rs", "h2"),
		edit("c.rs", "h3"),
	}})

	for _, r := range events.records {
		if ev, ok := r.(telemetry.EventRecord); ok {
			assert.NotEqual(t, "violation", ev.Kind)
		}
	}
	assert.Empty(t, s.PromptPre("prompt"))
}

func TestRingBufferEvictsOldSignatures(t *testing.T) {
	s, _, _ := harness(t)

	// Two similar edits, then enough noise to push them out of the buffer,
	// then a third: no trio remains in the window.
	calls := []telemetry.ToolCall{edit("a.rs", "h1"), edit("a.rs", "h1")}
	for i := 0; i < 12; i++ {
		calls = append(calls, telemetry.ToolCall{Tool: "read", TargetPath: fmt.Sprintf("docs/page%d.md", i)})
	}
	calls = append(calls, edit("a.rs", "h1"))
	s.Stop(telemetry.TurnRecord{ToolCalls: calls})

	assert.Empty(t, s.PromptPre("prompt"))
}
