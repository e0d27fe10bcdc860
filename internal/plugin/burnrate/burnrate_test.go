package burnrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/usage"
)

type collector struct{ records []any }

func (c *collector) Append(r any) error {
	c.records = append(c.records, r)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// scriptedSource replays a fixed sequence of snapshots.
type scriptedSource struct {
	snaps []usage.Snapshot
	i     int
}

func (s *scriptedSource) Read() (usage.Snapshot, error) {
	if s.i >= len(s.snaps) {
		return s.snaps[len(s.snaps)-1], nil
	}
	out := s.snaps[s.i]
	s.i++
	return out, nil
}

func snap(minute int, used, quota int64) usage.Snapshot {
	return usage.Snapshot{
		Timestamp:   time.Unix(0, 0).Add(time.Duration(minute) * time.Minute),
		UsedTokens:  used,
		QuotaTokens: quota,
	}
}

// fixedWindow returns a constant token total for any cutoff.
type fixedWindow struct{ tokens int }

func (w fixedWindow) TokensSince(time.Time) (int, error) { return w.tokens, nil }

func harness(t *testing.T, src usage.Source, window TokenWindow) *plugin.Supervisor {
	t.Helper()
	dir := t.TempDir()
	p := &paths.Paths{PerCopyDir: dir, SharedDir: dir, ConfigDir: dir, ProjectRoot: dir}
	s := plugin.NewSupervisor(p, fixedClock{t: time.Unix(1000, 0)}, &collector{})
	s.SetTurn("sess-1", 1)
	s.Register(New(config.DefaultConfig().Plugins.BurnRate, src, window))
	s.SessionStart()
	return s
}

func TestWarnsOnceAtThirtyMinutes(t *testing.T) {
	// Burning 100 tokens/min with 2000 left: ~20 min to exhaustion, which
	// crosses the 30-minute threshold.
	src := &scriptedSource{snaps: []usage.Snapshot{
		snap(0, 8000, 10000),
		snap(1, 8100, 10000),
		snap(2, 8200, 10000),
	}}
	s := harness(t, src, nil)

	assert.Empty(t, s.PromptPre("first")) // single sample: no rate yet

	out := s.PromptPre("second")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "burn_rate")

	// Threshold already fired this session; no repeat.
	assert.Empty(t, s.PromptPre("third"))
}

func TestTenMinuteWarningFiresSeparately(t *testing.T) {
	src := &scriptedSource{snaps: []usage.Snapshot{
		snap(0, 7000, 10000),
		snap(1, 7100, 10000), // ~29 min left: 30-min warning
		snap(2, 9200, 10000), // burn spike: well under 10 min left
	}}
	s := harness(t, src, nil)

	s.PromptPre("a")
	first := s.PromptPre("b")
	require.Len(t, first, 1)
	assert.Contains(t, first[0], "threshold 30")

	second := s.PromptPre("c")
	require.Len(t, second, 1)
	assert.Contains(t, second[0], "threshold 10")
}

func TestWindowFallbackBeforeCacheRateEstablished(t *testing.T) {
	// One cache sample only: the tracker has no rate, so the turn index
	// supplies it. 3000 tokens over the 15-minute window is 200/min;
	// 1000 tokens remaining is ~5 min, inside the 10-minute threshold.
	src := &scriptedSource{snaps: []usage.Snapshot{
		snap(0, 9000, 10000),
	}}
	s := harness(t, src, fixedWindow{tokens: 3000})

	out := s.PromptPre("first")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "threshold 10")
}

func TestWindowFallbackEmptyIndexNoAdvisory(t *testing.T) {
	src := &scriptedSource{snaps: []usage.Snapshot{
		snap(0, 9000, 10000),
	}}
	s := harness(t, src, fixedWindow{tokens: 0})
	assert.Empty(t, s.PromptPre("first"))
}

func TestNoSourceNoAdvisory(t *testing.T) {
	s := harness(t, nil, nil)
	assert.Empty(t, s.PromptPre("prompt"))
}

func TestAmpleQuotaNoWarning(t *testing.T) {
	src := &scriptedSource{snaps: []usage.Snapshot{
		snap(0, 100, 1000000),
		snap(1, 200, 1000000),
	}}
	s := harness(t, src, nil)
	s.PromptPre("a")
	assert.Empty(t, s.PromptPre("b"))
}
