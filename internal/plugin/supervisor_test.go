package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/telemetry"
)

type collector struct {
	records []any
}

func (c *collector) Append(r any) error {
	c.records = append(c.records, r)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testSupervisor(t *testing.T) (*Supervisor, *collector) {
	t.Helper()
	dir := t.TempDir()
	p := &paths.Paths{PerCopyDir: dir, SharedDir: dir, ConfigDir: dir, ProjectRoot: dir}
	events := &collector{}
	s := NewSupervisor(p, fixedClock{t: time.Unix(1000, 0)}, events)
	s.SetTurn("sess-1", 1)
	return s, events
}

type fakePlugin struct {
	name       string
	advisories []string
	preErr     error
	panics     bool
	preCalls   int
	stopCalls  int
}

func (f *fakePlugin) Name() string { return f.name }

func (f *fakePlugin) OnPromptPre(ctx *Context, prompt string) ([]string, error) {
	f.preCalls++
	if f.panics {
		panic("boom")
	}
	return f.advisories, f.preErr
}

func (f *fakePlugin) OnStop(ctx *Context, turn telemetry.TurnRecord) error {
	f.stopCalls++
	return nil
}

func TestSupervisorCollectsAdvisoriesInOrder(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(&fakePlugin{name: "a", advisories: []string{"first"}})
	s.Register(&fakePlugin{name: "b", advisories: []string{"second"}})

	out := s.PromptPre("prompt")
	assert.Equal(t, []string{"first", "second"}, out)
}

func TestSupervisorDisablesFailingPlugin(t *testing.T) {
	s, events := testSupervisor(t)
	bad := &fakePlugin{name: "bad", preErr: errors.New("broken")}
	good := &fakePlugin{name: "good", advisories: []string{"ok"}}
	s.Register(bad)
	s.Register(good)

	out := s.PromptPre("one")
	assert.Equal(t, []string{"ok"}, out)
	assert.True(t, s.IsDisabled("bad"))
	require.NotEmpty(t, events.records)

	// The disabled plugin is never invoked again.
	s.PromptPre("two")
	assert.Equal(t, 1, bad.preCalls)
	assert.Equal(t, 2, good.preCalls)
}

func TestSupervisorIsolatesPanic(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Register(&fakePlugin{name: "panicky", panics: true})
	s.Register(&fakePlugin{name: "steady", advisories: []string{"still here"}})

	out := s.PromptPre("prompt")
	assert.Equal(t, []string{"still here"}, out)
	assert.True(t, s.IsDisabled("panicky"))
}

func TestSupervisorStopDispatch(t *testing.T) {
	s, _ := testSupervisor(t)
	p := &fakePlugin{name: "p"}
	s.Register(p)

	s.Stop(telemetry.TurnRecord{TurnID: 1})
	assert.Equal(t, 1, p.stopCalls)
}

func TestContextStateRoundTrip(t *testing.T) {
	s, _ := testSupervisor(t)
	p := &fakePlugin{name: "stateful"}
	ctx := s.contextFor(p)

	type blob struct {
		Count int `json:"count"`
	}
	var loaded blob
	found, err := ctx.LoadState(&loaded)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ctx.SaveState(&blob{Count: 42}))
	found, err = ctx.LoadState(&loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, loaded.Count)
}
