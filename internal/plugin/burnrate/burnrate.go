// Package burnrate watches the host assistant's token spend and warns as
// quota exhaustion approaches. It reads an external stats source on every
// prompt and keeps a rolling tokens/min estimate.
package burnrate

import (
	"fmt"
	"sort"
	"time"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/usage"
)

const pluginName = "burn_rate"

type persistedState struct {
	SessionID string       `json:"session_id"`
	Warned    map[int]bool `json:"warned"` // threshold minutes -> already warned
}

// TokenWindow sums this tool's own token estimates over a trailing window.
// Implemented by telemetry.TurnIndex; used as the rate source until the
// host's usage cache has yielded two distinct samples.
type TokenWindow interface {
	TokensSince(cutoff time.Time) (int, error)
}

// BurnRate reads usage snapshots and emits at most one advisory per
// configured threshold per session.
type BurnRate struct {
	cfg     config.BurnRateConfig
	source  usage.Source
	window  TokenWindow
	tracker *usage.RateTracker
}

// New creates the plugin over a stats source and an optional turn-index
// window (nil disables the fallback rate). Thresholds default to the
// documented 30 and 10 minute marks.
func New(cfg config.BurnRateConfig, source usage.Source, window TokenWindow) *BurnRate {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = 15
	}
	if len(cfg.WarnAtMinutes) == 0 {
		cfg.WarnAtMinutes = []int{30, 10}
	}
	return &BurnRate{
		cfg:     cfg,
		source:  source,
		window:  window,
		tracker: usage.NewRateTracker(time.Duration(cfg.WindowMinutes) * time.Minute),
	}
}

func (b *BurnRate) Name() string { return pluginName }

// OnSessionStart clears the per-session warning flags.
func (b *BurnRate) OnSessionStart(ctx *plugin.Context) error {
	return ctx.SaveState(&persistedState{SessionID: ctx.SessionID, Warned: map[int]bool{}})
}

// OnPromptPre samples the stats source and warns when predicted time to
// exhaustion crosses a threshold for the first time this session.
func (b *BurnRate) OnPromptPre(ctx *plugin.Context, prompt string) ([]string, error) {
	if b.source == nil {
		return nil, nil
	}
	snap, err := b.source.Read()
	if err != nil {
		// The cache belongs to the host; absence is not our failure.
		return nil, nil
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = ctx.Clock.Now()
	}
	b.tracker.Observe(snap)

	rate := b.tracker.RatePerMin()
	mins, ok := b.tracker.MinutesToExhaustion()
	if !ok {
		// Cache rate not established yet (single sample, or a quota
		// reset): fall back to our own rolling token window.
		rate = b.windowRate(ctx.Clock.Now())
		if rate <= 0 {
			return nil, nil
		}
		mins = float64(snap.Remaining()) / rate
	}

	var st persistedState
	if _, err := ctx.LoadState(&st); err != nil {
		return nil, err
	}
	if st.SessionID != ctx.SessionID || st.Warned == nil {
		st = persistedState{SessionID: ctx.SessionID, Warned: map[int]bool{}}
	}

	// Fire the tightest crossed threshold that has not fired yet.
	thresholds := append([]int(nil), b.cfg.WarnAtMinutes...)
	sort.Ints(thresholds)

	var advisories []string
	for _, th := range thresholds {
		if mins <= float64(th) && !st.Warned[th] {
			st.Warned[th] = true
			msg := fmt.Sprintf("burn_rate: ~%.0f min of quota left at %.0f tokens/min (threshold %d min)",
				mins, rate, th)
			advisories = append(advisories, msg)
			ctx.LogEvent("advisory", msg)
			break
		}
	}

	if len(advisories) > 0 {
		if err := ctx.SaveState(&st); err != nil {
			return advisories, err
		}
	}
	return advisories, nil
}

// windowRate estimates tokens/min from the turn index over the configured
// window. Returns 0 when no window is wired or nothing was logged.
func (b *BurnRate) windowRate(now time.Time) float64 {
	if b.window == nil {
		return 0
	}
	windowDur := time.Duration(b.cfg.WindowMinutes) * time.Minute
	tokens, err := b.window.TokensSince(now.Add(-windowDur))
	if err != nil || tokens <= 0 {
		return 0
	}
	return float64(tokens) / windowDur.Minutes()
}
