package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/plugin/burnrate"
	"github.com/luan/attentive/internal/plugin/loopbreaker"
	"github.com/luan/attentive/internal/plugin/script"
	"github.com/luan/attentive/internal/plugin/verifyfirst"
	"github.com/luan/attentive/internal/predictor"
	"github.com/luan/attentive/internal/router"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
	"github.com/luan/attentive/internal/usage"
)

// App wires every subsystem for one hook invocation or CLI command.
type App struct {
	Paths      *paths.Paths
	Cfg        *config.Config
	Clock      paths.Clock
	Learner    *learner.Learner
	Predictor  *predictor.Predictor
	Router     *router.Router
	Supervisor *plugin.Supervisor
	TurnsLog   *telemetry.JSONLWriter
	EventsLog  *telemetry.JSONLWriter
	Index      *telemetry.TurnIndex // nil when the index could not open
}

// newApp resolves paths for projectDir, loads config and models, and
// assembles the full pipeline.
func newApp(projectDir string) (*App, error) {
	p, err := paths.Resolve(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project paths: %w", err)
	}
	if err := logging.Initialize(p.PerCopyDir); err != nil {
		zlog.Warn("logging init failed", zap.Error(err))
	}

	cfg, err := config.Load(p.ConfigPath())
	if err != nil {
		return nil, err
	}
	if overrides, err := config.LoadOverrides(p.OverridesPath()); err != nil {
		zlog.Warn("overrides load failed, ignoring", zap.Error(err))
	} else {
		overrides.Apply(cfg)
	}
	if keywords, err := config.LoadKeywords(p.KeywordsPath()); err != nil {
		zlog.Warn("keywords load failed, ignoring", zap.Error(err))
	} else {
		cfg.Keywords = keywords
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := paths.SystemClock{}

	l := learner.New(cfg.Learner)
	l.Load(p.LearnedStatePath())

	pred := predictor.New(cfg.Predictor, l.IDF)
	pred.Load(p.PredictorModelPath(), p.TurnsLogPath())

	rt := router.New(router.Options{
		Config:      cfg,
		ProjectRoot: p.ProjectRoot,
		StatePath:   p.AttnStatePath(),
		Clock:       clock,
		Learner:     l,
		Predictor:   pred,
	})

	idx, err := telemetry.OpenTurnIndex(p.DerivedIndexPath())
	if err != nil {
		zlog.Warn("turn index unavailable", zap.Error(err))
		idx = nil
	}

	eventsLog := telemetry.NewJSONLWriter(p.EventsLogPath())
	sup := plugin.NewSupervisor(p, clock, eventsLog)
	registerPlugins(sup, cfg, p, idx)

	return &App{
		Paths:      p,
		Cfg:        cfg,
		Clock:      clock,
		Learner:    l,
		Predictor:  pred,
		Router:     rt,
		Supervisor: sup,
		TurnsLog:   telemetry.NewJSONLWriter(p.TurnsLogPath()),
		EventsLog:  eventsLog,
		Index:      idx,
	}, nil
}

// registerPlugins instantiates the enabled plugins in config order. Names
// ending in .go are loaded as interpreted scripts from the config dir's
// plugins/ subdirectory.
func registerPlugins(sup *plugin.Supervisor, cfg *config.Config, p *paths.Paths, idx *telemetry.TurnIndex) {
	for _, name := range cfg.Plugins.Enabled {
		switch {
		case name == "loop_breaker":
			sup.Register(loopbreaker.New(cfg.Plugins.LoopBreaker))
		case name == "verify_first":
			sup.Register(verifyfirst.New())
		case name == "burn_rate":
			var window burnrate.TokenWindow
			if idx != nil {
				window = idx
			}
			sup.Register(burnrate.New(cfg.Plugins.BurnRate, usage.FileSource{Path: usageCachePath(p)}, window))
		case strings.HasSuffix(name, ".go"):
			scriptPath := name
			if !filepath.IsAbs(scriptPath) {
				scriptPath = filepath.Join(p.ConfigDir, "plugins", name)
			}
			s, err := script.Load(scriptPath)
			if err != nil {
				zlog.Warn("plugin script skipped", zap.String("script", name), zap.Error(err))
				continue
			}
			sup.Register(s)
		default:
			zlog.Warn("unknown plugin in config", zap.String("plugin", name))
		}
	}
}

// usageCachePath locates the host assistant's usage cache.
func usageCachePath(p *paths.Paths) string {
	if env := os.Getenv("TOOL_USAGE_CACHE"); env != "" {
		return env
	}
	return filepath.Join(p.Home, p.ToolDir, "usage_cache.json")
}

// lastRouteRecord remembers what the previous prompt injected, so the stop
// event can score injected-vs-used without the host resending it.
type lastRouteRecord struct {
	TurnID   int      `json:"turn_id"`
	Injected []string `json:"injected"`
}

func (a *App) lastRoutePath() string {
	return filepath.Join(a.Paths.PerCopyDir, "last_route.json")
}

func (a *App) saveLastRoute(rec lastRouteRecord) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	if err := state.WriteFileAtomic(a.lastRoutePath(), data, 0644); err != nil {
		zlog.Warn("last route save failed", zap.Error(err))
	}
}

func (a *App) loadLastRoute() lastRouteRecord {
	var rec lastRouteRecord
	data, err := os.ReadFile(a.lastRoutePath())
	if err != nil {
		return rec
	}
	json.Unmarshal(data, &rec)
	return rec
}

// handleSessionStart warm-starts attention from the learned model and lets
// plugins initialize.
func (a *App) handleSessionStart(in HookInput) HookOutput {
	a.Supervisor.SetTurn(in.SessionID, in.TurnID)

	st := state.Load(a.Paths.AttnStatePath())
	if st.ProjectHash != "" && st.ProjectHash != filepath.Base(a.Paths.PerCopyDir) {
		// State copied from another project: rebuild rather than misapply.
		zlog.Warn("attention state belongs to a different project, rebuilding")
		st = state.NewAttentionState()
	}
	st.SessionID = in.SessionID
	st.ProjectHash = filepath.Base(a.Paths.PerCopyDir)
	a.Learner.SeedWarmStart(st, a.Cfg.Thresholds.Warm)
	if err := st.Save(a.Paths.AttnStatePath(), a.Clock.Now()); err != nil {
		zlog.Warn("warm-start save failed", zap.Error(err))
	}

	a.Supervisor.SessionStart()
	return HookOutput{}
}

// handlePrompt runs the latency-critical path: plugin advisories, then the
// router.
func (a *App) handlePrompt(in HookInput) HookOutput {
	a.Supervisor.SetTurn(in.SessionID, in.TurnID)

	advisories := a.Supervisor.PromptPre(in.Prompt)
	res := a.Router.Route(in.Prompt)
	a.Supervisor.PromptPost(in.Prompt, res)

	a.saveLastRoute(lastRouteRecord{TurnID: in.TurnID, Injected: res.InjectedSet()})

	return HookOutput{Context: res.Output, Events: advisories}
}

// handleStop runs the post-turn feedback loop: telemetry append, learner
// and predictor updates, plugin on_stop. The learner and predictor updates
// are independent and run concurrently.
func (a *App) handleStop(in HookInput) HookOutput {
	a.Supervisor.SetTurn(in.SessionID, in.TurnID)

	rec := telemetry.NewTurnRecord(in.TurnID, a.Paths.ProjectRoot, in.SessionID, in.Prompt, a.Clock.Now())
	rec.FilesUsed = in.FilesUsed
	rec.ToolCalls = in.ToolCalls
	rec.HostToolCalls = len(in.ToolCalls)
	if last := a.loadLastRoute(); last.TurnID == in.TurnID {
		rec.FilesInjected = last.Injected
	}

	if err := a.TurnsLog.Append(rec); err != nil {
		zlog.Warn("turn log append failed", zap.Error(err))
	}

	var g errgroup.Group
	g.Go(func() error {
		a.Learner.Observe(rec)
		return a.Learner.Save(a.Paths.LearnedStatePath(), a.Clock.Now())
	})
	g.Go(func() error {
		a.Predictor.Update(rec)
		return a.Predictor.Save(a.Paths.PredictorModelPath(), a.Clock.Now())
	})
	g.Go(func() error {
		if a.Index == nil {
			return nil
		}
		return a.Index.Insert(rec)
	})
	if err := g.Wait(); err != nil {
		zlog.Warn("post-turn update failed", zap.Error(err))
	}

	a.Supervisor.Stop(rec)
	return HookOutput{}
}

// Close flushes the append-only logs and the derived index.
func (a *App) Close() {
	a.TurnsLog.Close()
	a.EventsLog.Close()
	if a.Index != nil {
		a.Index.Close()
	}
}
