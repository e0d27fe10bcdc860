package plugin

import (
	"fmt"

	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/router"
	"github.com/luan/attentive/internal/telemetry"
)

// Supervisor owns plugin registration and lifecycle dispatch. Hooks run in
// registration order; a plugin that returns an error or panics is disabled
// for the remainder of the process and the rest continue.
type Supervisor struct {
	paths    *paths.Paths
	clock    paths.Clock
	events   telemetry.Appender
	plugins  []Plugin
	disabled map[string]bool

	sessionID string
	turnID    int
}

// NewSupervisor creates a supervisor writing plugin events to events.
func NewSupervisor(p *paths.Paths, clock paths.Clock, events telemetry.Appender) *Supervisor {
	if clock == nil {
		clock = paths.SystemClock{}
	}
	return &Supervisor{
		paths:    p,
		clock:    clock,
		events:   events,
		disabled: make(map[string]bool),
	}
}

// Register appends a plugin. Registration order is dispatch order.
func (s *Supervisor) Register(p Plugin) {
	s.plugins = append(s.plugins, p)
}

// SetTurn stamps the session and turn used for event attribution.
func (s *Supervisor) SetTurn(sessionID string, turnID int) {
	s.sessionID = sessionID
	s.turnID = turnID
}

func (s *Supervisor) contextFor(p Plugin) *Context {
	stateDir := ""
	if s.paths != nil {
		stateDir = s.paths.PluginStateDir()
	}
	return &Context{
		Paths:      s.paths,
		Clock:      s.clock,
		SessionID:  s.sessionID,
		TurnID:     s.turnID,
		events:     s.events,
		pluginName: p.Name(),
		stateDir:   stateDir,
	}
}

// dispatch runs fn for plugin p with panic isolation. On error or panic
// the plugin is disabled and an error event is logged.
func (s *Supervisor) dispatch(p Plugin, hook string, fn func(ctx *Context) error) {
	if s.disabled[p.Name()] {
		return
	}
	ctx := s.contextFor(p)

	defer func() {
		if rec := recover(); rec != nil {
			s.disable(p, ctx, hook, fmt.Errorf("%w: %v", router.ErrPluginPanic, rec))
		}
	}()

	if err := fn(ctx); err != nil {
		s.disable(p, ctx, hook, err)
	}
}

func (s *Supervisor) disable(p Plugin, ctx *Context, hook string, err error) {
	s.disabled[p.Name()] = true
	logging.Get(logging.CategoryPlugin).Error("plugin %s disabled after %s: %v", p.Name(), hook, err)
	ctx.LogEvent("error", fmt.Sprintf("disabled after %s: %v", hook, err))
}

// IsDisabled reports whether a plugin has been disabled this process.
func (s *Supervisor) IsDisabled(name string) bool {
	return s.disabled[name]
}

// SessionStart dispatches on_session_start to every capable plugin.
func (s *Supervisor) SessionStart() {
	for _, p := range s.plugins {
		starter, ok := p.(SessionStarter)
		if !ok {
			continue
		}
		s.dispatch(p, "on_session_start", func(ctx *Context) error {
			return starter.OnSessionStart(ctx)
		})
	}
}

// PromptPre dispatches on_prompt_pre and collects advisory strings.
func (s *Supervisor) PromptPre(prompt string) []string {
	var advisories []string
	for _, p := range s.plugins {
		pre, ok := p.(PromptPreHook)
		if !ok {
			continue
		}
		s.dispatch(p, "on_prompt_pre", func(ctx *Context) error {
			out, err := pre.OnPromptPre(ctx, prompt)
			if err != nil {
				return err
			}
			advisories = append(advisories, out...)
			return nil
		})
	}
	return advisories
}

// PromptPost dispatches on_prompt_post with the routing result.
func (s *Supervisor) PromptPost(prompt string, result *router.RoutingResult) {
	for _, p := range s.plugins {
		post, ok := p.(PromptPostHook)
		if !ok {
			continue
		}
		s.dispatch(p, "on_prompt_post", func(ctx *Context) error {
			return post.OnPromptPost(ctx, prompt, result)
		})
	}
}

// Stop dispatches on_stop with the completed turn record.
func (s *Supervisor) Stop(turn telemetry.TurnRecord) {
	for _, p := range s.plugins {
		stop, ok := p.(StopHook)
		if !ok {
			continue
		}
		s.dispatch(p, "on_stop", func(ctx *Context) error {
			return stop.OnStop(ctx, turn)
		})
	}
}
