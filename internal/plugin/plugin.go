// Package plugin hosts the behavioral monitors that ride alongside the
// router. A plugin declares capabilities by implementing optional hook
// interfaces; the supervisor dispatches via type assertion, never
// inheritance. A plugin that fails is disabled for the rest of the
// process while the others continue.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/luan/attentive/internal/paths"
	"github.com/luan/attentive/internal/router"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
)

// Plugin is the minimal contract: a unique name. Hooks are declared by
// additionally implementing the capability interfaces below.
type Plugin interface {
	Name() string
}

// SessionStarter runs once when a session opens.
type SessionStarter interface {
	OnSessionStart(ctx *Context) error
}

// PromptPreHook runs before the router; returned advisory strings are
// injected into the turn's output.
type PromptPreHook interface {
	OnPromptPre(ctx *Context, prompt string) ([]string, error)
}

// PromptPostHook runs after the router has produced its result.
type PromptPostHook interface {
	OnPromptPost(ctx *Context, prompt string, result *router.RoutingResult) error
}

// StopHook runs post-turn with the completed turn record.
type StopHook interface {
	OnStop(ctx *Context, turn telemetry.TurnRecord) error
}

// Context is what a plugin sees of the world: read-only paths and clock,
// an append-only event logger, and an atomic private state file.
type Context struct {
	Paths     *paths.Paths
	Clock     paths.Clock
	SessionID string
	TurnID    int

	events     telemetry.Appender
	pluginName string
	stateDir   string
}

// LogEvent appends an event attributed to this plugin.
func (c *Context) LogEvent(kind, message string) {
	if c.events == nil {
		return
	}
	now := c.Clock.Now()
	c.events.Append(telemetry.EventRecord{
		EventID:   fmt.Sprintf("%s-%d-%d", c.pluginName, c.TurnID, now.UnixNano()),
		Timestamp: now,
		SessionID: c.SessionID,
		Source:    c.pluginName,
		Kind:      kind,
		Message:   message,
		TurnID:    c.TurnID,
	})
}

func (c *Context) statePath() string {
	return filepath.Join(c.stateDir, c.pluginName+".json")
}

// LoadState unmarshals the plugin's private state into v. A missing file
// leaves v untouched and returns false.
func (c *Context) LoadState(v any) (bool, error) {
	data, err := os.ReadFile(c.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("load plugin state: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse plugin state: %w", err)
	}
	return true, nil
}

// SaveState atomically writes the plugin's private state.
func (c *Context) SaveState(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plugin state: %w", err)
	}
	if err := os.MkdirAll(c.stateDir, 0755); err != nil {
		return fmt.Errorf("create plugin state dir: %w", err)
	}
	return state.WriteFileAtomic(c.statePath(), data, 0644)
}
