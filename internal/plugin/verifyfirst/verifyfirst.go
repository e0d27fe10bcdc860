// Package verifyfirst flags writes to files the assistant never read this
// session. Editing blind is a classic failure mode; the advisory nudges
// the assistant to look before it touches.
package verifyfirst

import (
	"fmt"
	"strings"

	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/telemetry"
)

const pluginName = "verify_first"

var readTools = map[string]bool{
	"read": true, "grep": true, "glob": true, "search": true, "cat": true, "view": true,
}

var writeTools = map[string]bool{
	"write": true, "edit": true, "create": true, "patch": true, "replace": true,
}

type persistedState struct {
	SessionID  string          `json:"session_id"`
	FilesRead  map[string]bool `json:"files_read"`
	Violations int             `json:"violations"`
}

// VerifyFirst tracks per-session reads and logs a violation for each write
// to an unread file.
type VerifyFirst struct{}

func New() *VerifyFirst { return &VerifyFirst{} }

func (v *VerifyFirst) Name() string { return pluginName }

// OnSessionStart resets the read set.
func (v *VerifyFirst) OnSessionStart(ctx *plugin.Context) error {
	return ctx.SaveState(&persistedState{SessionID: ctx.SessionID, FilesRead: map[string]bool{}})
}

// OnStop classifies the turn's tool calls into reads and writes.
func (v *VerifyFirst) OnStop(ctx *plugin.Context, turn telemetry.TurnRecord) error {
	var st persistedState
	if _, err := ctx.LoadState(&st); err != nil {
		return err
	}
	if st.SessionID != ctx.SessionID || st.FilesRead == nil {
		st = persistedState{SessionID: ctx.SessionID, FilesRead: map[string]bool{}}
	}

	for _, tc := range turn.ToolCalls {
		if tc.TargetPath == "" {
			continue
		}
		tool := strings.ToLower(tc.Tool)
		switch {
		case readTools[tool]:
			st.FilesRead[tc.TargetPath] = true
		case writeTools[tool]:
			if !st.FilesRead[tc.TargetPath] {
				st.Violations++
				ctx.LogEvent("violation", fmt.Sprintf("write to %s before reading it", tc.TargetPath))
			}
			// A write implies familiarity from here on.
			st.FilesRead[tc.TargetPath] = true
		}
	}

	return ctx.SaveState(&st)
}

// OnPromptPre emits an advisory while the session has unverified writes.
func (v *VerifyFirst) OnPromptPre(ctx *plugin.Context, prompt string) ([]string, error) {
	var st persistedState
	loaded, err := ctx.LoadState(&st)
	if err != nil {
		return nil, err
	}
	if !loaded || st.SessionID != ctx.SessionID || st.Violations == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("verify_first: %d write(s) this session touched files that were never read; read before editing", st.Violations)}, nil
}
