package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/luan/attentive/internal/telemetry"
)

// HookInput is the JSON object the host assistant writes to stdin.
type HookInput struct {
	Event       string               `json:"event"` // session_start | user_prompt_submit | stop
	Prompt      string               `json:"prompt,omitempty"`
	SessionID   string               `json:"session_id"`
	ProjectPath string               `json:"project_path"`
	TurnID      int                  `json:"turn_id"`
	FilesUsed   []string             `json:"files_used,omitempty"`
	ToolCalls   []telemetry.ToolCall `json:"tool_calls,omitempty"`
}

// HookOutput is the JSON object written to stdout. An empty context is a
// valid, safe answer.
type HookOutput struct {
	Context string   `json:"context"`
	Events  []string `json:"events"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Process one hook event from stdin (host protocol)",
	RunE:  runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	if os.Getenv("TOOL_DISABLE") == "1" {
		return emit(HookOutput{})
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	var in HookInput
	if err := json.Unmarshal(data, &in); err != nil {
		// Protocol violation: short error on stderr, non-zero exit. The
		// host treats this as "no context".
		return fmt.Errorf("bad hook input: %w", err)
	}

	dir := in.ProjectPath
	if dir == "" {
		dir = projectDir
	}

	app, err := newApp(dir)
	if err != nil {
		// Degraded operation: never block the host over our own failure.
		zlog.Warn("app init failed, emitting empty context")
		return emit(HookOutput{})
	}
	defer app.Close()

	var out HookOutput
	switch in.Event {
	case "session_start":
		out = app.handleSessionStart(in)
	case "user_prompt_submit":
		out = app.handlePrompt(in)
	case "stop":
		out = app.handleStop(in)
	default:
		return fmt.Errorf("unknown hook event %q", in.Event)
	}

	return emit(out)
}

func emit(out HookOutput) error {
	if out.Events == nil {
		out.Events = []string{}
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(out)
}
