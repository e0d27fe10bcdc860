// Package main implements the attentive CLI: the hook entrypoint the host
// assistant invokes on every turn, plus operator commands for inspecting
// and rebuilding the router's persisted state.
//
// Command files:
//   - cmd_hook.go    - hookCmd, the stdin/stdout hook protocol
//   - cmd_status.go  - statusCmd, TUI dashboard over the current tiers
//   - cmd_replay.go  - replayCmd, rebuild learner/predictor from turns.jsonl
//   - cmd_inspect.go - inspectCmd, dump persisted state as formatted JSON
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	projectDir string
	verbose    bool

	// zlog is the operator-facing structured logger (stderr). Durable
	// per-turn diagnostics go through internal/logging instead.
	zlog *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "attentive",
	Short: "Attention router for an LLM coding assistant",
	Long: `attentive decides, on every conversational turn, which project files
are materialized into the assistant's context window: full content for hot
files, outlines for warm files, nothing for the rest. It learns per-file
affinities from turn telemetry and pre-warms likely files before they are
asked for.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if verbose {
			zlog, err = zap.NewDevelopment()
		} else {
			zlog, err = zap.NewProduction()
		}
		if err != nil {
			zlog = zap.NewNop()
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			zlog.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose stderr logging")

	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
