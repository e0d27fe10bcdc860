package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luan/attentive/internal/paths"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [attention|learned|predictor|all]",
	Short: "Dump persisted router state as formatted JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	p, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}

	which := "all"
	if len(args) == 1 {
		which = args[0]
	}

	targets := map[string]string{
		"attention": p.AttnStatePath(),
		"learned":   p.LearnedStatePath(),
		"predictor": p.PredictorModelPath(),
	}

	if which != "all" {
		path, ok := targets[which]
		if !ok {
			return fmt.Errorf("unknown state %q (want attention, learned, predictor, or all)", which)
		}
		return dumpJSON(which, path)
	}
	for _, name := range []string{"attention", "learned", "predictor"} {
		if err := dumpJSON(name, targets[name]); err != nil {
			return err
		}
	}
	return nil
}

func dumpJSON(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("--- %s: (no state at %s)\n", name, path)
			return nil
		}
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return fmt.Errorf("%s at %s is not valid JSON: %w", name, path, err)
	}
	fmt.Printf("--- %s (%s)\n%s\n", name, path, pretty.String())
	return nil
}
