package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/predictor"
	"github.com/luan/attentive/internal/telemetry"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the learner and predictor models from the turn log",
	Long: `Replays turns.jsonl through the learner's and predictor's offline update
paths, then persists both models and the derived SQLite index. Use after a
model file was discarded for a version mismatch, or to bootstrap a fresh
checkout from shared telemetry.`,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	app, err := newApp(projectDir)
	if err != nil {
		return err
	}
	defer app.Close()

	turns, err := telemetry.ReadTurns(app.Paths.TurnsLogPath())
	if err != nil {
		return fmt.Errorf("read turn log: %w", err)
	}
	if len(turns) == 0 {
		fmt.Println("no turns logged; nothing to replay")
		return nil
	}

	// Rebuild from scratch rather than on top of whatever loaded, so a
	// replay is idempotent.
	l := learner.New(app.Cfg.Learner)
	pred := predictor.New(app.Cfg.Predictor, l.IDF)
	for _, t := range turns {
		l.Observe(t)
		pred.Update(t)
	}
	if err := l.Save(app.Paths.LearnedStatePath(), app.Clock.Now()); err != nil {
		return err
	}
	if err := pred.Save(app.Paths.PredictorModelPath(), app.Clock.Now()); err != nil {
		return err
	}

	n := 0
	if app.Index != nil {
		n, err = app.Index.RebuildFromLog(app.Paths.TurnsLogPath())
		if err != nil {
			return err
		}
	}

	zlog.Info("replay complete", zap.Int("turns", len(turns)), zap.Int("indexed", n))
	fmt.Printf("replayed %d turns (%d indexed)\n", len(turns), n)
	return nil
}
