// Package loopbreaker watches the host's tool-call stream for repetition:
// three near-identical calls inside a short window usually mean the
// assistant is stuck retrying the same edit instead of changing strategy.
package loopbreaker

import (
	"fmt"
	"strings"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/plugin"
	"github.com/luan/attentive/internal/telemetry"
)

const pluginName = "loop_breaker"

// Signature identifies one tool call for similarity purposes.
type Signature struct {
	Tool       string `json:"tool"`
	TargetPath string `json:"target_path"`
	OpHash     string `json:"op_hash"`
}

type persistedState struct {
	SessionID string      `json:"session_id"`
	Buffer    []Signature `json:"buffer"`
	Pending   bool        `json:"pending_advisory"`
}

// LoopBreaker keeps a ring buffer of recent tool-call signatures and emits
// a strategy_change advisory when three of them are pairwise similar.
type LoopBreaker struct {
	cfg config.LoopBreakerConfig
}

// New creates the plugin with its tuning.
func New(cfg config.LoopBreakerConfig) *LoopBreaker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 12
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = 3
	}
	return &LoopBreaker{cfg: cfg}
}

func (l *LoopBreaker) Name() string { return pluginName }

// OnSessionStart resets the buffer for a fresh session.
func (l *LoopBreaker) OnSessionStart(ctx *plugin.Context) error {
	return ctx.SaveState(&persistedState{SessionID: ctx.SessionID})
}

// OnStop folds the turn's tool calls into the ring buffer and checks for a
// loop.
func (l *LoopBreaker) OnStop(ctx *plugin.Context, turn telemetry.TurnRecord) error {
	var st persistedState
	if _, err := ctx.LoadState(&st); err != nil {
		return err
	}
	if st.SessionID != ctx.SessionID {
		st = persistedState{SessionID: ctx.SessionID}
	}

	for _, tc := range turn.ToolCalls {
		st.Buffer = append(st.Buffer, Signature{Tool: tc.Tool, TargetPath: tc.TargetPath, OpHash: tc.OpHash})
	}
	if len(st.Buffer) > l.cfg.BufferSize {
		st.Buffer = st.Buffer[len(st.Buffer)-l.cfg.BufferSize:]
	}

	if trio, found := l.findLoop(st.Buffer); found {
		st.Pending = true
		ctx.LogEvent("violation", fmt.Sprintf("loop detected: %d similar %s calls targeting %s",
			l.cfg.MinMatches, trio.Tool, trio.TargetPath))
	}

	return ctx.SaveState(&st)
}

// OnPromptPre surfaces a pending strategy_change advisory exactly once.
func (l *LoopBreaker) OnPromptPre(ctx *plugin.Context, prompt string) ([]string, error) {
	var st persistedState
	loaded, err := ctx.LoadState(&st)
	if err != nil {
		return nil, err
	}
	if !loaded || !st.Pending || st.SessionID != ctx.SessionID {
		return nil, nil
	}
	st.Pending = false
	if err := ctx.SaveState(&st); err != nil {
		return nil, err
	}
	return []string{"strategy_change: the last several tool calls repeat the same operation; step back and try a different approach"}, nil
}

// findLoop looks for three signatures that are pairwise similar at or above
// the threshold. MinMatches only sets the shortest buffer that is searched;
// the match itself is always a trio. Buffers are small (12), so brute force
// is fine.
func (l *LoopBreaker) findLoop(buf []Signature) (Signature, bool) {
	n := len(buf)
	if n < l.cfg.MinMatches {
		return Signature{}, false
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if Similarity(buf[i], buf[j]) < l.cfg.SimilarityThreshold {
				continue
			}
			for k := j + 1; k < n; k++ {
				if Similarity(buf[i], buf[k]) >= l.cfg.SimilarityThreshold &&
					Similarity(buf[j], buf[k]) >= l.cfg.SimilarityThreshold {
					return buf[i], true
				}
			}
		}
	}
	return Signature{}, false
}

// Similarity scores two signatures in [0,1]. Tool equality is mandatory;
// path similarity is shared suffix components over max path depth, and a
// matching operation hash pulls the score toward 1.
func Similarity(a, b Signature) float64 {
	if a.Tool != b.Tool {
		return 0
	}
	pa := pathComponents(a.TargetPath)
	pb := pathComponents(b.TargetPath)

	maxDepth := len(pa)
	if len(pb) > maxDepth {
		maxDepth = len(pb)
	}

	var pathSim float64
	if maxDepth == 0 {
		pathSim = 1 // both pathless: same tool is all we can compare
	} else {
		pathSim = float64(sharedSuffix(pa, pb)) / float64(maxDepth)
	}

	if a.OpHash != "" && a.OpHash == b.OpHash {
		return (pathSim + 1) / 2
	}
	return pathSim
}

func pathComponents(p string) []string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func sharedSuffix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) {
		if !strings.EqualFold(a[len(a)-1-n], b[len(b)-1-n]) {
			break
		}
		n++
	}
	return n
}
