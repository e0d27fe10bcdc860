package predictor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
)

// modelVersion is the predictor_model.json schema version. Binary formats
// are deliberately rejected: versioned JSON survives crashes and ports.
const modelVersion = 1

type modelDoc struct {
	Version    int                       `json:"version"`
	TurnCount  int                       `json:"turn_count"`
	LastUpdate time.Time                 `json:"last_update"`
	Mentions   map[string]int            `json:"mentions"`
	TokenIndex map[string]map[string]int `json:"token_index"`
	Markov     map[string]map[string]int `json:"markov"`
	Popularity map[string]int            `json:"popularity"`
	LastActive map[string]int            `json:"last_active"`
	PrevActive []string                  `json:"prev_active,omitempty"`
}

// Save writes the model atomically as versioned JSON.
func (p *Predictor) Save(path string, now time.Time) error {
	p.mu.RLock()
	doc := modelDoc{
		Version:    modelVersion,
		TurnCount:  p.turnCount,
		LastUpdate: now,
		Mentions:   p.mentions,
		TokenIndex: p.tokenIndex,
		Markov:     p.markov,
		Popularity: p.popularity,
		LastActive: p.lastActive,
		PrevActive: p.prevActive,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal predictor model: %w", err)
	}
	if err := state.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("persist predictor model: %w", err)
	}
	return nil
}

// Load restores the model from path. An incompatible version is discarded
// with a warning and, when a turn log is available at turnLogPath, the
// model is rebuilt by replaying it.
func (p *Predictor) Load(path, turnLogPath string) {
	log := logging.Get(logging.CategoryPredictor)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read predictor model failed, starting empty: %v", err)
		}
		return
	}

	var doc modelDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("corrupt predictor model, discarding: %v", err)
		p.RebuildFromLog(turnLogPath)
		return
	}
	if doc.Version != modelVersion {
		log.Warn("predictor model version %d != %d, discarding", doc.Version, modelVersion)
		p.RebuildFromLog(turnLogPath)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.turnCount = doc.TurnCount
	if doc.Mentions != nil {
		p.mentions = doc.Mentions
	}
	if doc.TokenIndex != nil {
		p.tokenIndex = doc.TokenIndex
	}
	if doc.Markov != nil {
		p.markov = doc.Markov
	}
	if doc.Popularity != nil {
		p.popularity = doc.Popularity
	}
	if doc.LastActive != nil {
		p.lastActive = doc.LastActive
	}
	p.prevActive = doc.PrevActive
}

// RebuildFromLog replays a turns.jsonl file through Update. Returns the
// number of turns replayed.
func (p *Predictor) RebuildFromLog(turnLogPath string) int {
	if turnLogPath == "" {
		return 0
	}
	turns, err := telemetry.ReadTurns(turnLogPath)
	if err != nil {
		logging.Get(logging.CategoryPredictor).Warn("rebuild from turn log failed: %v", err)
		return 0
	}
	for _, t := range turns {
		p.Update(t)
	}
	if len(turns) > 0 {
		logging.Get(logging.CategoryPredictor).Info("predictor rebuilt from %d logged turns", len(turns))
	}
	return len(turns)
}
