package learner

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/state"
)

// learnedStateVersion is the learned_state.json schema version.
const learnedStateVersion = 1

// learnedStateDoc is the on-disk shape. Associations and coactivations are
// flat triples so the file stays diffable and order-stable.
type learnedStateDoc struct {
	Version       int                `json:"version"`
	TurnCount     int                `json:"turn_count"`
	LastUpdate    time.Time          `json:"last_update"`
	Associations  [][3]any           `json:"associations"`  // [token, file, strength]
	Coactivations [][3]any           `json:"coactivations"` // [a, b, weight], a < b
	Rhythms       map[string]*Rhythm `json:"rhythms"`
	IDF           map[string]int     `json:"idf"` // token -> document frequency
	Usefulness    map[string]float64 `json:"usefulness,omitempty"`
	Window        []windowEntry      `json:"window,omitempty"`
}

// Save writes the learned model atomically.
func (l *Learner) Save(path string, now time.Time) error {
	l.mu.RLock()
	doc := learnedStateDoc{
		Version:    learnedStateVersion,
		TurnCount:  l.turnCount,
		LastUpdate: now,
		Rhythms:    l.rhythms,
		IDF:        l.docFreq,
		Usefulness: l.usefulness,
		Window:     l.window,
	}
	for tok, files := range l.associations {
		for f, s := range files {
			doc.Associations = append(doc.Associations, [3]any{tok, f, s})
		}
	}
	for a, edges := range l.coact {
		for b, w := range edges {
			if a < b { // each undirected edge serialized once
				doc.Coactivations = append(doc.Coactivations, [3]any{a, b, w})
			}
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal learned state: %w", err)
	}
	if err := state.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("persist learned state: %w", err)
	}
	return nil
}

// Load restores the learned model from path. Missing, corrupt, or
// version-mismatched files leave the learner empty.
func (l *Learner) Load(path string) {
	log := logging.Get(logging.CategoryLearner)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read learned state failed, starting empty: %v", err)
		}
		return
	}

	var doc learnedStateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("corrupt learned state, starting empty: %v", err)
		return
	}
	if doc.Version != learnedStateVersion {
		log.Warn("learned state version %d != %d, starting empty", doc.Version, learnedStateVersion)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.turnCount = doc.TurnCount
	if doc.IDF != nil {
		l.docFreq = doc.IDF
	}
	if doc.Rhythms != nil {
		l.rhythms = doc.Rhythms
	}
	if doc.Usefulness != nil {
		l.usefulness = doc.Usefulness
	}
	l.window = doc.Window

	for _, triple := range doc.Associations {
		tok, okT := triple[0].(string)
		f, okF := triple[1].(string)
		s, okS := triple[2].(float64)
		if !okT || !okF || !okS {
			log.Warn("skipping malformed association entry %v", triple)
			continue
		}
		m := l.associations[tok]
		if m == nil {
			m = make(map[string]float64)
			l.associations[tok] = m
		}
		m[f] = s
	}
	for _, triple := range doc.Coactivations {
		a, okA := triple[0].(string)
		b, okB := triple[1].(string)
		w, okW := triple[2].(float64)
		if !okA || !okB || !okW {
			log.Warn("skipping malformed coactivation entry %v", triple)
			continue
		}
		l.setEdgeLocked(a, b, w)
	}
}
