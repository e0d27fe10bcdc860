// Package learner maintains the slow feedback loop: prompt-token to file
// associations, co-activation edges between files used together, and
// per-file revisit rhythms. It observes turns after the router has
// answered and is queried read-only on the latency path.
package learner

import (
	"math"
	"sort"
	"sync"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/state"
	"github.com/luan/attentive/internal/telemetry"
)

// Maturity gates the learner's influence on routing.
type Maturity string

const (
	MaturityObserving Maturity = "observing" // recording only, zero boost
	MaturityActive    Maturity = "active"
)

// Rhythm is the EWMA of the gap (in turns) between successive activations
// of a file.
type Rhythm struct {
	Mean     float64 `json:"mean"`
	Var      float64 `json:"var"`
	LastTurn int     `json:"last_turn"`
}

// AssociationHit is one learned token→file association returned by Query.
type AssociationHit struct {
	FileID   string
	Strength float64
}

// windowEntry is one turn's used-file set, kept for Jaccard computation.
type windowEntry struct {
	Turn  int      `json:"turn"`
	Files []string `json:"files"`
}

// Learner owns the learned model. All methods are safe for concurrent use;
// Observe takes the write lock, Query and the other read paths take the
// read lock, so readers never block one another; a read that arrives while
// a learn cycle holds the write lock waits for it to finish.
type Learner struct {
	mu  sync.RWMutex
	cfg config.LearnerConfig

	turnCount    int
	docFreq      map[string]int
	associations map[string]map[string]float64 // token -> file -> strength
	coact        map[string]map[string]float64 // undirected, mirrored both ways
	rhythms      map[string]*Rhythm
	usefulness   map[string]float64 // per-file EWMA, drives warm-start
	window       []windowEntry      // last JaccardWindowTurns turns
}

// New creates an empty learner with the given tuning.
func New(cfg config.LearnerConfig) *Learner {
	return &Learner{
		cfg:          cfg,
		docFreq:      make(map[string]int),
		associations: make(map[string]map[string]float64),
		coact:        make(map[string]map[string]float64),
		rhythms:      make(map[string]*Rhythm),
		usefulness:   make(map[string]float64),
	}
}

// Maturity reports whether the learner has seen enough turns to influence
// routing.
func (l *Learner) Maturity() Maturity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maturityLocked()
}

func (l *Learner) maturityLocked() Maturity {
	if l.turnCount >= l.cfg.MaturityTurns {
		return MaturityActive
	}
	return MaturityObserving
}

// TurnCount returns the number of turns observed across all sessions.
func (l *Learner) TurnCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.turnCount
}

// IDF returns log((1+N)/(1+df)) + 1 for a token.
func (l *Learner) IDF(token string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idfLocked(token)
}

func (l *Learner) idfLocked(token string) float64 {
	n := float64(l.turnCount)
	df := float64(l.docFreq[token])
	return math.Log((1+n)/(1+df)) + 1
}

// Query returns the learned associations for a token, strongest first.
// In observing maturity it returns nothing: the model records but does not
// yet steer.
func (l *Learner) Query(token string) []AssociationHit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.maturityLocked() != MaturityActive {
		return nil
	}
	files := l.associations[token]
	if len(files) == 0 {
		return nil
	}
	hits := make([]AssociationHit, 0, len(files))
	for f, s := range files {
		hits = append(hits, AssociationHit{FileID: f, Strength: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Strength != hits[j].Strength {
			return hits[i].Strength > hits[j].Strength
		}
		return hits[i].FileID < hits[j].FileID
	})
	return hits
}

// Neighbors returns the co-activation edges of id as (file, weight) pairs,
// for the router's bounded BFS. Order is deterministic.
func (l *Learner) Neighbors(id string) []AssociationHit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	edges := l.coact[id]
	if len(edges) == 0 {
		return nil
	}
	out := make([]AssociationHit, 0, len(edges))
	for f, w := range edges {
		out = append(out, AssociationHit{FileID: f, Strength: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Rhythm returns the revisit rhythm for a file, if one has been learned.
func (l *Learner) Rhythm(id string) (Rhythm, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rhythms[id]
	if !ok {
		return Rhythm{}, false
	}
	return *r, true
}

// Observe ingests one completed turn. Called from the post-turn hook, off
// the latency-critical path.
func (l *Learner) Observe(turn telemetry.TurnRecord) {
	timer := logging.StartTimer(logging.CategoryLearner, "Observe")
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.turnCount++

	tokens := UniqueTokens(turn.PromptText)
	for _, tok := range tokens {
		l.docFreq[tok]++
	}

	useful := usefulnessByFile(turn)
	l.updateAssociations(tokens, useful)
	l.decayAssociations()
	l.updateCoactivation(turn)
	l.updateRhythms(turn)
	l.updateUsefulness(useful)
}

// usefulnessByFile derives the per-file usefulness signal for a turn:
// injected and used 1.0, used without injection 1.0 (discovery), injected
// but unused -0.2.
func usefulnessByFile(turn telemetry.TurnRecord) map[string]float64 {
	injected := make(map[string]bool, len(turn.FilesInjected))
	for _, f := range turn.FilesInjected {
		injected[f] = true
	}
	used := make(map[string]bool, len(turn.FilesUsed))
	for _, f := range turn.FilesUsed {
		used[f] = true
	}

	out := make(map[string]float64, len(injected)+len(used))
	for f := range used {
		out[f] = 1.0
	}
	for f := range injected {
		if !used[f] {
			out[f] = -0.2
		}
	}
	return out
}

func (l *Learner) updateAssociations(tokens []string, useful map[string]float64) {
	for _, tok := range tokens {
		idf := l.idfLocked(tok)
		for f, u := range useful {
			if u == 0 {
				continue
			}
			m := l.associations[tok]
			if m == nil {
				m = make(map[string]float64)
				l.associations[tok] = m
			}
			m[f] += u * idf
			if m[f] < 0 {
				m[f] = 0
			}
		}
	}
}

func (l *Learner) decayAssociations() {
	for tok, files := range l.associations {
		for f, s := range files {
			s *= l.cfg.AssociationDecay
			if s < l.cfg.AssociationEpsilon {
				delete(files, f)
			} else {
				files[f] = s
			}
		}
		if len(files) == 0 {
			delete(l.associations, tok)
		}
	}
}

// updateCoactivation pushes the turn's used set into the history window,
// then reinforces or decays edges between every pair of used files based
// on the Jaccard overlap of their activation histories.
func (l *Learner) updateCoactivation(turn telemetry.TurnRecord) {
	if len(turn.FilesUsed) > 0 {
		l.window = append(l.window, windowEntry{Turn: l.turnCount, Files: turn.FilesUsed})
	}
	if max := l.cfg.JaccardWindowTurns; max > 0 && len(l.window) > max {
		l.window = l.window[len(l.window)-max:]
	}

	used := turn.FilesUsed
	for i := 0; i < len(used); i++ {
		for j := i + 1; j < len(used); j++ {
			a, b := used[i], used[j]
			if a == b {
				continue
			}
			jac := l.jaccardLocked(a, b)
			cur, exists := l.edgeLocked(a, b)
			switch {
			case jac >= l.cfg.JaccardThreshold:
				w := cur + l.cfg.CoactivationBump
				if w > 1 {
					w = 1
				}
				l.setEdgeLocked(a, b, w)
			case exists:
				l.setEdgeLocked(a, b, cur*l.cfg.CoactivationDecay)
			}
		}
	}

	// Global edge decay and pruning.
	for a, edges := range l.coact {
		for b, w := range edges {
			w *= l.cfg.CoactivationDecay
			if w < l.cfg.CoactivationEpsilon {
				delete(edges, b)
				if peer := l.coact[b]; peer != nil {
					delete(peer, a)
					if len(peer) == 0 {
						delete(l.coact, b)
					}
				}
			} else {
				edges[b] = w
			}
		}
		if len(edges) == 0 {
			delete(l.coact, a)
		}
	}
}

// jaccardLocked computes the overlap of the turn-sets in which a and b
// were used, over the history window.
func (l *Learner) jaccardLocked(a, b string) float64 {
	var aTurns, bTurns []int
	for _, e := range l.window {
		for _, f := range e.Files {
			if f == a {
				aTurns = append(aTurns, e.Turn)
			}
			if f == b {
				bTurns = append(bTurns, e.Turn)
			}
		}
	}
	if len(aTurns) == 0 && len(bTurns) == 0 {
		return 0
	}
	inA := make(map[int]bool, len(aTurns))
	for _, t := range aTurns {
		inA[t] = true
	}
	both := 0
	inB := make(map[int]bool, len(bTurns))
	for _, t := range bTurns {
		if !inB[t] {
			inB[t] = true
			if inA[t] {
				both++
			}
		}
	}
	union := len(inA) + len(inB) - both
	if union == 0 {
		return 0
	}
	return float64(both) / float64(union)
}

func (l *Learner) edgeLocked(a, b string) (float64, bool) {
	if m := l.coact[a]; m != nil {
		w, ok := m[b]
		return w, ok
	}
	return 0, false
}

func (l *Learner) setEdgeLocked(a, b string, w float64) {
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		m := l.coact[pair[0]]
		if m == nil {
			m = make(map[string]float64)
			l.coact[pair[0]] = m
		}
		m[pair[1]] = w
	}
}

func (l *Learner) updateRhythms(turn telemetry.TurnRecord) {
	alpha := l.cfg.RhythmAlpha
	for _, f := range turn.FilesUsed {
		r := l.rhythms[f]
		if r == nil {
			l.rhythms[f] = &Rhythm{LastTurn: l.turnCount}
			continue
		}
		gap := float64(l.turnCount - r.LastTurn)
		if r.Mean == 0 {
			r.Mean = gap
		} else {
			dev := gap - r.Mean
			r.Mean += alpha * dev
			r.Var = (1-alpha)*r.Var + alpha*dev*dev
		}
		r.LastTurn = l.turnCount
	}
}

func (l *Learner) updateUsefulness(useful map[string]float64) {
	const alpha = 0.3
	for f, u := range useful {
		cur, ok := l.usefulness[f]
		if !ok {
			l.usefulness[f] = u
			continue
		}
		l.usefulness[f] = (1-alpha)*cur + alpha*u
	}
}

// SeedWarmStart bumps the top-k historically useful files to just above
// the warm threshold in a fresh session's attention state, so the first
// turn is biased toward files that earned their keep before.
func (l *Learner) SeedWarmStart(st *state.AttentionState, warmThreshold float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	type fileScore struct {
		id    string
		score float64
	}
	ranked := make([]fileScore, 0, len(l.usefulness))
	for f, u := range l.usefulness {
		if u > 0 {
			ranked = append(ranked, fileScore{f, u})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	k := l.cfg.WarmStartTopK
	if k > len(ranked) {
		k = len(ranked)
	}
	for _, fs := range ranked[:k] {
		st.Bump(fs.id, warmThreshold+0.05)
	}
}
