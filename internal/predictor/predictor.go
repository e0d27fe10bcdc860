// Package predictor pre-warms the router: given the current prompt and the
// previous turn's hot set, it ranks files likely to matter this turn. Its
// influence is additive and capped so a wrong guess cannot promote a file
// to Hot on its own.
package predictor

import (
	"math"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/luan/attentive/internal/config"
	"github.com/luan/attentive/internal/learner"
	"github.com/luan/attentive/internal/logging"
	"github.com/luan/attentive/internal/telemetry"
)

// Mode labels how a prediction was made.
type Mode string

const (
	ModeConfident Mode = "confident"
	ModeFallback  Mode = "fallback"
)

// Prediction is one ranked pre-warm candidate.
type Prediction struct {
	FileID     string
	Confidence float64
	Mode       Mode
}

// IDFFunc supplies token rarity. The app (cmd/attentive) wires in the learner's IDF so
// the predictor and learner score tokens from the same corpus.
type IDFFunc func(token string) float64

// recencyHalfLife controls the exponential recency decay in fallback mode:
// a file untouched for this many turns scores ~0.37 on the recency axis.
const recencyHalfLife = 5.0

// Predictor owns the pre-warm model. Update runs post-turn; Predict runs
// on the latency path under a read lock.
type Predictor struct {
	mu  sync.RWMutex
	cfg config.PredictorConfig
	idf IDFFunc

	turnCount  int
	mentions   map[string]int            // file -> prompt mention count
	tokenIndex map[string]map[string]int // token -> file -> co-occurrence count
	markov     map[string]map[string]int // prev-active file -> next-active file -> count
	popularity map[string]int            // file -> activation count
	lastActive map[string]int            // file -> last turn used
	prevActive []string                  // previous turn's used set
}

// New creates an empty predictor. idf may be nil, in which case strong-
// keyword detection is disabled.
func New(cfg config.PredictorConfig, idf IDFFunc) *Predictor {
	return &Predictor{
		cfg:        cfg,
		idf:        idf,
		mentions:   make(map[string]int),
		tokenIndex: make(map[string]map[string]int),
		markov:     make(map[string]map[string]int),
		popularity: make(map[string]int),
		lastActive: make(map[string]int),
	}
}

// Update ingests one completed turn. Called post-turn, off the latency path.
func (p *Predictor) Update(turn telemetry.TurnRecord) {
	timer := logging.StartTimer(logging.CategoryPredictor, "Update")
	defer timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.turnCount++
	used := turn.FilesUsed

	prompt := strings.ToLower(turn.PromptText)
	for f := range p.popularity {
		if base := strings.ToLower(path.Base(f)); base != "" && strings.Contains(prompt, base) {
			p.mentions[f]++
		}
	}

	tokens := learner.UniqueTokens(turn.PromptText)
	for _, f := range used {
		p.popularity[f]++
		p.lastActive[f] = p.turnCount
		for _, tok := range tokens {
			m := p.tokenIndex[tok]
			if m == nil {
				m = make(map[string]int)
				p.tokenIndex[tok] = m
			}
			m[f]++
		}
	}

	for _, from := range p.prevActive {
		for _, to := range used {
			if from == to {
				continue
			}
			m := p.markov[from]
			if m == nil {
				m = make(map[string]int)
				p.markov[from] = m
			}
			m[to]++
		}
	}
	p.prevActive = used
}

// Predict ranks pre-warm candidates for the prompt. Confident mode wins
// when any strong evidence exists; otherwise fallback blends recency,
// co-occurrence with the last hot set, and popularity.
func (p *Predictor) Predict(prompt string, lastHot []string) []Prediction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if preds := p.confidentLocked(prompt, lastHot); len(preds) > 0 {
		return preds
	}
	return p.fallbackLocked(lastHot)
}

func (p *Predictor) confidentLocked(prompt string, lastHot []string) []Prediction {
	best := make(map[string]float64)

	// (a) literal basename mention.
	lower := strings.ToLower(prompt)
	for f := range p.popularity {
		base := strings.ToLower(path.Base(f))
		if base != "" && strings.Contains(lower, base) {
			if p.cfg.BasenameConfidence > best[f] {
				best[f] = p.cfg.BasenameConfidence
			}
		}
	}

	// (b) a strong (rare) keyword pointing at exactly one file.
	if p.idf != nil {
		for _, tok := range learner.UniqueTokens(prompt) {
			if p.idf(tok) < p.cfg.StrongKeywordIDF {
				continue
			}
			files := p.tokenIndex[tok]
			if len(files) != 1 {
				continue
			}
			for f := range files {
				if p.cfg.KeywordConfidence > best[f] {
					best[f] = p.cfg.KeywordConfidence
				}
			}
		}
	}

	// (c) a Markov transition from the last hot set above threshold.
	for _, from := range lastHot {
		counts := p.markov[from]
		if len(counts) == 0 {
			continue
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		for to, c := range counts {
			prob := float64(c) / float64(total)
			if prob > p.cfg.MarkovThreshold && prob > best[to] {
				best[to] = prob
			}
		}
	}

	return rank(best, ModeConfident)
}

func (p *Predictor) fallbackLocked(lastHot []string) []Prediction {
	if len(p.popularity) == 0 {
		return nil
	}

	// Popularity blends activation count with prompt mentions, so a file
	// the user keeps naming ranks above one merely touched often.
	maxPop := 0
	for f, c := range p.popularity {
		if n := c + p.mentions[f]; n > maxPop {
			maxPop = n
		}
	}

	inLastHot := make(map[string]bool, len(lastHot))
	for _, f := range lastHot {
		inLastHot[f] = true
	}

	scores := make(map[string]float64, len(p.popularity))
	for f, pop := range p.popularity {
		gap := float64(p.turnCount - p.lastActive[f])
		recency := math.Exp(-gap / recencyHalfLife)

		cooccur := 0.0
		for _, from := range lastHot {
			counts := p.markov[from]
			if len(counts) == 0 {
				continue
			}
			total := 0
			for _, c := range counts {
				total += c
			}
			if c, ok := counts[f]; ok {
				prob := float64(c) / float64(total)
				if prob > cooccur {
					cooccur = prob
				}
			}
		}

		popularity := float64(pop+p.mentions[f]) / float64(maxPop)

		score := p.cfg.FallbackRecencyWeight*recency +
			p.cfg.FallbackCooccurWeight*cooccur +
			p.cfg.FallbackPopularityWeight*popularity
		if score > p.cfg.FallbackConfidenceCap {
			score = p.cfg.FallbackConfidenceCap
		}
		if score > 0 && !inLastHot[f] {
			scores[f] = score
		}
	}

	return rank(scores, ModeFallback)
}

func rank(scores map[string]float64, mode Mode) []Prediction {
	if len(scores) == 0 {
		return nil
	}
	preds := make([]Prediction, 0, len(scores))
	for f, c := range scores {
		preds = append(preds, Prediction{FileID: f, Confidence: c, Mode: mode})
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Confidence != preds[j].Confidence {
			return preds[i].Confidence > preds[j].Confidence
		}
		return preds[i].FileID < preds[j].FileID
	})
	return preds
}
