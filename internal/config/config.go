package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/luan/attentive/internal/logging"
)

// Category is a file classification used to pick a decay rate.
type Category string

const (
	CategoryCode     Category = "code"
	CategoryProse    Category = "prose"
	CategoryMarkdown Category = "markdown"
	CategoryMixed    Category = "mixed"
)

// DecayConfig holds per-category score decay multipliers applied in Phase 1.
type DecayConfig struct {
	Code     float64 `json:"code"`
	Prose    float64 `json:"prose"`
	Markdown float64 `json:"markdown"`
	Mixed    float64 `json:"mixed"`
	Epsilon  float64 `json:"epsilon"` // scores below this are dropped after decay
}

// Rate returns the decay multiplier for a category, defaulting to Mixed's rate.
func (d DecayConfig) Rate(cat Category) float64 {
	switch cat {
	case CategoryCode:
		return d.Code
	case CategoryProse:
		return d.Prose
	case CategoryMarkdown:
		return d.Markdown
	default:
		return d.Mixed
	}
}

// ThresholdConfig holds the score boundaries used to derive a Tier.
type ThresholdConfig struct {
	Hot  float64 `json:"hot"`
	Warm float64 `json:"warm"`
}

// CapConfig holds the budget ceilings enforced in Phase 8 and context assembly.
type CapConfig struct {
	MaxHot           int `json:"max_hot"`
	MaxWarm          int `json:"max_warm"`
	MaxContextChars  int `json:"max_context_chars"`
	PerFileCharCap   int `json:"per_file_char_cap"`
	WarmOutlineLines int `json:"warm_outline_lines"` // fallback line count when RepoMap.outline is unavailable
}

// WeightConfig holds the scoring coefficients applied by the router's phases.
type WeightConfig struct {
	LearnedBoost          float64 `json:"learned_boost"`           // Phase 3 coefficient: 0.35 * idf * strength
	CoactivationDepth1     float64 `json:"coactivation_depth1"`     // Phase 4 bonus at BFS depth 1
	CoactivationDepth2     float64 `json:"coactivation_depth2"`     // Phase 4 bonus at BFS depth 2
	DemotedPenalty        float64 `json:"demoted_penalty"`         // Phase 6 multiplier
	PredictorBoost        float64 `json:"predictor_boost"`         // Phase 7 coefficient: 0.20 * confidence
	PredictorMaxCandidates int     `json:"predictor_max_candidates"` // Phase 7: first N predictions considered
	PinnedFloorMargin     float64 `json:"pinned_floor_margin"`     // Phase 5: warm_threshold + margin
}

// DeadlineConfig holds the soft latency budgets described in the concurrency model.
type DeadlineConfig struct {
	Turn      time.Duration `json:"turn"`
	Coactivation time.Duration `json:"coactivation"` // Phase 4 budget
	Predictor time.Duration `json:"predictor"`       // Phase 7 budget
}

// MarshalJSON/UnmarshalJSON on DeadlineConfig go through millisecond integers
// on disk, since JSON has no native duration type.
type deadlineConfigJSON struct {
	TurnMS         int64 `json:"turn_ms"`
	CoactivationMS int64 `json:"coactivation_ms"`
	PredictorMS    int64 `json:"predictor_ms"`
}

func (d DeadlineConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(deadlineConfigJSON{
		TurnMS:         d.Turn.Milliseconds(),
		CoactivationMS: d.Coactivation.Milliseconds(),
		PredictorMS:    d.Predictor.Milliseconds(),
	})
}

func (d *DeadlineConfig) UnmarshalJSON(data []byte) error {
	var raw deadlineConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Turn = time.Duration(raw.TurnMS) * time.Millisecond
	d.Coactivation = time.Duration(raw.CoactivationMS) * time.Millisecond
	d.Predictor = time.Duration(raw.PredictorMS) * time.Millisecond
	return nil
}

// LearnerConfig holds tuning parameters owned by the learner.
type LearnerConfig struct {
	MaturityTurns      int     `json:"maturity_turns"`       // turns observed before active maturity
	AssociationDecay   float64 `json:"association_decay"`    // 0.995 per learn cycle
	AssociationEpsilon float64 `json:"association_epsilon"`  // prune below this
	InjectedUsedScore  float64 `json:"injected_used_score"`
	DiscoveryScore     float64 `json:"discovery_score"`
	InjectedUnusedPenalty float64 `json:"injected_unused_penalty"`
	CoactivationBump     float64 `json:"coactivation_bump"`
	CoactivationDecay    float64 `json:"coactivation_decay"`
	CoactivationEpsilon  float64 `json:"coactivation_epsilon"`
	JaccardThreshold     float64 `json:"jaccard_threshold"`
	JaccardWindowTurns   int     `json:"jaccard_window_turns"`
	RhythmAlpha          float64 `json:"rhythm_alpha"`
	WarmStartTopK        int     `json:"warm_start_top_k"`
}

// PredictorConfig holds tuning parameters owned by the predictor.
type PredictorConfig struct {
	StrongKeywordIDF    float64 `json:"strong_keyword_idf"`    // T = 3.0
	MarkovThreshold     float64 `json:"markov_threshold"`      // 0.3
	BasenameConfidence  float64 `json:"basename_confidence"`   // 0.9
	KeywordConfidence   float64 `json:"keyword_confidence"`    // 0.7
	FallbackRecencyWeight   float64 `json:"fallback_recency_weight"`
	FallbackCooccurWeight   float64 `json:"fallback_cooccur_weight"`
	FallbackPopularityWeight float64 `json:"fallback_popularity_weight"`
	FallbackConfidenceCap   float64 `json:"fallback_confidence_cap"` // 0.4
}

// PluginsConfig lists which built-in plugins are enabled, in registration order.
type PluginsConfig struct {
	Enabled          []string `json:"enabled"`
	LoopBreaker      LoopBreakerConfig `json:"loop_breaker"`
	VerifyFirst      VerifyFirstConfig `json:"verify_first"`
	BurnRate         BurnRateConfig    `json:"burn_rate"`
}

type LoopBreakerConfig struct {
	BufferSize          int     `json:"buffer_size"`           // 12
	SimilarityThreshold float64 `json:"similarity_threshold"`  // 0.7
	MinMatches          int     `json:"min_matches"`           // 3
}

type VerifyFirstConfig struct{}

type BurnRateConfig struct {
	WindowMinutes       int     `json:"window_minutes"`        // 15
	WarnAtMinutes       []int   `json:"warn_at_minutes"`       // [30, 10]
}

// Config is the top-level, validated router configuration.
type Config struct {
	Decay      DecayConfig     `json:"decay"`
	Thresholds ThresholdConfig `json:"thresholds"`
	Caps       CapConfig       `json:"caps"`
	Weights    WeightConfig    `json:"weights"`
	Deadlines  DeadlineConfig  `json:"deadlines"`
	Learner    LearnerConfig   `json:"learner"`
	Predictor  PredictorConfig `json:"predictor"`
	Plugins    PluginsConfig   `json:"plugins"`
	Logging    LoggingConfig   `json:"logging"`

	Keywords []KeywordEntry `json:"-"` // loaded separately from keywords.json
	Pinned   []string       `json:"pinned"`
	Demoted  []string       `json:"demoted"`

	MaxConcurrentFileReads int `json:"max_concurrent_file_reads"` // bounded parallelism for Hot-tier reads
}

// DefaultConfig returns the built-in defaults, matching the documented values.
func DefaultConfig() *Config {
	return &Config{
		Decay: DecayConfig{
			Code:     0.85,
			Prose:    0.70,
			Markdown: 0.75,
			Mixed:    0.80,
			Epsilon:  0.01,
		},
		Thresholds: ThresholdConfig{
			Hot:  0.8,
			Warm: 0.25,
		},
		Caps: CapConfig{
			MaxHot:           3,
			MaxWarm:          5,
			MaxContextChars:  20000,
			PerFileCharCap:   8000,
			WarmOutlineLines: 20,
		},
		Weights: WeightConfig{
			LearnedBoost:           0.35,
			CoactivationDepth1:     0.35,
			CoactivationDepth2:     0.15,
			DemotedPenalty:         0.5,
			PredictorBoost:         0.20,
			PredictorMaxCandidates: 5,
			PinnedFloorMargin:      0.01,
		},
		Deadlines: DeadlineConfig{
			Turn:         45 * time.Millisecond,
			Coactivation: 8 * time.Millisecond,
			Predictor:    5 * time.Millisecond,
		},
		Learner: LearnerConfig{
			MaturityTurns:         25,
			AssociationDecay:      0.995,
			AssociationEpsilon:    0.005,
			InjectedUsedScore:     1.0,
			DiscoveryScore:        1.0,
			InjectedUnusedPenalty: -0.2,
			CoactivationBump:      0.1,
			CoactivationDecay:     0.995,
			CoactivationEpsilon:   0.01,
			JaccardThreshold:      0.25,
			JaccardWindowTurns:    30,
			RhythmAlpha:           0.3,
			WarmStartTopK:         5,
		},
		Predictor: PredictorConfig{
			StrongKeywordIDF:         3.0,
			MarkovThreshold:          0.3,
			BasenameConfidence:       0.9,
			KeywordConfidence:        0.7,
			FallbackRecencyWeight:    0.5,
			FallbackCooccurWeight:    0.3,
			FallbackPopularityWeight: 0.2,
			FallbackConfidenceCap:    0.4,
		},
		Plugins: PluginsConfig{
			Enabled: []string{"loop_breaker", "verify_first", "burn_rate"},
			LoopBreaker: LoopBreakerConfig{
				BufferSize:          12,
				SimilarityThreshold: 0.7,
				MinMatches:          3,
			},
			BurnRate: BurnRateConfig{
				WindowMinutes: 15,
				WarnAtMinutes: []int{30, 10},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Pinned:                 []string{},
		Demoted:                []string{},
		MaxConcurrentFileReads: 8,
	}
}

// Load reads configuration from a JSON file, falling back to defaults when
// the file does not exist. Unknown keys are ignored with a warning in the
// config log; missing keys retain their documented defaults since Load
// unmarshals onto an already-defaulted Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(DefaultConfig()); err != nil {
		logging.Get(logging.CategoryConfig).Warn("config %s: %v (ignored)", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies the documented TOOL_* environment overrides that
// are config-shaped rather than path-shaped. TOOL_HOME and TOOL_CONFIG are
// resolved by the paths package; TOOL_DISABLE is read directly by the hook
// entrypoint.
func (c *Config) applyEnvOverrides() {
	if lvl := os.Getenv("TOOL_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate checks structural invariants that, if violated, would make the
// router's arithmetic meaningless.
func (c *Config) Validate() error {
	if c.Thresholds.Hot <= c.Thresholds.Warm {
		return fmt.Errorf("hot threshold (%.2f) must exceed warm threshold (%.2f)", c.Thresholds.Hot, c.Thresholds.Warm)
	}
	if c.Caps.MaxHot <= 0 || c.Caps.MaxWarm <= 0 {
		return fmt.Errorf("max_hot and max_warm must be positive")
	}
	if c.Caps.MaxContextChars <= 0 {
		return fmt.Errorf("max_context_chars must be positive")
	}
	if c.Decay.Epsilon <= 0 {
		return fmt.Errorf("decay epsilon must be positive")
	}
	if c.MaxConcurrentFileReads <= 0 {
		c.MaxConcurrentFileReads = 8
	}
	return nil
}

// IsPinned reports whether id is in the pinned list.
func (c *Config) IsPinned(id string) bool {
	for _, p := range c.Pinned {
		if p == id {
			return true
		}
	}
	return false
}

// IsDemoted reports whether id is in the demoted list.
func (c *Config) IsDemoted(id string) bool {
	for _, d := range c.Demoted {
		if d == id {
			return true
		}
	}
	return false
}

// IsPluginEnabled reports whether name appears in the plugin enable list.
func (c *Config) IsPluginEnabled(name string) bool {
	for _, p := range c.Plugins.Enabled {
		if p == name {
			return true
		}
	}
	return false
}
