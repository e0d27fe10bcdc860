package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RouterOverrides is the optional, partial document loaded from
// router_overrides.json. Every field is a pointer so that "absent" and
// "explicitly zero" are distinguishable; absent fields leave the base
// Config's documented default untouched.
type RouterOverrides struct {
	Thresholds *ThresholdConfig `json:"thresholds,omitempty"`
	Decay      *DecayConfig     `json:"decay,omitempty"`
	Caps       *CapConfig       `json:"caps,omitempty"`
	Pinned     []string         `json:"pinned,omitempty"`
	Demoted    []string         `json:"demoted,omitempty"`
}

// LoadOverrides reads router_overrides.json. A missing file is not an
// error: overrides are optional.
func LoadOverrides(path string) (*RouterOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var o RouterOverrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	return &o, nil
}

// Apply merges non-nil override fields onto cfg in place.
func (o *RouterOverrides) Apply(cfg *Config) {
	if o == nil {
		return
	}
	if o.Thresholds != nil {
		cfg.Thresholds = *o.Thresholds
	}
	if o.Decay != nil {
		cfg.Decay = *o.Decay
	}
	if o.Caps != nil {
		cfg.Caps = *o.Caps
	}
	if o.Pinned != nil {
		cfg.Pinned = o.Pinned
	}
	if o.Demoted != nil {
		cfg.Demoted = o.Demoted
	}
}
