package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/luan/attentive/internal/logging"
)

// KeywordEntry binds a token pattern to one or more target files. Entries
// are loaded once at session start and are immutable for the session.
type KeywordEntry struct {
	Pattern string   `json:"pattern"`
	Aliases []string `json:"aliases,omitempty"` // alternate spellings matched like Pattern
	Targets []string `json:"targets"`
	Category Category `json:"category"`
	Weight  float64  `json:"weight"`
}

// LoadKeywords reads keywords.json. Malformed entries are logged and
// skipped; the rest of the file still loads, per the error-handling policy
// for config entries.
func LoadKeywords(path string) ([]KeywordEntry, error) {
	log := logging.Get(logging.CategoryConfig)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keywords: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}

	entries := make([]KeywordEntry, 0, len(raw))
	for i, r := range raw {
		var e KeywordEntry
		if err := json.Unmarshal(r, &e); err != nil {
			log.Warn("skipping malformed keyword entry %d: %v", i, err)
			continue
		}
		if e.Pattern == "" || len(e.Targets) == 0 {
			log.Warn("skipping keyword entry %d: empty pattern or targets", i)
			continue
		}
		if e.Weight == 0 {
			e.Weight = 1.0
		}
		if e.Category == "" {
			e.Category = CategoryMixed
		}
		entries = append(entries, e)
	}
	return entries, nil
}
