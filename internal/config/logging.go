package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `json:"level,omitempty"`      // debug, info, warn, error
	Format     string          `json:"format,omitempty"`     // json, text
	DebugMode  bool            `json:"debug_mode,omitempty"` // master toggle - false = no logging (production)
	JSONFormat bool            `json:"json_format,omitempty"`
	Categories map[string]bool `json:"categories,omitempty"` // per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}
