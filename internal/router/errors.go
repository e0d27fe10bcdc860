package router

import "errors"

// Sentinel errors so callers can errors.Is without string matching.
var (
	// ErrDeadlineExceeded marks a phase that returned partial results after
	// exhausting its soft budget.
	ErrDeadlineExceeded = errors.New("phase deadline exceeded")

	// ErrPluginPanic marks a plugin that raised and was disabled.
	ErrPluginPanic = errors.New("plugin panicked")
)
