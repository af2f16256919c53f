package pipeline

import "strings"

// RunConfig carries the caller-tunable knobs for one pipeline run.
type RunConfig struct {
	// ConsolidationLevel: "none", "light" (default) or "aggressive".
	ConsolidationLevel string `json:"consolidation_level,omitempty"`
	// ChunkSize is how many D1 elements go into one scorer call.
	ChunkSize int `json:"chunk_size,omitempty"`
	// BatchSize bounds how many scorer calls run concurrently.
	BatchSize int `json:"batch_size,omitempty"`
	// MappingMode: "strict" keeps only findings whose element ids all resolve,
	// "fuzzy" (default) drops unresolvable ids and keeps the finding.
	MappingMode string `json:"mapping_mode,omitempty"`

	EnhancedSortEnabled bool     `json:"enhanced_sort_enabled,omitempty"`
	EnhancedSortActions []string `json:"enhanced_sort_actions,omitempty"`

	// StepMode pauses the engine after every completed phase until
	// ContinueToNextStep is called.
	StepMode bool `json:"step_mode,omitempty"`
}

func (c RunConfig) withDefaults() RunConfig {
	if strings.TrimSpace(c.ConsolidationLevel) == "" {
		c.ConsolidationLevel = "light"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 25
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if strings.TrimSpace(c.MappingMode) == "" {
		c.MappingMode = "fuzzy"
	}
	return c
}
