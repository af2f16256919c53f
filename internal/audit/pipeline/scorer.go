package pipeline

import (
	"context"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
)

// ConceptFinding is one candidate concept returned by the alignment scorer
// for a batch of elements.
type ConceptFinding struct {
	ConceptLabel       string   `json:"conceptLabel"`
	ConceptDescription string   `json:"conceptDescription"`
	Polarity           float64  `json:"polarity"`
	Rationale          string   `json:"rationale"`
	D1ElementIDs       []string `json:"d1ElementIds"`
	D2ElementIDs       []string `json:"d2ElementIds"`
}

// ScoreConfig is the slice of RunConfig the scorer collaborator sees.
type ScoreConfig struct {
	ConsolidationLevel string `json:"consolidation_level,omitempty"`
	MappingMode        string `json:"mapping_mode,omitempty"`
}

// Scorer is the external alignment-scoring capability. A failed or timed-out
// call is a phase failure; the engine never retries it. Retry/backoff is the
// scorer service's own policy.
type Scorer interface {
	Score(ctx context.Context, d1Batch, d2Batch []audit.DatasetElement, cfg ScoreConfig) ([]ConceptFinding, error)
}
