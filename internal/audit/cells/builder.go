package cells

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/audit/graphkit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
)

// Evidence is the per-concept aggregate handed to the builder: scorer output
// merged across batches by the graph-assembly phase.
type Evidence struct {
	ConceptLabel       string
	ConceptDescription string
	Polarity           float64
	Rationale          string
	D1ElementIDs       []string
	D2ElementIDs       []string
}

// Build produces one TesseractCell per evidence entry. Every cell id is a
// fresh UUID; element ids are never borrowed as cell identity. Polarity is
// clamped to [-1, 1].
func Build(sessionID uuid.UUID, evidence []Evidence) []*audit.TesseractCell {
	out := make([]*audit.TesseractCell, 0, len(evidence))
	for _, ev := range evidence {
		label := strings.TrimSpace(ev.ConceptLabel)
		if label == "" {
			continue
		}
		out = append(out, &audit.TesseractCell{
			ID:                 uuid.New(),
			SessionID:          sessionID,
			ConceptLabel:       label,
			ConceptDescription: strings.TrimSpace(ev.ConceptDescription),
			Polarity:           clamp(ev.Polarity),
			Rationale:          strings.TrimSpace(ev.Rationale),
			D1ElementIDs:       graphkit.EncodeElementIDs(dedupe(ev.D1ElementIDs)),
			D2ElementIDs:       graphkit.EncodeElementIDs(dedupe(ev.D2ElementIDs)),
		})
	}
	return out
}

func clamp(p float64) float64 {
	if p > 1 {
		return 1
	}
	if p < -1 {
		return -1
	}
	return p
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Lean describes which dataset a cell's polarity points at, for rationale and
// summary text.
func Lean(polarity float64) string {
	switch {
	case polarity > 0.15:
		return "leans dataset 1"
	case polarity < -0.15:
		return "leans dataset 2"
	default:
		return "balanced"
	}
}

// Describe renders a one-line human summary of a cell.
func Describe(c *audit.TesseractCell) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s, criticality %s)", c.ConceptLabel, Lean(c.Polarity), c.Criticality())
}
