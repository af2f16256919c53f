package cells

import (
	"testing"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/audit/graphkit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
)

func TestBuildMintsFreshCellIDs(t *testing.T) {
	sessionID := uuid.New()
	evidence := []Evidence{
		{ConceptLabel: "encryption at rest", Polarity: 0.4, D1ElementIDs: []string{"req-1"}},
		{ConceptLabel: "key rotation", Polarity: -0.2, D2ElementIDs: []string{"art-9"}},
	}
	built := Build(sessionID, evidence)
	if len(built) != 2 {
		t.Fatalf("len(built)=%d, want 2", len(built))
	}
	seen := make(map[uuid.UUID]bool)
	for _, c := range built {
		if c.ID == uuid.Nil {
			t.Fatalf("cell %q has nil id", c.ConceptLabel)
		}
		if seen[c.ID] {
			t.Fatalf("cell id %v reused", c.ID)
		}
		seen[c.ID] = true
		if c.SessionID != sessionID {
			t.Fatalf("cell session=%v, want %v", c.SessionID, sessionID)
		}
	}
	// Repeated builds over the same evidence must not converge on the same ids.
	again := Build(sessionID, evidence)
	for _, c := range again {
		if seen[c.ID] {
			t.Fatalf("rebuild reused cell id %v", c.ID)
		}
	}
}

func TestBuildClampsPolarityAndDedupesIDs(t *testing.T) {
	built := Build(uuid.New(), []Evidence{
		{ConceptLabel: "overflow", Polarity: 3.5, D1ElementIDs: []string{"a", "a", " a ", "b"}},
		{ConceptLabel: "underflow", Polarity: -2},
		{ConceptLabel: "   ", Polarity: 1}, // blank label dropped
	})
	if len(built) != 2 {
		t.Fatalf("len(built)=%d, want 2 (blank label must be dropped)", len(built))
	}
	if built[0].Polarity != 1 {
		t.Fatalf("clamped polarity=%v, want 1", built[0].Polarity)
	}
	if built[1].Polarity != -1 {
		t.Fatalf("clamped polarity=%v, want -1", built[1].Polarity)
	}
	ids := graphkit.DecodeElementIDs(built[0].D1ElementIDs)
	if len(ids) != 2 {
		t.Fatalf("d1 ids=%v, want deduped [a b]", ids)
	}
}

func TestCriticalityBuckets(t *testing.T) {
	cases := []struct {
		polarity float64
		want     audit.Criticality
	}{
		{0.9, audit.CriticalityHigh},
		{0.51, audit.CriticalityHigh},
		{0.5, audit.CriticalityMedium},
		{0.01, audit.CriticalityMedium},
		{0, audit.CriticalityLow},
		{-0.7, audit.CriticalityLow},
	}
	for _, tc := range cases {
		c := &audit.TesseractCell{Polarity: tc.polarity}
		if got := c.Criticality(); got != tc.want {
			t.Fatalf("Criticality(%v)=%s, want %s", tc.polarity, got, tc.want)
		}
	}
}

func TestLean(t *testing.T) {
	cases := []struct {
		polarity float64
		want     string
	}{
		{0.5, "leans dataset 1"},
		{0.16, "leans dataset 1"},
		{0.15, "balanced"},
		{0, "balanced"},
		{-0.15, "balanced"},
		{-0.16, "leans dataset 2"},
	}
	for _, tc := range cases {
		if got := Lean(tc.polarity); got != tc.want {
			t.Fatalf("Lean(%v)=%q, want %q", tc.polarity, got, tc.want)
		}
	}
}
