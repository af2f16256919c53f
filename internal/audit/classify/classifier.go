package classify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/audit/graphkit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
)

// VennResult is the three-way partition over a result's cells. It is a
// derived, recomputable view: the summary is regenerable from the partitions
// alone and holds no independent truth.
type VennResult struct {
	UniqueToD1 []uuid.UUID `json:"uniqueToD1"`
	Aligned    []uuid.UUID `json:"aligned"`
	UniqueToD2 []uuid.UUID `json:"uniqueToD2"`
	Summary    string      `json:"summary"`
}

// FitGapResult is the two-way analogue used in single-dataset mode. A cell is
// a fit when its polarity is non-negative, a gap otherwise.
type FitGapResult struct {
	Fit     []uuid.UUID `json:"fit"`
	Gap     []uuid.UUID `json:"gap"`
	Summary string      `json:"summary"`
}

// Venn partitions cells into uniqueToD1 / aligned / uniqueToD2. The partition
// is exhaustive and disjoint: every cell lands in exactly one bucket.
func Venn(cells []*audit.TesseractCell) *VennResult {
	res := &VennResult{
		UniqueToD1: []uuid.UUID{},
		Aligned:    []uuid.UUID{},
		UniqueToD2: []uuid.UUID{},
	}
	for _, c := range cells {
		if c == nil {
			continue
		}
		d1 := graphkit.DecodeElementIDs(c.D1ElementIDs)
		d2 := graphkit.DecodeElementIDs(c.D2ElementIDs)
		switch {
		case len(d2) == 0 && len(d1) > 0:
			res.UniqueToD1 = append(res.UniqueToD1, c.ID)
		case len(d1) == 0 && len(d2) > 0:
			res.UniqueToD2 = append(res.UniqueToD2, c.ID)
		default:
			res.Aligned = append(res.Aligned, c.ID)
		}
	}
	res.Summary = fmt.Sprintf("%d concepts unique to dataset 1, %d aligned, %d unique to dataset 2",
		len(res.UniqueToD1), len(res.Aligned), len(res.UniqueToD2))
	return res
}

// FitGap partitions cells for single-dataset mode.
func FitGap(cells []*audit.TesseractCell) *FitGapResult {
	res := &FitGapResult{
		Fit: []uuid.UUID{},
		Gap: []uuid.UUID{},
	}
	for _, c := range cells {
		if c == nil {
			continue
		}
		if c.Polarity >= 0 {
			res.Fit = append(res.Fit, c.ID)
		} else {
			res.Gap = append(res.Gap, c.ID)
		}
	}
	res.Summary = fmt.Sprintf("%d fits, %d gaps", len(res.Fit), len(res.Gap))
	return res
}
