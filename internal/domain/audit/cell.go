package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Criticality string

const (
	CriticalityHigh   Criticality = "high"
	CriticalityMedium Criticality = "medium"
	CriticalityLow    Criticality = "low"
)

// TesseractCell is the scored alignment record for one discovered concept.
// Polarity convention: positive leans D1, negative leans D2, values in
// [-0.15, 0.15] read as balanced coverage in summaries. The cell id is always
// freshly minted; element ids are never reused as cell identity.
type TesseractCell struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	ConceptLabel       string         `gorm:"column:concept_label;not null" json:"conceptLabel"`
	ConceptDescription string         `gorm:"column:concept_description;type:text" json:"conceptDescription,omitempty"`
	Polarity           float64        `gorm:"column:polarity;not null" json:"polarity"`
	Rationale          string         `gorm:"column:rationale;type:text" json:"rationale,omitempty"`
	D1ElementIDs       datatypes.JSON `gorm:"column:d1_element_ids;type:jsonb" json:"d1ElementIds"`
	D2ElementIDs       datatypes.JSON `gorm:"column:d2_element_ids;type:jsonb" json:"d2ElementIds"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (TesseractCell) TableName() string { return "tesseract_cell" }

// Criticality is derived from polarity on every read; it is never stored, so
// it cannot drift from the stored polarity.
func (c *TesseractCell) Criticality() Criticality {
	switch {
	case c.Polarity > 0.5:
		return CriticalityHigh
	case c.Polarity > 0:
		return CriticalityMedium
	default:
		return CriticalityLow
	}
}

// VennRecord is the persisted classification result for a session. Mode is
// "venn" (dual dataset) or "fitgap" (single dataset); the partition columns
// hold JSON arrays of cell ids.
type VennRecord struct {
	SessionID  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"session_id"`
	Mode       string         `gorm:"column:mode;not null" json:"mode"`
	UniqueToD1 datatypes.JSON `gorm:"column:unique_to_d1;type:jsonb" json:"uniqueToD1,omitempty"`
	Aligned    datatypes.JSON `gorm:"column:aligned;type:jsonb" json:"aligned,omitempty"`
	UniqueToD2 datatypes.JSON `gorm:"column:unique_to_d2;type:jsonb" json:"uniqueToD2,omitempty"`
	Fit        datatypes.JSON `gorm:"column:fit;type:jsonb" json:"fit,omitempty"`
	Gap        datatypes.JSON `gorm:"column:gap;type:jsonb" json:"gap,omitempty"`
	Summary    string         `gorm:"column:summary;type:text" json:"summary"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (VennRecord) TableName() string { return "venn_record" }
