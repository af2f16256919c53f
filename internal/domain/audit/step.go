package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type StepStatus string

const (
	StepQueued    StepStatus = "queued"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PipelineStep is one append-only entry of the session activity log. Seq is
// assigned by the engine in creation order; the persisted sequence is the
// authoritative record and replays identically after a process reload.
type PipelineStep struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Seq       int            `gorm:"column:seq;not null;index" json:"seq"`
	Phase     string         `gorm:"column:phase;not null;index" json:"phase"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Status    StepStatus     `gorm:"column:status;not null" json:"status"`
	Progress  float64        `gorm:"column:progress;not null" json:"progress"`
	Details   datatypes.JSON `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"timestamp"`
}

func (PipelineStep) TableName() string { return "pipeline_step" }
