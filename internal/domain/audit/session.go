package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	StatusPending                SessionStatus = "pending"
	StatusRunning                SessionStatus = "running"
	StatusPaused                 SessionStatus = "paused"
	StatusAgentsActive           SessionStatus = "agents_active"
	StatusAnalyzingShape         SessionStatus = "analyzing_shape"
	StatusCompleted              SessionStatus = "completed"
	StatusCompletedMaxIterations SessionStatus = "completed_max_iterations"
	StatusStopped                SessionStatus = "stopped"
	StatusFailed                 SessionStatus = "failed"
)

// ActiveStatuses are the statuses a server-side executor may be driving.
// The staleness monitor only watches sessions in one of these.
var ActiveStatuses = []SessionStatus{StatusRunning, StatusAgentsActive, StatusAnalyzingShape}

func (s SessionStatus) Active() bool {
	switch s {
	case StatusRunning, StatusAgentsActive, StatusAnalyzingShape:
		return true
	default:
		return false
	}
}

func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedMaxIterations, StatusStopped, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition is the single gate for session status changes. All writes to
// AuditSession.Status go through services that consult this table.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusRunning:
		return from == StatusPending || from == StatusPaused ||
			from == StatusAgentsActive || from == StatusAnalyzingShape
	case StatusAgentsActive, StatusAnalyzingShape:
		return from == StatusRunning || from.Active()
	case StatusPaused:
		// Only from an active state, and only by explicit user action.
		return from.Active()
	case StatusStopped:
		return from == StatusPending || from.Active() || from == StatusPaused
	case StatusCompleted, StatusCompletedMaxIterations, StatusFailed:
		return from.Active()
	default:
		return false
	}
}

// AuditSession is the aggregate root for one dataset comparison. It owns the
// node/edge/cell/venn/step collections for its id by reference; deleting a
// session cascades to all of them.
type AuditSession struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Status           SessionStatus  `gorm:"column:status;not null;index" json:"status"`
	ManualStop       bool           `gorm:"column:manual_stop;not null;default:false" json:"manual_stop"`
	CurrentIteration int            `gorm:"column:current_iteration;not null;default:0" json:"current_iteration"`
	MaxIterations    int            `gorm:"column:max_iterations;not null;default:1" json:"max_iterations"`
	Phase            string         `gorm:"column:phase" json:"phase,omitempty"`
	ConsensusReached bool           `gorm:"column:consensus_reached;not null;default:false" json:"consensus_reached"`
	Dataset1Type     string         `gorm:"column:dataset_1_type" json:"dataset_1_type,omitempty"`
	Dataset2Type     string         `gorm:"column:dataset_2_type" json:"dataset_2_type,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AuditSession) TableName() string { return "audit_session" }

// SessionMeta is the lightweight listing shape: metadata only, none of the
// owned collections.
type SessionMeta struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	Status           SessionStatus `json:"status"`
	CurrentIteration int           `json:"current_iteration"`
	MaxIterations    int           `json:"max_iterations"`
	Phase            string        `json:"phase,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
