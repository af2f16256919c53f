package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// SavePayload is everything one save call transfers to the durable store.
type SavePayload struct {
	Nodes        []*audit.ConceptNode
	Edges        []*audit.GraphEdge
	Cells        []*audit.TesseractCell
	Venn         *audit.VennRecord
	ActivityLog  []*audit.PipelineStep
	MarkComplete bool
}

// SavedData is the durable view loaded back for export/replay.
type SavedData struct {
	Session *audit.AuditSession
	Nodes   []*audit.ConceptNode
	Edges   []*audit.GraphEdge
	Cells   []*audit.TesseractCell
	Venn    *audit.VennRecord
	Steps   []*audit.PipelineStep
}

type AuditDataRepo interface {
	// SaveAuditData persists the full result set in one atomic transaction.
	// Idempotent under retry: prior rows for the session are replaced, so a
	// repeated identical call converges to the same stored state.
	SaveAuditData(dbc dbctx.Context, sessionID uuid.UUID, payload SavePayload) error
	LoadAuditData(dbc dbctx.Context, sessionID uuid.UUID) (*SavedData, error)
	// ListSteps returns the persisted activity log in creation order. The
	// persisted sequence, not engine memory, is authoritative once saved.
	ListSteps(dbc dbctx.Context, sessionID uuid.UUID) ([]*audit.PipelineStep, error)
}

type auditDataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditDataRepo(db *gorm.DB, baseLog *logger.Logger) AuditDataRepo {
	return &auditDataRepo{
		db:  db,
		log: baseLog.With("repo", "AuditDataRepo"),
	}
}

func (r *auditDataRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *auditDataRepo) SaveAuditData(dbc dbctx.Context, sessionID uuid.UUID, payload SavePayload) error {
	if sessionID == uuid.Nil {
		return pkgerrors.ErrInvalidArgument
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		for _, model := range []interface{}{
			&audit.GraphEdge{},
			&audit.ConceptNode{},
			&audit.TesseractCell{},
			&audit.VennRecord{},
			&audit.PipelineStep{},
		} {
			if err := txx.Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
				return err
			}
		}
		if len(payload.Nodes) > 0 {
			if err := txx.Create(payload.Nodes).Error; err != nil {
				return err
			}
		}
		if len(payload.Edges) > 0 {
			if err := txx.Create(payload.Edges).Error; err != nil {
				return err
			}
		}
		if len(payload.Cells) > 0 {
			if err := txx.Create(payload.Cells).Error; err != nil {
				return err
			}
		}
		if payload.Venn != nil {
			payload.Venn.SessionID = sessionID
			if err := txx.Create(payload.Venn).Error; err != nil {
				return err
			}
		}
		if len(payload.ActivityLog) > 0 {
			if err := txx.Create(payload.ActivityLog).Error; err != nil {
				return err
			}
		}
		if payload.MarkComplete {
			// Completion never overrides a user hold or stop that landed
			// while the result was being written.
			now := time.Now().UTC()
			if err := txx.Model(&audit.AuditSession{}).
				Where("id = ? AND status NOT IN ?", sessionID,
					[]audit.SessionStatus{audit.StatusPaused, audit.StatusStopped}).
				Updates(map[string]interface{}{
					"status":       audit.StatusCompleted,
					"completed_at": now,
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkgerrors.E(pkgerrors.KindPersistenceFailure, "save audit data", err)
	}
	return nil
}

func (r *auditDataRepo) LoadAuditData(dbc dbctx.Context, sessionID uuid.UUID) (*SavedData, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	tx := r.tx(dbc).WithContext(dbc.Ctx)

	var session audit.AuditSession
	if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}

	out := &SavedData{Session: &session}
	if err := tx.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out.Nodes).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("session_id = ?", sessionID).Order("id ASC").Find(&out.Edges).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out.Cells).Error; err != nil {
		return nil, err
	}
	var venn audit.VennRecord
	err := tx.Where("session_id = ?", sessionID).First(&venn).Error
	switch {
	case err == nil:
		out.Venn = &venn
	case err == gorm.ErrRecordNotFound:
	default:
		return nil, err
	}
	steps, err := r.ListSteps(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	out.Steps = steps
	return out, nil
}

func (r *auditDataRepo) ListSteps(dbc dbctx.Context, sessionID uuid.UUID) ([]*audit.PipelineStep, error) {
	var out []*audit.PipelineStep
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
