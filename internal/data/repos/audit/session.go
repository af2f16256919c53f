package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, session *audit.AuditSession) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*audit.AuditSession, error)
	// ListMeta returns session metadata only, never the owned collections.
	ListMeta(dbc dbctx.Context) ([]audit.SessionMeta, error)
	ListByStatuses(dbc dbctx.Context, statuses []audit.SessionStatus) ([]*audit.AuditSession, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Touch(dbc dbctx.Context, id uuid.UUID) error
	// Delete removes the session and cascades to every owned collection.
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *sessionRepo) Create(dbc dbctx.Context, session *audit.AuditSession) error {
	if session == nil {
		return pkgerrors.ErrInvalidArgument
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = audit.StatusPending
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	return r.tx(dbc).WithContext(dbc.Ctx).Create(session).Error
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*audit.AuditSession, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	var session audit.AuditSession
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListMeta(dbc dbctx.Context) ([]audit.SessionMeta, error) {
	var out []audit.SessionMeta
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&audit.AuditSession{}).
		Select("id", "name", "status", "current_iteration", "max_iterations", "phase", "created_at", "updated_at").
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) ListByStatuses(dbc dbctx.Context, statuses []audit.SessionStatus) ([]*audit.AuditSession, error) {
	var out []*audit.AuditSession
	if len(statuses) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("status IN ?", statuses).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return pkgerrors.ErrInvalidArgument
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&audit.AuditSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *sessionRepo) Touch(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{})
}

func (r *sessionRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.ErrInvalidArgument
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		for _, model := range []interface{}{
			&audit.GraphEdge{},
			&audit.ConceptNode{},
			&audit.TesseractCell{},
			&audit.VennRecord{},
			&audit.PipelineStep{},
		} {
			if err := txx.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return txx.Unscoped().Where("id = ?", id).Delete(&audit.AuditSession{}).Error
	})
}
