package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	auditrepos "github.com/auditlens/auditlens-backend/internal/data/repos/audit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// SessionService owns the session lifecycle. Every status write funnels
// through transition, so audit.CanTransition is the single gate for the
// whole process.
type SessionService struct {
	log         *logger.Logger
	db          *gorm.DB
	sessionRepo auditrepos.SessionRepo
	auditSvc    *AuditService
	notifier    AuditNotifier
	invoker     RunInvoker
}

func NewSessionService(
	log *logger.Logger,
	db *gorm.DB,
	sessionRepo auditrepos.SessionRepo,
	auditSvc *AuditService,
	notifier AuditNotifier,
) *SessionService {
	return &SessionService{
		log:         log.With("service", "SessionService"),
		db:          db,
		sessionRepo: sessionRepo,
		auditSvc:    auditSvc,
		notifier:    notifier,
	}
}

func (s *SessionService) SetInvoker(inv RunInvoker) { s.invoker = inv }

func (s *SessionService) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

type CreateSessionRequest struct {
	Name          string `json:"name"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	Dataset1Type  string `json:"dataset_1_type,omitempty"`
	Dataset2Type  string `json:"dataset_2_type,omitempty"`
}

func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*audit.AuditSession, error) {
	if req.Name == "" {
		return nil, pkgerrors.E(pkgerrors.KindInput, "session name is required", nil)
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	session := &audit.AuditSession{
		ID:            uuid.New(),
		Name:          req.Name,
		Status:        audit.StatusPending,
		MaxIterations: maxIter,
		Dataset1Type:  req.Dataset1Type,
		Dataset2Type:  req.Dataset2Type,
	}
	if err := s.sessionRepo.Create(s.dbc(ctx), session); err != nil {
		return nil, pkgerrors.E(pkgerrors.KindPersistenceFailure, "create session", err)
	}
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (*audit.AuditSession, error) {
	return s.sessionRepo.GetByID(s.dbc(ctx), id)
}

// List returns session metadata only. The owned collections are loaded
// per-session through export, never in listings.
func (s *SessionService) List(ctx context.Context) ([]audit.SessionMeta, error) {
	return s.sessionRepo.ListMeta(s.dbc(ctx))
}

// Delete removes the session and everything it owns. An active run is aborted
// first.
func (s *SessionService) Delete(ctx context.Context, id uuid.UUID) error {
	if s.auditSvc.Running(id) {
		if err := s.auditSvc.Abort(ctx, id); err != nil {
			s.log.Warn("abort before delete failed", "session_id", id, "error", err)
		}
	}
	s.auditSvc.dropUnsaved(id)
	return s.sessionRepo.Delete(s.dbc(ctx), id)
}

// transition applies one gated status change and returns the updated session.
func (s *SessionService) transition(ctx context.Context, id uuid.UUID, to audit.SessionStatus, extra map[string]interface{}) (*audit.AuditSession, error) {
	session, err := s.sessionRepo.GetByID(s.dbc(ctx), id)
	if err != nil {
		return nil, err
	}
	if !audit.CanTransition(session.Status, to) {
		return nil, pkgerrors.E(pkgerrors.KindInput,
			"invalid transition "+string(session.Status)+" -> "+string(to), nil)
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.sessionRepo.UpdateFields(s.dbc(ctx), id, updates); err != nil {
		return nil, pkgerrors.E(pkgerrors.KindPersistenceFailure, "update session status", err)
	}
	updated, err := s.sessionRepo.GetByID(s.dbc(ctx), id)
	if err != nil {
		return nil, err
	}
	s.notifier.SessionStatusChanged(updated)
	return updated, nil
}

// Pause moves an active session to paused and asks a live engine to hold at
// its next phase boundary, so the DB status and the run converge.
func (s *SessionService) Pause(ctx context.Context, id uuid.UUID) (*audit.AuditSession, error) {
	session, err := s.transition(ctx, id, audit.StatusPaused, nil)
	if err != nil {
		return nil, err
	}
	s.auditSvc.PauseRun(id)
	return session, nil
}

// Resume moves a paused session back to running and wakes whatever is
// waiting: a paused in-process engine directly, or the supervised run through
// the executor's resume signal.
func (s *SessionService) Resume(ctx context.Context, id uuid.UUID) (*audit.AuditSession, error) {
	session, err := s.transition(ctx, id, audit.StatusRunning, map[string]interface{}{
		"manual_stop": false,
	})
	if err != nil {
		return nil, err
	}
	if s.auditSvc.Running(id) {
		s.auditSvc.ResumeEngine(id)
	} else if s.invoker != nil {
		if err := s.invoker.Invoke(ctx, id, true); err != nil {
			s.log.Warn("resume signal failed", "session_id", id, "error", err)
		}
	}
	return session, nil
}

// Stop is the user's terminal halt. It records the manual stop so automated
// recovery never restarts a session the user deliberately ended.
func (s *SessionService) Stop(ctx context.Context, id uuid.UUID) (*audit.AuditSession, error) {
	session, err := s.transition(ctx, id, audit.StatusStopped, map[string]interface{}{
		"manual_stop": true,
	})
	if err != nil {
		return nil, err
	}
	if s.auditSvc.Running(id) {
		if err := s.auditSvc.Abort(ctx, id); err != nil {
			s.log.Warn("abort on stop failed", "session_id", id, "error", err)
		}
	} else if s.invoker != nil {
		if err := s.invoker.Cancel(ctx, id); err != nil {
			s.log.Warn("cancel supervision on stop failed", "session_id", id, "error", err)
		}
	}
	return session, nil
}
