package auditrun

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	auditrepos "github.com/auditlens/auditlens-backend/internal/data/repos/audit"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	Sessions auditrepos.SessionRepo
	Audits   *services.AuditService
}

// Tick probes the run once: touches the session heartbeat while the engine is
// live and reports the current status back to the supervisor.
func (a *Activities) Tick(ctx context.Context, sessionID string) (TickResult, error) {
	res := TickResult{SessionID: strings.TrimSpace(sessionID)}
	if a == nil || a.Sessions == nil || a.Audits == nil {
		return res, fmt.Errorf("auditrun: activity not configured")
	}
	id, err := uuid.Parse(res.SessionID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("auditrun: invalid session_id")
	}

	live, err := a.Audits.Heartbeat(ctx, id)
	if err != nil && a.Log != nil {
		a.Log.Warn("supervision heartbeat failed", "session_id", id, "error", err)
	}
	res.EngineLive = live

	session, err := a.Sessions.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		if err == pkgerrors.ErrNotFound {
			// Session deleted out from under the supervisor; stop quietly.
			res.Status = "stopped"
			return res, nil
		}
		return res, err
	}
	res.Status = string(session.Status)
	res.Phase = session.Phase
	return res, nil
}

// Resume forwards a resume request to the run manager.
func (a *Activities) Resume(ctx context.Context, sessionID string) error {
	if a == nil || a.Audits == nil {
		return fmt.Errorf("auditrun: activity not configured")
	}
	id, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil || id == uuid.Nil {
		return fmt.Errorf("auditrun: invalid session_id")
	}
	return a.Audits.ResumeRun(ctx, id)
}
