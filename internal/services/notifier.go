package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/sse"
)

// AuditNotifier is the side channel pipelines use to surface progress to
// connected clients. Best-effort: publish failures are logged, never fatal.
type AuditNotifier interface {
	StepAppended(sessionID uuid.UUID, step *audit.PipelineStep)
	SessionStatusChanged(session *audit.AuditSession)
	RunCompleted(sessionID uuid.UUID)
	RunFailed(sessionID uuid.UUID, reason string)
}

type auditNotifier struct {
	log *logger.Logger
	bus SSEBus
}

func NewAuditNotifier(log *logger.Logger, bus SSEBus) AuditNotifier {
	return &auditNotifier{
		log: log.With("service", "AuditNotifier"),
		bus: bus,
	}
}

func (n *auditNotifier) publish(channel string, event sse.SSEEvent, data any) {
	if n.bus == nil {
		return
	}
	err := n.bus.Publish(context.Background(), sse.SSEMessage{
		Channel: channel,
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("SSE publish failed", "event", event, "error", err)
	}
}

func (n *auditNotifier) StepAppended(sessionID uuid.UUID, step *audit.PipelineStep) {
	n.publish(sse.SessionChannel(sessionID), sse.SSEEventStepAppended, step)
}

func (n *auditNotifier) SessionStatusChanged(session *audit.AuditSession) {
	if session == nil {
		return
	}
	n.publish(sse.SessionChannel(session.ID), sse.SSEEventSessionStatusChanged, session)
}

func (n *auditNotifier) RunCompleted(sessionID uuid.UUID) {
	n.publish(sse.SessionChannel(sessionID), sse.SSEEventRunCompleted, map[string]any{
		"session_id": sessionID,
	})
}

func (n *auditNotifier) RunFailed(sessionID uuid.UUID, reason string) {
	n.publish(sse.SessionChannel(sessionID), sse.SSEEventRunFailed, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	})
}
