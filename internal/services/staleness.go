package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	auditrepos "github.com/auditlens/auditlens-backend/internal/data/repos/audit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// StalenessMonitor watches active sessions and nudges quiet ones back to
// life. A session is stale when it holds an active status but its updated_at
// has not moved for longer than the stale window. Resume attempts are
// throttled per session, at most one in flight, and a manually stopped
// session is never resumed.
type StalenessMonitor struct {
	log         *logger.Logger
	sessionRepo auditrepos.SessionRepo
	invoker     RunInvoker

	pollInterval   time.Duration
	staleAfter     time.Duration
	resumeThrottle time.Duration

	// now is swappable for tests.
	now func() time.Time

	mu          sync.Mutex
	lastAttempt map[uuid.UUID]time.Time
	inFlight    map[uuid.UUID]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewStalenessMonitor(
	log *logger.Logger,
	cfg *config.Config,
	sessionRepo auditrepos.SessionRepo,
	invoker RunInvoker,
) *StalenessMonitor {
	return &StalenessMonitor{
		log:            log.With("service", "StalenessMonitor"),
		sessionRepo:    sessionRepo,
		invoker:        invoker,
		pollInterval:   cfg.Staleness.PollInterval,
		staleAfter:     cfg.Staleness.StaleAfter,
		resumeThrottle: cfg.Staleness.ResumeThrottle,
		now:            func() time.Time { return time.Now().UTC() },
		lastAttempt:    make(map[uuid.UUID]time.Time),
		inFlight:       make(map[uuid.UUID]bool),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or the context ends.
func (m *StalenessMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.CheckOnce(ctx); err != nil {
					m.log.Warn("staleness sweep failed", "error", err)
				}
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *StalenessMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// CheckOnce performs one sweep over the active sessions.
func (m *StalenessMonitor) CheckOnce(ctx context.Context) error {
	sessions, err := m.sessionRepo.ListByStatuses(dbctx.Context{Ctx: ctx}, audit.ActiveStatuses)
	if err != nil {
		return err
	}
	now := m.now()
	for _, session := range sessions {
		if session == nil {
			continue
		}
		m.consider(ctx, session, now)
	}
	return nil
}

func (m *StalenessMonitor) consider(ctx context.Context, session *audit.AuditSession, now time.Time) {
	if session.ManualStop {
		return
	}
	if now.Sub(session.UpdatedAt) <= m.staleAfter {
		return
	}

	m.mu.Lock()
	if m.inFlight[session.ID] {
		m.mu.Unlock()
		return
	}
	if last, ok := m.lastAttempt[session.ID]; ok && now.Sub(last) < m.resumeThrottle {
		m.mu.Unlock()
		return
	}
	m.lastAttempt[session.ID] = now
	m.inFlight[session.ID] = true
	m.mu.Unlock()

	m.log.Info("stale session detected, attempting resume",
		"session_id", session.ID,
		"status", session.Status,
		"quiet_for", now.Sub(session.UpdatedAt).String(),
	)
	err := m.invoker.Invoke(ctx, session.ID, true)
	m.mu.Lock()
	delete(m.inFlight, session.ID)
	m.mu.Unlock()

	if err == nil {
		return
	}
	// A transport-level timeout means the executor may still be working; the
	// next sweep re-evaluates from updated_at rather than treating this as a
	// dead run.
	if pkgerrors.KindOf(err) == pkgerrors.KindTransportTimeout {
		m.log.Debug("resume signal timed out in transit; treating run as live",
			"session_id", session.ID, "error", err)
		return
	}
	m.log.Warn("resume attempt failed", "session_id", session.ID, "error", err)
}
