package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions []*audit.AuditSession
	listErr  error
}

func (s *stubSessionRepo) Create(dbctx.Context, *audit.AuditSession) error { return nil }

func (s *stubSessionRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*audit.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (s *stubSessionRepo) ListMeta(dbctx.Context) ([]audit.SessionMeta, error) { return nil, nil }

func (s *stubSessionRepo) ListByStatuses(_ dbctx.Context, statuses []audit.SessionStatus) ([]*audit.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*audit.AuditSession
	for _, sess := range s.sessions {
		for _, st := range statuses {
			if sess.Status == st {
				out = append(out, sess)
				break
			}
		}
	}
	return out, nil
}

func (s *stubSessionRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}

func (s *stubSessionRepo) Touch(dbctx.Context, uuid.UUID) error  { return nil }
func (s *stubSessionRepo) Delete(dbctx.Context, uuid.UUID) error { return nil }

type recordingInvoker struct {
	mu      sync.Mutex
	invokes []uuid.UUID
	resumes []bool
	err     error
	// block, when set, holds Invoke until closed.
	block   chan struct{}
	started chan struct{}
}

func (r *recordingInvoker) Invoke(ctx context.Context, sessionID uuid.UUID, resume bool) error {
	r.mu.Lock()
	r.invokes = append(r.invokes, sessionID)
	r.resumes = append(r.resumes, resume)
	started := r.started
	block := r.block
	err := r.err
	r.mu.Unlock()
	if started != nil {
		close(started)
		r.mu.Lock()
		r.started = nil
		r.mu.Unlock()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *recordingInvoker) Cancel(ctx context.Context, sessionID uuid.UUID) error { return nil }

func (r *recordingInvoker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invokes)
}

func newTestMonitor(t *testing.T, repo *stubSessionRepo, inv RunInvoker) *StalenessMonitor {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	cfg := &config.Config{}
	cfg.Staleness.PollInterval = time.Minute
	cfg.Staleness.StaleAfter = 70 * time.Second
	cfg.Staleness.ResumeThrottle = 30 * time.Second
	return NewStalenessMonitor(log, cfg, repo, inv)
}

func staleSession(status audit.SessionStatus, quietFor time.Duration, base time.Time) *audit.AuditSession {
	return &audit.AuditSession{
		ID:        uuid.New(),
		Name:      "run",
		Status:    status,
		UpdatedAt: base.Add(-quietFor),
	}
}

func TestStalenessResumesQuietSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := staleSession(audit.StatusRunning, 2*time.Minute, base)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{session}}
	inv := &recordingInvoker{}
	m := newTestMonitor(t, repo, inv)
	m.now = func() time.Time { return base }

	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("invoke count = %d, want 1", inv.count())
	}
	if inv.invokes[0] != session.ID {
		t.Fatalf("resumed wrong session: %s", inv.invokes[0])
	}
	if !inv.resumes[0] {
		t.Fatalf("expected resume=true invoke")
	}
}

func TestStalenessSkipsFreshSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{
		staleSession(audit.StatusRunning, 10*time.Second, base),
	}}
	inv := &recordingInvoker{}
	m := newTestMonitor(t, repo, inv)
	m.now = func() time.Time { return base }

	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if inv.count() != 0 {
		t.Fatalf("fresh session resumed: %d invokes", inv.count())
	}
}

func TestStalenessRespectsManualStop(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := staleSession(audit.StatusRunning, time.Hour, base)
	session.ManualStop = true
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{session}}
	inv := &recordingInvoker{}
	m := newTestMonitor(t, repo, inv)
	m.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if err := m.CheckOnce(context.Background()); err != nil {
			t.Fatalf("CheckOnce: %v", err)
		}
	}
	if inv.count() != 0 {
		t.Fatalf("manually stopped session resumed: %d invokes", inv.count())
	}
}

func TestStalenessThrottlesRepeatAttempts(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := staleSession(audit.StatusRunning, time.Hour, base)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{session}}
	inv := &recordingInvoker{}
	m := newTestMonitor(t, repo, inv)

	now := base
	m.now = func() time.Time { return now }

	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("first sweep invokes = %d, want 1", inv.count())
	}

	// Inside the throttle window nothing fires, even though it is still stale.
	now = base.Add(10 * time.Second)
	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("throttled sweep invoked again: %d", inv.count())
	}

	// Past the window the attempt repeats.
	now = base.Add(31 * time.Second)
	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if inv.count() != 2 {
		t.Fatalf("post-throttle invokes = %d, want 2", inv.count())
	}
}

func TestStalenessSkipsInFlightSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := staleSession(audit.StatusRunning, time.Hour, base)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{session}}
	inv := &recordingInvoker{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	m := newTestMonitor(t, repo, inv)

	now := base
	var nowMu sync.Mutex
	m.now = func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.CheckOnce(context.Background())
	}()
	<-inv.started

	// Second sweep lands outside the throttle window while the first invoke is
	// still in flight; it must not stack a second attempt.
	nowMu.Lock()
	now = base.Add(time.Minute)
	nowMu.Unlock()
	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("overlapping sweep: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("overlapping sweep invoked again: %d", inv.count())
	}

	close(inv.block)
	<-done
}

func TestStalenessTreatsTransportTimeoutAsLive(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := staleSession(audit.StatusRunning, time.Hour, base)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{session}}
	inv := &recordingInvoker{
		err: pkgerrors.E(pkgerrors.KindTransportTimeout, "signal timed out", context.DeadlineExceeded),
	}
	m := newTestMonitor(t, repo, inv)
	m.now = func() time.Time { return base }

	// The sweep itself must not surface the timeout as a failure.
	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("invoke count = %d, want 1", inv.count())
	}

	// The attempt was made and recorded, so the throttle still applies.
	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("timed-out attempt not throttled: %d invokes", inv.count())
	}
}

func TestStalenessWatchesAllActiveStatuses(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubSessionRepo{sessions: []*audit.AuditSession{
		staleSession(audit.StatusRunning, time.Hour, base),
		staleSession(audit.StatusAgentsActive, time.Hour, base),
		staleSession(audit.StatusPaused, time.Hour, base),
		staleSession(audit.StatusCompleted, time.Hour, base),
	}}
	inv := &recordingInvoker{}
	m := newTestMonitor(t, repo, inv)
	m.now = func() time.Time { return base }

	if err := m.CheckOnce(context.Background()); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	// Paused and completed sessions are not the executor's to drive.
	if inv.count() != 2 {
		t.Fatalf("invoke count = %d, want 2", inv.count())
	}
}
