package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/auditlens/auditlens-backend/internal/audit/cells"
	"github.com/auditlens/auditlens-backend/internal/audit/pipeline"
	"github.com/auditlens/auditlens-backend/internal/data/graph"
	auditrepos "github.com/auditlens/auditlens-backend/internal/data/repos/audit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/extract"
	"github.com/auditlens/auditlens-backend/internal/pkg/dbctx"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/platform/neo4jdb"
)

// RunInvoker hands run supervision to the durable executor. Both methods are
// best-effort from the service's point of view: a nil invoker disables
// supervision without changing run semantics.
type RunInvoker interface {
	Invoke(ctx context.Context, sessionID uuid.UUID, resume bool) error
	Cancel(ctx context.Context, sessionID uuid.UUID) error
}

// StartRunRequest is the full input for one pipeline run. Dataset payloads are
// raw source records; the extractor normalizes them before the engine sees
// anything.
type StartRunRequest struct {
	Dataset1 json.RawMessage    `json:"dataset1"`
	Dataset2 json.RawMessage    `json:"dataset2,omitempty"`
	Config   pipeline.RunConfig `json:"config"`
}

// ExportCell decorates a stored cell with its derived criticality so exports
// stay self-contained.
type ExportCell struct {
	*audit.TesseractCell
	Criticality audit.Criticality `json:"criticality"`
	Lean        string            `json:"lean"`
}

// ExportDocument is the self-contained view of one session: everything a
// reader needs without further lookups.
type ExportDocument struct {
	Session     *audit.AuditSession    `json:"session"`
	Nodes       []*audit.ConceptNode   `json:"nodes"`
	Edges       []*audit.GraphEdge     `json:"edges"`
	Cells       []ExportCell           `json:"tesseractCells"`
	Venn        *audit.VennRecord      `json:"vennResult,omitempty"`
	ActivityLog []*audit.PipelineStep  `json:"activityLog"`
	ExportedAt  time.Time              `json:"exported_at"`
}

type activeRun struct {
	engine      *pipeline.Engine
	cancel      context.CancelFunc
	unsubscribe func()
}

// unsavedResult keeps a run's in-memory output after the engine is gone:
// either a finished result whose persist failed (complete) or the partial
// state retained after an abort or phase failure (not complete). Save writes
// it without re-running the pipeline.
type unsavedResult struct {
	result   *pipeline.Result
	steps    []*audit.PipelineStep
	complete bool
}

// AuditService owns pipeline runs. At most one run per session is live at a
// time; a second start while one is active is a conflict, never a queue.
type AuditService struct {
	log         *logger.Logger
	db          *gorm.DB
	sessionRepo auditrepos.SessionRepo
	dataRepo    auditrepos.AuditDataRepo
	neo4j       *neo4jdb.Client
	scorer      pipeline.Scorer
	notifier    AuditNotifier
	invoker     RunInvoker

	runs syncMap

	unsavedMu sync.Mutex
	unsaved   map[uuid.UUID]*unsavedResult
}

// syncMap is a minimal typed guard around the per-session run registry.
type syncMap struct {
	mu sync.Mutex
	m  map[uuid.UUID]*activeRun
}

func NewAuditService(
	log *logger.Logger,
	db *gorm.DB,
	sessionRepo auditrepos.SessionRepo,
	dataRepo auditrepos.AuditDataRepo,
	neo4jClient *neo4jdb.Client,
	scorer pipeline.Scorer,
	notifier AuditNotifier,
) *AuditService {
	return &AuditService{
		log:         log.With("service", "AuditService"),
		db:          db,
		sessionRepo: sessionRepo,
		dataRepo:    dataRepo,
		neo4j:       neo4jClient,
		scorer:      scorer,
		notifier:    notifier,
		runs:        syncMap{m: make(map[uuid.UUID]*activeRun)},
		unsaved:     make(map[uuid.UUID]*unsavedResult),
	}
}

// SetInvoker wires the durable executor after construction. The executor
// depends on this service for its activities, so the cycle resolves here.
func (s *AuditService) SetInvoker(inv RunInvoker) { s.invoker = inv }

func (s *AuditService) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

func (s *AuditService) run(sessionID uuid.UUID) *activeRun {
	s.runs.mu.Lock()
	defer s.runs.mu.Unlock()
	return s.runs.m[sessionID]
}

func (s *AuditService) register(sessionID uuid.UUID, r *activeRun) error {
	s.runs.mu.Lock()
	defer s.runs.mu.Unlock()
	if _, exists := s.runs.m[sessionID]; exists {
		return pkgerrors.E(pkgerrors.KindConcurrentRun, "a run is already active for this session", nil)
	}
	s.runs.m[sessionID] = r
	return nil
}

func (s *AuditService) unregister(sessionID uuid.UUID) {
	s.runs.mu.Lock()
	r := s.runs.m[sessionID]
	delete(s.runs.m, sessionID)
	s.runs.mu.Unlock()
	if r != nil {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		if r.cancel != nil {
			r.cancel()
		}
	}
}

// StartRun validates the request, moves the session to running and launches
// the engine. The call returns once the run is launched; progress flows
// through the step log and SSE.
func (s *AuditService) StartRun(ctx context.Context, sessionID uuid.UUID, req StartRunRequest) error {
	session, err := s.sessionRepo.GetByID(s.dbc(ctx), sessionID)
	if err != nil {
		return err
	}
	if s.run(sessionID) != nil {
		return pkgerrors.E(pkgerrors.KindConcurrentRun, "a run is already active for this session", nil)
	}
	if !audit.CanTransition(session.Status, audit.StatusRunning) {
		return pkgerrors.E(pkgerrors.KindInput, "session in status "+string(session.Status)+" cannot start a run", nil)
	}

	d1, err := s.decodeDataset(req.Dataset1, "dataset1")
	if err != nil {
		return err
	}
	d2, err := s.decodeDataset(req.Dataset2, "dataset2")
	if err != nil {
		return err
	}
	if len(d1) == 0 {
		return pkgerrors.E(pkgerrors.KindInput, "dataset1 must contain at least one record", nil)
	}

	engine := pipeline.New(s.log, s.scorer, sessionID, d1, d2, req.Config)
	runCtx, cancel := context.WithCancel(context.Background())
	steps, unsub := engine.Subscribe()
	run := &activeRun{engine: engine, cancel: cancel, unsubscribe: unsub}
	if err := s.register(sessionID, run); err != nil {
		cancel()
		unsub()
		return err
	}
	// A new run owns the session's working copy; any earlier unsaved result
	// is superseded.
	s.dropUnsaved(sessionID)

	updates := map[string]interface{}{
		"status":      audit.StatusRunning,
		"manual_stop": false,
		"phase":       "",
	}
	if err := s.sessionRepo.UpdateFields(s.dbc(ctx), sessionID, updates); err != nil {
		s.unregister(sessionID)
		return pkgerrors.E(pkgerrors.KindPersistenceFailure, "mark session running", err)
	}
	session.Status = audit.StatusRunning
	session.ManualStop = false
	s.notifier.SessionStatusChanged(session)

	go s.forwardSteps(runCtx, sessionID, steps)
	go s.runEngine(runCtx, sessionID, engine)

	if s.invoker != nil {
		if err := s.invoker.Invoke(ctx, sessionID, false); err != nil {
			s.log.Warn("run supervision not started", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

func (s *AuditService) decodeDataset(raw json.RawMessage, name string) ([]audit.DatasetElement, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	records, err := extract.DecodeRecords(raw)
	if err != nil {
		return nil, pkgerrors.E(pkgerrors.KindInput, "decode "+name, err)
	}
	elements, err := extract.Extract(records)
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// forwardSteps streams live step entries to SSE and keeps the session's
// updated_at moving so the staleness monitor sees a heartbeat.
func (s *AuditService) forwardSteps(ctx context.Context, sessionID uuid.UUID, steps <-chan *audit.PipelineStep) {
	for {
		select {
		case step, ok := <-steps:
			if !ok {
				return
			}
			s.notifier.StepAppended(sessionID, step)
			updates := map[string]interface{}{"phase": step.Phase}
			if err := s.sessionRepo.UpdateFields(s.dbc(ctx), sessionID, updates); err != nil {
				s.log.Warn("session heartbeat failed", "session_id", sessionID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *AuditService) runEngine(ctx context.Context, sessionID uuid.UUID, engine *pipeline.Engine) {
	defer s.unregisterKeepResult(sessionID)
	result, err := engine.Run(ctx)
	s.finishRun(sessionID, result, err)
}

// unregisterKeepResult drops the run from the registry. Results stay readable
// through the store; the engine itself is done.
func (s *AuditService) unregisterKeepResult(sessionID uuid.UUID) {
	s.unregister(sessionID)
}

func (s *AuditService) stashUnsaved(sessionID uuid.UUID, result *pipeline.Result, steps []*audit.PipelineStep, complete bool) {
	s.unsavedMu.Lock()
	s.unsaved[sessionID] = &unsavedResult{result: result, steps: steps, complete: complete}
	s.unsavedMu.Unlock()
}

// stashPartial captures whatever the engine built before it stopped so the
// caller can inspect or explicitly save it afterwards.
func (s *AuditService) stashPartial(sessionID uuid.UUID) {
	run := s.run(sessionID)
	if run == nil {
		return
	}
	snap := run.engine.Snapshot()
	if len(snap.Nodes) == 0 && len(snap.Edges) == 0 && len(snap.Cells) == 0 {
		return
	}
	partial := &pipeline.Result{
		SessionID: sessionID,
		Nodes:     snap.Nodes,
		Edges:     snap.Edges,
		Cells:     snap.Cells,
	}
	s.stashUnsaved(sessionID, partial, run.engine.Steps(), false)
}

func (s *AuditService) takeUnsaved(sessionID uuid.UUID) *unsavedResult {
	s.unsavedMu.Lock()
	defer s.unsavedMu.Unlock()
	return s.unsaved[sessionID]
}

func (s *AuditService) dropUnsaved(sessionID uuid.UUID) {
	s.unsavedMu.Lock()
	delete(s.unsaved, sessionID)
	s.unsavedMu.Unlock()
}

func (s *AuditService) finishRun(sessionID uuid.UUID, result *pipeline.Result, runErr error) {
	ctx, cancelTO := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTO()

	switch {
	case runErr == nil:
		var steps []*audit.PipelineStep
		if run := s.run(sessionID); run != nil {
			steps = run.engine.Steps()
		}
		if err := s.persistResult(ctx, sessionID, result, steps, true); err != nil {
			// Keep the result so an explicit save can retry the write.
			s.stashUnsaved(sessionID, result, steps, true)
			s.log.Error("persist run result failed, result retained for retry",
				"session_id", sessionID, "error", err)
			s.failSession(ctx, sessionID, err.Error())
			s.notifier.RunFailed(sessionID, err.Error())
			return
		}
		s.dropUnsaved(sessionID)
		s.notifier.RunCompleted(sessionID)
		s.notifyStatus(ctx, sessionID)
	case errors.Is(runErr, pipeline.ErrAborted), errors.Is(runErr, context.Canceled):
		s.stashPartial(sessionID)
		if err := s.sessionRepo.UpdateFields(s.dbc(ctx), sessionID, map[string]interface{}{
			"status": audit.StatusStopped,
		}); err != nil {
			s.log.Warn("mark session stopped failed", "session_id", sessionID, "error", err)
		}
		s.notifyStatus(ctx, sessionID)
	default:
		s.stashPartial(sessionID)
		s.log.Error("pipeline run failed", "session_id", sessionID, "kind", pkgerrors.KindOf(runErr), "error", runErr)
		s.failSession(ctx, sessionID, runErr.Error())
		s.notifier.RunFailed(sessionID, runErr.Error())
	}
}

func (s *AuditService) failSession(ctx context.Context, sessionID uuid.UUID, reason string) {
	if err := s.sessionRepo.UpdateFields(s.dbc(ctx), sessionID, map[string]interface{}{
		"status": audit.StatusFailed,
	}); err != nil {
		s.log.Warn("mark session failed failed", "session_id", sessionID, "reason", reason, "error", err)
	}
	s.notifyStatus(ctx, sessionID)
}

func (s *AuditService) notifyStatus(ctx context.Context, sessionID uuid.UUID) {
	session, err := s.sessionRepo.GetByID(s.dbc(ctx), sessionID)
	if err != nil {
		return
	}
	s.notifier.SessionStatusChanged(session)
}

// persistResult writes the full run output atomically and mirrors the graph
// into neo4j when available.
func (s *AuditService) persistResult(ctx context.Context, sessionID uuid.UUID, result *pipeline.Result, steps []*audit.PipelineStep, markComplete bool) error {
	if result == nil {
		return pkgerrors.E(pkgerrors.KindPersistenceFailure, "nothing to persist: run produced no result", nil)
	}
	payload := auditrepos.SavePayload{
		Nodes:        result.Nodes,
		Edges:        result.Edges,
		Cells:        result.Cells,
		Venn:         buildVennRecord(result),
		ActivityLog:  steps,
		MarkComplete: markComplete,
	}
	if err := s.dataRepo.SaveAuditData(s.dbc(ctx), sessionID, payload); err != nil {
		return err
	}
	if err := graph.UpsertAuditGraph(ctx, s.neo4j, s.log, sessionID, result.Nodes, result.Edges); err != nil {
		s.log.Warn("neo4j graph sync failed", "session_id", sessionID, "error", err)
	}
	return nil
}

func buildVennRecord(result *pipeline.Result) *audit.VennRecord {
	if result == nil {
		return nil
	}
	rec := &audit.VennRecord{
		SessionID: result.SessionID,
		Mode:      result.Mode,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case result.Venn != nil:
		rec.UniqueToD1 = idsJSON(result.Venn.UniqueToD1)
		rec.Aligned = idsJSON(result.Venn.Aligned)
		rec.UniqueToD2 = idsJSON(result.Venn.UniqueToD2)
		rec.Summary = result.Venn.Summary
	case result.FitGap != nil:
		rec.Fit = idsJSON(result.FitGap.Fit)
		rec.Gap = idsJSON(result.FitGap.Gap)
		rec.Summary = result.FitGap.Summary
	default:
		return nil
	}
	return rec
}

func idsJSON(ids []uuid.UUID) datatypes.JSON {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Save persists the current run state on demand. For a finished run this is a
// retry-safe no-op beyond what completion already wrote; after a failed
// persist it retries from the retained result without re-running anything.
func (s *AuditService) Save(ctx context.Context, sessionID uuid.UUID) error {
	run := s.run(sessionID)
	if run == nil {
		if u := s.takeUnsaved(sessionID); u != nil {
			if err := s.persistResult(ctx, sessionID, u.result, u.steps, u.complete); err != nil {
				return err
			}
			s.dropUnsaved(sessionID)
			if u.complete {
				s.notifier.RunCompleted(sessionID)
				s.notifyStatus(ctx, sessionID)
			}
			return nil
		}
		return pkgerrors.E(pkgerrors.KindInput, "no active run to save for this session", nil)
	}
	if result := run.engine.Result(); result != nil {
		return s.persistResult(ctx, sessionID, result, run.engine.Steps(), true)
	}
	snap := run.engine.Snapshot()
	payload := auditrepos.SavePayload{
		Nodes:       snap.Nodes,
		Edges:       snap.Edges,
		Cells:       snap.Cells,
		ActivityLog: run.engine.Steps(),
	}
	return s.dataRepo.SaveAuditData(s.dbc(ctx), sessionID, payload)
}

// Clear removes the session's stored collections while keeping the session
// row itself. Implemented as an empty atomic save, so it is idempotent.
func (s *AuditService) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.sessionRepo.GetByID(s.dbc(ctx), sessionID); err != nil {
		return err
	}
	if s.run(sessionID) != nil {
		return pkgerrors.E(pkgerrors.KindConcurrentRun, "cannot clear while a run is active", nil)
	}
	s.dropUnsaved(sessionID)
	return s.dataRepo.SaveAuditData(s.dbc(ctx), sessionID, auditrepos.SavePayload{})
}

// Export builds a self-contained document, field for field what persistence
// writes. It prefers the durable store; when the store holds nothing but an
// unsaved in-memory result exists, the document is built from that instead.
// Criticality and lean are derived at export time, never read from storage.
func (s *AuditService) Export(ctx context.Context, sessionID uuid.UUID) (*ExportDocument, error) {
	data, err := s.dataRepo.LoadAuditData(s.dbc(ctx), sessionID)
	if err != nil {
		return nil, err
	}
	doc := &ExportDocument{
		Session:     data.Session,
		Nodes:       data.Nodes,
		Edges:       data.Edges,
		Venn:        data.Venn,
		ActivityLog: data.Steps,
		ExportedAt:  time.Now().UTC(),
	}
	cellRows := data.Cells
	if len(data.Nodes) == 0 && len(data.Cells) == 0 {
		if u := s.takeUnsaved(sessionID); u != nil {
			doc.Nodes = u.result.Nodes
			doc.Edges = u.result.Edges
			doc.Venn = buildVennRecord(u.result)
			doc.ActivityLog = u.steps
			cellRows = u.result.Cells
		}
	}
	doc.Cells = make([]ExportCell, 0, len(cellRows))
	for _, c := range cellRows {
		doc.Cells = append(doc.Cells, ExportCell{
			TesseractCell: c,
			Criticality:   c.Criticality(),
			Lean:          cells.Lean(c.Polarity),
		})
	}
	return doc, nil
}

// Steps returns the session's ordered activity log: the live engine log while
// a run is active, the persisted log otherwise.
func (s *AuditService) Steps(ctx context.Context, sessionID uuid.UUID) ([]*audit.PipelineStep, error) {
	if run := s.run(sessionID); run != nil {
		return run.engine.Steps(), nil
	}
	return s.dataRepo.ListSteps(s.dbc(ctx), sessionID)
}

// Progress reports the live engine progress, or a zero Progress when no run
// is active.
func (s *AuditService) Progress(sessionID uuid.UUID) (pipeline.Progress, bool) {
	run := s.run(sessionID)
	if run == nil {
		return pipeline.Progress{}, false
	}
	return run.engine.Progress(), true
}

// Snapshot exposes the live partial state for step-mode inspection.
func (s *AuditService) Snapshot(sessionID uuid.UUID) (pipeline.Snapshot, error) {
	run := s.run(sessionID)
	if run == nil {
		return pipeline.Snapshot{}, pkgerrors.E(pkgerrors.KindInput, "no active run for this session", nil)
	}
	return run.engine.Snapshot(), nil
}

// ContinueToNextStep releases a step-mode pause.
func (s *AuditService) ContinueToNextStep(sessionID uuid.UUID) error {
	run := s.run(sessionID)
	if run == nil {
		return pkgerrors.E(pkgerrors.KindInput, "no active run for this session", nil)
	}
	return run.engine.ContinueToNextStep()
}

// RestartStep redirects a run paused between steps to re-execute from the
// named phase on its retained state. The redirected run keeps its step log
// and still reports completion through the original run goroutine.
func (s *AuditService) RestartStep(ctx context.Context, sessionID uuid.UUID, phaseID string) error {
	run := s.run(sessionID)
	if run == nil {
		return pkgerrors.E(pkgerrors.KindInput, "no active run for this session", nil)
	}
	return run.engine.RestartFromPause(phaseID)
}

// PauseRun asks a live engine to hold at the next phase boundary. No-op when
// no run is active.
func (s *AuditService) PauseRun(sessionID uuid.UUID) {
	if run := s.run(sessionID); run != nil {
		run.engine.Pause()
	}
}

// ResumeEngine clears a pause on a live engine, whether it is already holding
// at a boundary or the request is still pending. No-op when no run is active.
func (s *AuditService) ResumeEngine(sessionID uuid.UUID) {
	if run := s.run(sessionID); run != nil {
		run.engine.Resume()
	}
}

// Abort requests a cooperative stop of the active run. The engine stops at
// the next phase boundary; nothing partial is persisted.
func (s *AuditService) Abort(ctx context.Context, sessionID uuid.UUID) error {
	run := s.run(sessionID)
	if run == nil {
		return pkgerrors.E(pkgerrors.KindInput, "no active run for this session", nil)
	}
	// A paused engine observes the abort signal at its hold point; no wake
	// is needed.
	run.engine.Abort()
	if s.invoker != nil {
		if err := s.invoker.Cancel(ctx, sessionID); err != nil {
			s.log.Warn("cancel run supervision failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Running reports whether a run is currently active for the session.
func (s *AuditService) Running(sessionID uuid.UUID) bool {
	return s.run(sessionID) != nil
}

// Heartbeat is the executor's liveness probe. It touches updated_at while a
// run is active and reports whether the engine is still live.
func (s *AuditService) Heartbeat(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	run := s.run(sessionID)
	if run == nil {
		return false, nil
	}
	if err := s.sessionRepo.Touch(s.dbc(ctx), sessionID); err != nil {
		return true, err
	}
	return true, nil
}

// ResumeRun is the recovery hook invoked when a supervised run goes quiet. A
// paused engine is released; a dead engine cannot be reconstructed from
// memory, so the session is marked failed instead of lying about liveness.
func (s *AuditService) ResumeRun(ctx context.Context, sessionID uuid.UUID) error {
	run := s.run(sessionID)
	if run != nil {
		if run.engine.PausedAfterStep() != "" {
			return run.engine.ContinueToNextStep()
		}
		return s.sessionRepo.Touch(s.dbc(ctx), sessionID)
	}
	session, err := s.sessionRepo.GetByID(s.dbc(ctx), sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Active() {
		return nil
	}
	s.log.Warn("active session has no live engine; marking failed", "session_id", sessionID)
	s.failSession(ctx, sessionID, "run lost its in-process engine")
	return nil
}
