package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/auditlens/auditlens-backend/internal/audit/cells"
	"github.com/auditlens/auditlens-backend/internal/audit/classify"
	"github.com/auditlens/auditlens-backend/internal/audit/graphkit"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// ErrAborted reports a cooperative abort between phases. Work already done
// stays in memory; nothing is persisted unless the caller saves explicitly.
var ErrAborted = errors.New("pipeline run aborted")

// Progress is the engine's snapshot after every phase transition.
type Progress struct {
	Phase    string  `json:"phase"`
	Message  string  `json:"message"`
	Fraction float64 `json:"fraction"`
}

// Result is the complete output of a finished run. It is never partially
// filled: Run either returns a Result with every collection populated or an
// error.
type Result struct {
	SessionID uuid.UUID               `json:"session_id"`
	Mode      string                  `json:"mode"` // "venn" | "fitgap"
	Nodes     []*audit.ConceptNode    `json:"nodes"`
	Edges     []*audit.GraphEdge      `json:"edges"`
	Cells     []*audit.TesseractCell  `json:"tesseractCells"`
	Venn      *classify.VennResult    `json:"vennResult,omitempty"`
	FitGap    *classify.FitGapResult  `json:"fitGapResult,omitempty"`
}

// Snapshot is the partial state visible to the caller while a run is in
// flight. It is published at every phase boundary, so readers always see a
// consistent view as of the last completed phase.
type Snapshot struct {
	Nodes []*audit.ConceptNode   `json:"nodes"`
	Edges []*audit.GraphEdge     `json:"edges"`
	Cells []*audit.TesseractCell `json:"tesseractCells"`
}

// Engine drives the fixed phase sequence for one session. All state mutation
// funnels through the engine; callers observe it through the step log,
// Progress and Snapshot. One run at a time per engine.
type Engine struct {
	log       *logger.Logger
	scorer    Scorer
	sessionID uuid.UUID
	cfg       RunConfig

	mu          sync.Mutex
	running     bool
	seq         int
	steps       []*audit.PipelineStep
	observers   map[int]chan *audit.PipelineStep
	nextObsID   int
	pausedAfter string
	pauseReq    bool
	progress    Progress
	snapshot    Snapshot

	abortOnce  sync.Once
	abortCh    chan struct{}
	continueCh chan struct{}
	restartCh  chan int

	// working state, owned by the run goroutine. Readers never touch it
	// directly; they see the snapshot published at phase boundaries.
	d1, d2        []audit.DatasetElement
	singleDataset bool
	elementNodes  map[audit.DatasetSide]map[string]uuid.UUID
	evidence      []evidenceAccum
	evidenceIdx   map[string]int
	graph         *graphkit.Graph
	builtCells    []*audit.TesseractCell
	venn          *classify.VennResult
	fitgap        *classify.FitGapResult
	result        *Result
}

type evidenceAccum struct {
	label       string
	description string
	rationale   string
	polaritySum float64
	polarityN   int
	d1IDs       []string
	d2IDs       []string
}

func New(log *logger.Logger, scorer Scorer, sessionID uuid.UUID, d1, d2 []audit.DatasetElement, cfg RunConfig) *Engine {
	return &Engine{
		log:        log.With("component", "PipelineEngine", "session_id", sessionID),
		scorer:     scorer,
		sessionID:  sessionID,
		cfg:        cfg.withDefaults(),
		observers:  make(map[int]chan *audit.PipelineStep),
		abortCh:    make(chan struct{}),
		continueCh: make(chan struct{}, 1),
		restartCh:  make(chan int, 1),
		d1:         d1,
		d2:         d2,
	}
}

// Run executes all phases in order. On failure the failing phase's step is
// marked failed, the run halts and the error carries its Kind; prior phases'
// partial results remain available through Snapshot for diagnosis or discard.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	return e.runFrom(ctx, 0)
}

// RestartStep re-executes the pipeline from the given phase on a finished
// engine, using the state retained from the previous run. The step log stays
// append-only: restarted phases append new entries rather than rewriting old
// ones. For an engine paused mid-run, use RestartFromPause instead.
func (e *Engine) RestartStep(ctx context.Context, phaseID string) (*Result, error) {
	idx := PhaseIndex(phaseID)
	if idx < 0 {
		return nil, pkgerrors.E(pkgerrors.KindInput, "unknown phase: "+phaseID, nil)
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	return e.runFrom(ctx, idx)
}

// RestartFromPause redirects a run holding at a phase boundary to re-execute
// from the named phase. The redirected run keeps its state, its step log and
// its original Run caller; the result still flows out of that call.
func (e *Engine) RestartFromPause(phaseID string) error {
	idx := PhaseIndex(phaseID)
	if idx < 0 {
		return pkgerrors.E(pkgerrors.KindInput, "unknown phase: "+phaseID, nil)
	}
	e.mu.Lock()
	paused := e.running && e.pausedAfter != ""
	e.mu.Unlock()
	if !paused {
		return pkgerrors.E(pkgerrors.KindInput, "restart requires the engine to be paused between steps", nil)
	}
	select {
	case e.restartCh <- idx:
		return nil
	default:
		return pkgerrors.E(pkgerrors.KindInput, "a restart is already pending", nil)
	}
}

func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return pkgerrors.E(pkgerrors.KindConcurrentRun, "engine already running", nil)
	}
	e.running = true
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.pausedAfter = ""
	e.pauseReq = false
	e.mu.Unlock()
}

func (e *Engine) runFrom(ctx context.Context, start int) (*Result, error) {
	i := start
	for i < len(phaseOrder) {
		if err := e.checkAbort(ctx); err != nil {
			return nil, err
		}
		phase := phaseOrder[i]
		title := phaseTitles[phase]
		e.appendStep(phase, audit.StepRunning, title, "", fraction(i), nil)

		details, err := e.execPhase(ctx, phase)
		if err != nil {
			e.appendStep(phase, audit.StepFailed, title, err.Error(), fraction(i), details)
			e.setProgress(phase, title+" failed", fraction(i))
			return nil, err
		}
		e.publishSnapshot()
		e.appendStep(phase, audit.StepCompleted, title, "", fraction(i+1), details)
		e.setProgress(phase, title+" completed", fraction(i+1))

		if e.shouldPause() && i < len(phaseOrder)-1 {
			next, err := e.awaitContinue(ctx, phase)
			if err != nil {
				return nil, err
			}
			if next >= 0 {
				i = next
				continue
			}
		}
		i++
	}
	return e.result, nil
}

func (e *Engine) shouldPause() bool {
	if e.cfg.StepMode {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauseReq
}

// publishSnapshot copies the working graph/cell state into the snapshot
// served to concurrent readers. Called only from the run goroutine between
// phases, so the copy never races with phase mutation.
func (e *Engine) publishSnapshot() {
	snap := Snapshot{}
	if e.graph != nil {
		snap.Nodes = e.graph.Nodes()
		snap.Edges = e.graph.Edges()
	}
	snap.Cells = append([]*audit.TesseractCell(nil), e.builtCells...)
	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
}

func fraction(i int) float64 {
	return float64(i) / float64(len(phaseOrder))
}

func (e *Engine) checkAbort(ctx context.Context) error {
	select {
	case <-e.abortCh:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// awaitContinue holds the run at a phase boundary. It returns -1 to continue
// with the next phase, or a phase index to jump to when a restart redirects
// the paused run.
func (e *Engine) awaitContinue(ctx context.Context, phase string) (int, error) {
	e.mu.Lock()
	e.pausedAfter = phase
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.pausedAfter = ""
		e.pauseReq = false
		e.mu.Unlock()
	}()
	// A pending restart wins over a queued continue.
	select {
	case idx := <-e.restartCh:
		return idx, nil
	default:
	}
	select {
	case <-e.continueCh:
		return -1, nil
	case idx := <-e.restartCh:
		return idx, nil
	case <-e.abortCh:
		return -1, ErrAborted
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Abort requests a cooperative stop. Checked between phases, not preemptive
// mid-phase.
func (e *Engine) Abort() {
	e.abortOnce.Do(func() { close(e.abortCh) })
}

// Pause requests a hold at the next phase boundary. The current phase always
// finishes first; PausedAfterStep reports the hold once it is reached. The
// hold is released by ContinueToNextStep, Resume or a restart.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.pauseReq = true
	e.mu.Unlock()
}

// Resume clears any pending pause request and releases the engine if it is
// already holding at a boundary.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.pauseReq = false
	paused := e.pausedAfter != ""
	e.mu.Unlock()
	if paused {
		select {
		case e.continueCh <- struct{}{}:
		default:
		}
	}
}

// ContinueToNextStep releases a step-mode pause. Returns an error when the
// engine is not paused.
func (e *Engine) ContinueToNextStep() error {
	e.mu.Lock()
	paused := e.pausedAfter != ""
	e.mu.Unlock()
	if !paused {
		return fmt.Errorf("engine is not paused")
	}
	select {
	case e.continueCh <- struct{}{}:
		return nil
	default:
		return nil
	}
}

// PausedAfterStep returns the phase the engine paused after, or "".
func (e *Engine) PausedAfterStep() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pausedAfter
}

func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) setProgress(phase, msg string, f float64) {
	e.mu.Lock()
	e.progress = Progress{Phase: phase, Message: msg, Fraction: f}
	e.mu.Unlock()
}

// Steps returns a copy of the ordered step log produced so far.
func (e *Engine) Steps() []*audit.PipelineStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*audit.PipelineStep, len(e.steps))
	copy(out, e.steps)
	return out
}

// Snapshot returns the partial graph/cell state as of the last completed
// phase. Safe to call at any time; it never reads the working state a phase
// may be mutating.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Result returns the finished result, or nil while the run is incomplete.
func (e *Engine) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Subscribe registers a live observer of the step sequence. The returned
// cancel function must be called to release the channel. Slow observers drop
// messages rather than blocking the engine.
func (e *Engine) Subscribe() (<-chan *audit.PipelineStep, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextObsID
	e.nextObsID++
	ch := make(chan *audit.PipelineStep, 64)
	e.observers[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.observers[id]; ok {
			delete(e.observers, id)
			close(c)
		}
	}
}

func (e *Engine) appendStep(phase string, status audit.StepStatus, title, message string, progress float64, details datatypes.JSON) *audit.PipelineStep {
	e.mu.Lock()
	step := &audit.PipelineStep{
		ID:        uuid.New(),
		SessionID: e.sessionID,
		Seq:       e.seq,
		Phase:     phase,
		Title:     title,
		Message:   message,
		Status:    status,
		Progress:  progress,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	e.seq++
	e.steps = append(e.steps, step)
	for _, ch := range e.observers {
		select {
		case ch <- step:
		default:
		}
	}
	e.mu.Unlock()
	return step
}

func (e *Engine) execPhase(ctx context.Context, phase string) (datatypes.JSON, error) {
	switch phase {
	case PhaseExtraction:
		return e.phaseExtraction()
	case PhaseConsolidation:
		return e.phaseConsolidation()
	case PhaseConceptDiscovery:
		return e.phaseConceptDiscovery(ctx)
	case PhaseGraphAssembly:
		return e.phaseGraphAssembly()
	case PhaseTesseractScoring:
		return e.phaseTesseractScoring()
	case PhaseSetClassification:
		return e.phaseSetClassification()
	case PhaseFinalization:
		return e.phaseFinalization()
	default:
		return nil, fmt.Errorf("unknown phase: %s", phase)
	}
}

func (e *Engine) phaseExtraction() (datatypes.JSON, error) {
	if len(e.d1) == 0 {
		return nil, pkgerrors.E(pkgerrors.KindInput, "dataset 1 must not be empty", nil)
	}
	if err := checkUnique(e.d1, "dataset 1"); err != nil {
		return nil, err
	}
	if err := checkUnique(e.d2, "dataset 2"); err != nil {
		return nil, err
	}
	e.singleDataset = len(e.d2) == 0

	e.graph = graphkit.New()
	e.elementNodes = map[audit.DatasetSide]map[string]uuid.UUID{
		audit.SideD1: make(map[string]uuid.UUID, len(e.d1)),
		audit.SideD2: make(map[string]uuid.UUID, len(e.d2)),
	}
	e.addElementNodes(audit.SideD1, e.d1)
	e.addElementNodes(audit.SideD2, e.d2)

	return detailsJSON(map[string]any{
		"d1_elements":    len(e.d1),
		"d2_elements":    len(e.d2),
		"single_dataset": e.singleDataset,
	}), nil
}

func (e *Engine) addElementNodes(side audit.DatasetSide, els []audit.DatasetElement) {
	nodeType := audit.NodeD1Element
	source := audit.SourceD1
	color := "#3f51b5"
	if side == audit.SideD2 {
		nodeType = audit.NodeD2Element
		source = audit.SourceD2
		color = "#cc7a4f"
	}
	nodes := make([]*audit.ConceptNode, 0, len(els))
	for _, el := range els {
		n := &audit.ConceptNode{
			ID:               uuid.New(),
			SessionID:        e.sessionID,
			Label:            el.Label,
			NodeType:         nodeType,
			SourceDataset:    source,
			SourceElementIDs: graphkit.EncodeElementIDs([]string{el.ID}),
			Color:            color,
			Size:             1,
		}
		nodes = append(nodes, n)
		e.elementNodes[side][el.ID] = n.ID
	}
	e.graph.AddNodes(nodes)
}

func checkUnique(els []audit.DatasetElement, side string) error {
	seen := make(map[string]bool, len(els))
	for _, el := range els {
		if el.ID == "" {
			return pkgerrors.E(pkgerrors.KindInput, side+" element with empty id", nil)
		}
		if seen[el.ID] {
			return pkgerrors.E(pkgerrors.KindInput, side+" duplicate element id: "+el.ID, nil)
		}
		seen[el.ID] = true
	}
	return nil
}

func (e *Engine) phaseConsolidation() (datatypes.JSON, error) {
	beforeD1, beforeD2 := len(e.d1), len(e.d2)
	e.d1 = consolidate(e.d1, e.cfg.ConsolidationLevel)
	e.d2 = consolidate(e.d2, e.cfg.ConsolidationLevel)
	if e.cfg.EnhancedSortEnabled {
		for _, action := range e.cfg.EnhancedSortActions {
			e.d1 = applySortAction(e.d1, action)
			e.d2 = applySortAction(e.d2, action)
		}
	}
	if len(e.d1) == 0 {
		return nil, pkgerrors.E(pkgerrors.KindInput, "dataset 1 empty after consolidation", nil)
	}
	return detailsJSON(map[string]any{
		"level":      e.cfg.ConsolidationLevel,
		"d1_dropped": beforeD1 - len(e.d1),
		"d2_dropped": beforeD2 - len(e.d2),
	}), nil
}

func consolidate(els []audit.DatasetElement, level string) []audit.DatasetElement {
	if level == "none" {
		return els
	}
	out := make([]audit.DatasetElement, 0, len(els))
	seenLabel := make(map[string]bool, len(els))
	for _, el := range els {
		el.Label = strings.TrimSpace(el.Label)
		el.Content = strings.TrimSpace(el.Content)
		if el.Label == "" && el.Content == "" {
			continue
		}
		if level == "aggressive" {
			key := strings.Join(strings.Fields(strings.ToLower(el.Label)), " ")
			if key != "" && seenLabel[key] {
				continue
			}
			seenLabel[key] = true
		}
		out = append(out, el)
	}
	return out
}

func applySortAction(els []audit.DatasetElement, action string) []audit.DatasetElement {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "sort_by_label":
		sort.SliceStable(els, func(i, j int) bool { return els[i].Label < els[j].Label })
	case "sort_by_category":
		sort.SliceStable(els, func(i, j int) bool { return els[i].Category < els[j].Category })
	case "reverse":
		for i, j := 0, len(els)-1; i < j; i, j = i+1, j-1 {
			els[i], els[j] = els[j], els[i]
		}
	}
	return els
}

func (e *Engine) phaseConceptDiscovery(ctx context.Context) (datatypes.JSON, error) {
	if e.scorer == nil {
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, "no scorer configured", nil)
	}
	chunks := chunkElements(e.d1, e.cfg.ChunkSize)
	results := make([][]ConceptFinding, len(chunks))
	scoreCfg := ScoreConfig{
		ConsolidationLevel: e.cfg.ConsolidationLevel,
		MappingMode:        e.cfg.MappingMode,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchSize)
	for i, chunk := range chunks {
		g.Go(func() error {
			findings, err := e.scorer.Score(gctx, chunk, e.d2, scoreCfg)
			if err != nil {
				if pkgerrors.KindOf(err) != "" {
					return err
				}
				return pkgerrors.E(pkgerrors.KindScorerFailure, fmt.Sprintf("score batch %d", i), err)
			}
			results[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.evidence = nil
	e.evidenceIdx = make(map[string]int)
	total := 0
	for _, findings := range results {
		total += len(findings)
		for _, f := range findings {
			e.mergeFinding(f)
		}
	}
	return detailsJSON(map[string]any{
		"chunks":   len(chunks),
		"findings": total,
		"concepts": len(e.evidence),
	}), nil
}

func chunkElements(els []audit.DatasetElement, size int) [][]audit.DatasetElement {
	if size <= 0 {
		size = len(els)
	}
	var out [][]audit.DatasetElement
	for start := 0; start < len(els); start += size {
		end := start + size
		if end > len(els) {
			end = len(els)
		}
		out = append(out, els[start:end])
	}
	return out
}

// mergeFinding folds a scorer finding into the per-concept evidence list,
// indexed by normalized label. Element references union; polarity averages
// across contributing findings. Insertion order is preserved.
func (e *Engine) mergeFinding(f ConceptFinding) {
	label := strings.TrimSpace(f.ConceptLabel)
	if label == "" {
		return
	}
	key := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	if i, ok := e.evidenceIdx[key]; ok {
		ev := &e.evidence[i]
		ev.polaritySum += f.Polarity
		ev.polarityN++
		ev.d1IDs = appendUnique(ev.d1IDs, f.D1ElementIDs)
		ev.d2IDs = appendUnique(ev.d2IDs, f.D2ElementIDs)
		if ev.description == "" {
			ev.description = strings.TrimSpace(f.ConceptDescription)
		}
		if ev.rationale == "" {
			ev.rationale = strings.TrimSpace(f.Rationale)
		}
		return
	}
	e.evidenceIdx[key] = len(e.evidence)
	e.evidence = append(e.evidence, evidenceAccum{
		label:       label,
		description: strings.TrimSpace(f.ConceptDescription),
		rationale:   strings.TrimSpace(f.Rationale),
		polaritySum: f.Polarity,
		polarityN:   1,
		d1IDs:       appendUnique(nil, f.D1ElementIDs),
		d2IDs:       appendUnique(nil, f.D2ElementIDs),
	})
}

func appendUnique(dst []string, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
	}
	return dst
}

func (e *Engine) phaseGraphAssembly() (datatypes.JSON, error) {
	strict := strings.EqualFold(e.cfg.MappingMode, "strict")

	// Re-entry rebuilds the concept layer from evidence. Element nodes and
	// their prior pruning stand; without this a restarted pass would stack a
	// second set of subsume edges onto the dedupe-merged concepts.
	var staleConcepts []uuid.UUID
	for _, n := range e.graph.Nodes() {
		if n.NodeType == audit.NodeConcept {
			staleConcepts = append(staleConcepts, n.ID)
		}
	}
	if len(staleConcepts) > 0 {
		e.graph.RemoveNodes(staleConcepts)
	}

	for i := range e.evidence {
		ev := &e.evidence[i]
		var kept1, kept2 []string
		for _, id := range ev.d1IDs {
			if !e.elementInGraph(audit.SideD1, id) {
				if strict {
					return nil, pkgerrors.E(pkgerrors.KindDanglingReference, "finding references unknown d1 element: "+id, nil)
				}
				continue
			}
			kept1 = append(kept1, id)
		}
		for _, id := range ev.d2IDs {
			if !e.elementInGraph(audit.SideD2, id) {
				if strict {
					return nil, pkgerrors.E(pkgerrors.KindDanglingReference, "finding references unknown d2 element: "+id, nil)
				}
				continue
			}
			kept2 = append(kept2, id)
		}
		ev.d1IDs, ev.d2IDs = kept1, kept2
	}

	for _, ev := range e.evidence {
		source := audit.SourceNone
		switch {
		case len(ev.d1IDs) > 0 && len(ev.d2IDs) > 0:
			source = audit.SourceBoth
		case len(ev.d1IDs) > 0:
			source = audit.SourceD1
		case len(ev.d2IDs) > 0:
			source = audit.SourceD2
		}
		concept := &audit.ConceptNode{
			ID:               uuid.New(),
			SessionID:        e.sessionID,
			Label:            ev.label,
			Description:      ev.description,
			NodeType:         audit.NodeConcept,
			SourceDataset:    source,
			SourceElementIDs: graphkit.EncodeElementIDs(append(append([]string{}, ev.d1IDs...), ev.d2IDs...)),
			Color:            "#7c5cbf",
			Size:             float64(1 + len(ev.d1IDs) + len(ev.d2IDs)),
		}
		e.graph.AddNodes([]*audit.ConceptNode{concept})

		conceptID, _ := e.graph.ConceptByLabel(ev.label)
		var edges []*audit.GraphEdge
		for _, id := range ev.d1IDs {
			edges = append(edges, e.subsumeEdge(e.elementNodes[audit.SideD1][id], conceptID))
		}
		for _, id := range ev.d2IDs {
			edges = append(edges, e.subsumeEdge(e.elementNodes[audit.SideD2][id], conceptID))
		}
		if err := e.graph.AddEdges(edges); err != nil {
			return nil, err
		}
	}

	removed := e.graph.PruneOrphans()
	return detailsJSON(map[string]any{
		"nodes":           e.graph.NodeCount(),
		"edges":           e.graph.EdgeCount(),
		"orphans_removed": removed,
	}), nil
}

// elementInGraph reports whether the element id maps to a node that is still
// in the graph. An element pruned as an orphan in an earlier pass counts as
// unknown.
func (e *Engine) elementInGraph(side audit.DatasetSide, id string) bool {
	nodeID, ok := e.elementNodes[side][id]
	if !ok {
		return false
	}
	_, ok = e.graph.Node(nodeID)
	return ok
}

func (e *Engine) subsumeEdge(from, to uuid.UUID) *audit.GraphEdge {
	return &audit.GraphEdge{
		ID:           uuid.New(),
		SessionID:    e.sessionID,
		SourceNodeID: from,
		TargetNodeID: to,
		EdgeType:     "subsumes",
		Weight:       1,
	}
}

func (e *Engine) phaseTesseractScoring() (datatypes.JSON, error) {
	evidence := make([]cells.Evidence, 0, len(e.evidence))
	for _, ev := range e.evidence {
		polarity := 0.0
		if ev.polarityN > 0 {
			polarity = ev.polaritySum / float64(ev.polarityN)
		}
		evidence = append(evidence, cells.Evidence{
			ConceptLabel:       ev.label,
			ConceptDescription: ev.description,
			Polarity:           polarity,
			Rationale:          ev.rationale,
			D1ElementIDs:       ev.d1IDs,
			D2ElementIDs:       ev.d2IDs,
		})
	}
	built := cells.Build(e.sessionID, evidence)
	e.mu.Lock()
	e.builtCells = built
	e.mu.Unlock()
	return detailsJSON(map[string]any{"cells": len(built)}), nil
}

func (e *Engine) phaseSetClassification() (datatypes.JSON, error) {
	if e.singleDataset {
		e.fitgap = classify.FitGap(e.builtCells)
		return detailsJSON(map[string]any{
			"mode":    "fitgap",
			"summary": e.fitgap.Summary,
		}), nil
	}
	e.venn = classify.Venn(e.builtCells)
	return detailsJSON(map[string]any{
		"mode":    "venn",
		"summary": e.venn.Summary,
	}), nil
}

func (e *Engine) phaseFinalization() (datatypes.JSON, error) {
	mode := "venn"
	if e.singleDataset {
		mode = "fitgap"
	}
	res := &Result{
		SessionID: e.sessionID,
		Mode:      mode,
		Nodes:     e.graph.Nodes(),
		Edges:     e.graph.Edges(),
		Cells:     e.builtCells,
		Venn:      e.venn,
		FitGap:    e.fitgap,
	}
	e.mu.Lock()
	e.result = res
	e.mu.Unlock()
	return detailsJSON(map[string]any{
		"nodes": len(res.Nodes),
		"edges": len(res.Edges),
		"cells": len(res.Cells),
	}), nil
}

func detailsJSON(m map[string]any) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
