package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/services"
)

type AuditHandler struct {
	sessions *services.SessionService
	audits   *services.AuditService
}

func NewAuditHandler(sessions *services.SessionService, audits *services.AuditService) *AuditHandler {
	return &AuditHandler{sessions: sessions, audits: audits}
}

func sessionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /api/sessions
func (h *AuditHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// GET /api/sessions
func (h *AuditHandler) ListSessions(c *gin.Context) {
	metas, err := h.sessions.List(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": metas})
}

// GET /api/sessions/:id
func (h *AuditHandler) GetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// DELETE /api/sessions/:id
func (h *AuditHandler) DeleteSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": id})
}

// POST /api/sessions/:id/run
func (h *AuditHandler) StartRun(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req services.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.audits.StartRun(c.Request.Context(), id, req); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "started": true})
}

// POST /api/sessions/:id/pause
func (h *AuditHandler) PauseSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.sessions.Pause(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/resume
func (h *AuditHandler) ResumeSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.sessions.Resume(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/stop
func (h *AuditHandler) StopSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.sessions.Stop(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/abort
func (h *AuditHandler) AbortRun(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.audits.Abort(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": id, "aborting": true})
}

// POST /api/sessions/:id/continue
func (h *AuditHandler) ContinueToNextStep(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.audits.ContinueToNextStep(id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": id, "continued": true})
}

// POST /api/sessions/:id/restart-step
func (h *AuditHandler) RestartStep(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Phase string `json:"phase"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Phase == "" {
		RespondError(c, http.StatusBadRequest, "invalid_phase", err)
		return
	}
	if err := h.audits.RestartStep(c.Request.Context(), id, req.Phase); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "restarting_from": req.Phase})
}

// GET /api/sessions/:id/steps
func (h *AuditHandler) ListSteps(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	steps, err := h.audits.Steps(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"steps": steps})
}

// GET /api/sessions/:id/progress
func (h *AuditHandler) GetProgress(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	progress, active := h.audits.Progress(id)
	RespondOK(c, gin.H{"active": active, "progress": progress})
}

// GET /api/sessions/:id/snapshot
func (h *AuditHandler) GetSnapshot(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	snap, err := h.audits.Snapshot(id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"snapshot": snap})
}

// POST /api/sessions/:id/save
func (h *AuditHandler) SaveAuditData(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.audits.Save(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": id, "saved": true})
}

// POST /api/sessions/:id/clear
func (h *AuditHandler) ClearAuditData(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.audits.Clear(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": id, "cleared": true})
}

// GET /api/sessions/:id/export
func (h *AuditHandler) ExportAuditData(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	doc, err := h.audits.Export(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, doc)
}
