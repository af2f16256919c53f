package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSE"),
		hub: hub,
	}
}

// GET /api/sessions/:id/events
// Streams the session's live events until the client disconnects.
func (h *SSEHandler) StreamSessionEvents(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, sse.SessionChannel(id))
	h.log.Debug("SSE stream open", "session_id", id, "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "session_id", id, "client_id", client.ID)
}
