package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/server/dto"
)

// SessionHandler handles session compaction
type SessionHandler struct {
	client recall.Recall
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(client recall.Recall) *SessionHandler {
	return &SessionHandler{client: client}
}

// Compact handles POST /sessions/:id/compact
func (h *SessionHandler) Compact(c *gin.Context) {
	var req dto.CompactRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	window, err := req.Window()
	if err != nil {
		writeError(c, err)
		return
	}

	cs, err := h.client.Compact(c.Request.Context(), TenantFrom(c), c.Param("id"), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}
