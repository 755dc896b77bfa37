package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/server/dto"
)

// RetrieveHandler handles search and episode requests
type RetrieveHandler struct {
	client recall.Recall
}

// NewRetrieveHandler creates a new retrieve handler
func NewRetrieveHandler(client recall.Recall) *RetrieveHandler {
	return &RetrieveHandler{client: client}
}

// Search handles POST /search
func (h *RetrieveHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	res, err := h.client.Search(c.Request.Context(), TenantFrom(c), req.Query, req.ToOptions())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetEpisode handles GET /episode/:uuid
func (h *RetrieveHandler) GetEpisode(c *gin.Context) {
	episode, err := h.client.GetEpisode(c.Request.Context(), TenantFrom(c), c.Param("uuid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, episode)
}

// DeleteEpisode handles DELETE /episode/:uuid
func (h *RetrieveHandler) DeleteEpisode(c *gin.Context) {
	res, err := h.client.DeleteEpisode(c.Request.Context(), TenantFrom(c), c.Param("uuid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
