package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/server/dto"
)

// SpaceHandler handles spaces and synthesis jobs
type SpaceHandler struct {
	client recall.Recall
}

// NewSpaceHandler creates a new space handler
func NewSpaceHandler(client recall.Recall) *SpaceHandler {
	return &SpaceHandler{client: client}
}

// CreateSpace handles POST /spaces
func (h *SpaceHandler) CreateSpace(c *gin.Context) {
	var req dto.SpaceRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	space, err := h.client.CreateSpace(c.Request.Context(), TenantFrom(c), req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, space)
}

// ListSpaces handles GET /spaces
func (h *SpaceHandler) ListSpaces(c *gin.Context) {
	spaces, err := h.client.ListSpaces(c.Request.Context(), TenantFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spaces": spaces})
}

// UpdateAssignments handles PUT /spaces/assignments
func (h *SpaceHandler) UpdateAssignments(c *gin.Context) {
	var req dto.AssignmentRequest
	if !bindJSON(c, &req) {
		return
	}
	intent, err := req.Validate()
	if err != nil {
		writeError(c, err)
		return
	}

	n, err := h.client.UpdateAssignments(c.Request.Context(), TenantFrom(c), intent, req.SpaceID, req.StatementIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AssignmentResponse{Intent: intent, Affected: n})
}

// SynthesizeSpace handles POST /spaces/:id/synthesize
func (h *SpaceHandler) SynthesizeSpace(c *gin.Context) {
	h.synthesize(c, c.Param("id"))
}

// SynthesizePersona handles POST /persona/synthesize
func (h *SpaceHandler) SynthesizePersona(c *gin.Context) {
	h.synthesize(c, "")
}

func (h *SpaceHandler) synthesize(c *gin.Context, spaceID string) {
	var req dto.SynthesizeRequest
	// The body is optional.
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	mode, err := persona.ParseMode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}

	jobID, err := h.client.StartSynthesis(TenantFrom(c), spaceID, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobResponse{JobID: jobID})
}

// JobStatus handles GET /jobs/:id
func (h *SpaceHandler) JobStatus(c *gin.Context) {
	job, err := h.client.JobStatus(TenantFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles DELETE /jobs/:id
func (h *SpaceHandler) CancelJob(c *gin.Context) {
	if err := h.client.CancelJob(TenantFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
