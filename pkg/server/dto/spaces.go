package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/compaction"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/types"
)

// SpaceRequest is the body of POST /spaces.
type SpaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate performs validation on SpaceRequest
func (r *SpaceRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return types.NewValidationError("name", "is required")
	}
	if len(r.Name) > MaxNameLength {
		return types.NewValidationError("name", fmt.Sprintf("exceeds maximum length (%d)", MaxNameLength))
	}
	if len(r.Description) > MaxDescriptionLength {
		return types.NewValidationError("description", fmt.Sprintf("exceeds maximum length (%d)", MaxDescriptionLength))
	}
	return nil
}

// AssignmentRequest is the body of PUT /spaces/assignments.
type AssignmentRequest struct {
	Intent       string   `json:"intent"`
	SpaceID      string   `json:"spaceId,omitempty"`
	StatementIDs []string `json:"statementIds,omitempty"`
}

// Validate parses the intent. Field requirements per intent are checked by
// the space manager.
func (r *AssignmentRequest) Validate() (persona.Intent, error) {
	if len(r.StatementIDs) > MaxIDsCount {
		return "", types.NewValidationError("statementIds", fmt.Sprintf("at most %d ids", MaxIDsCount))
	}
	return persona.ParseIntent(r.Intent)
}

// AssignmentResponse reports how many statements an intent touched.
type AssignmentResponse struct {
	Intent   persona.Intent `json:"intent"`
	Affected int            `json:"affected"`
}

// SynthesizeRequest is the body of the synthesize routes.
type SynthesizeRequest struct {
	Mode string `json:"mode,omitempty"`
}

// JobResponse acknowledges a started synthesis job.
type JobResponse struct {
	JobID string `json:"jobId"`
}

// CompactRequest is the body of POST /sessions/:id/compact.
type CompactRequest struct {
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Window validates the bounds and converts them to a compaction window.
func (r *CompactRequest) Window() (compaction.Window, error) {
	if err := checkWindow(r.StartTime, r.EndTime); err != nil {
		return compaction.Window{}, err
	}
	return compaction.Window{Start: timeOrZero(r.StartTime), End: timeOrZero(r.EndTime)}, nil
}
