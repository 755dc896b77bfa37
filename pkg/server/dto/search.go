package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query              string     `json:"query"`
	StartTime          *time.Time `json:"startTime,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	Limit              int        `json:"limit,omitempty"`
	MaxBFSDepth        int        `json:"maxBfsDepth,omitempty"`
	IncludeInvalidated bool       `json:"includeInvalidated,omitempty"`
	EntityTypes        []string   `json:"entityTypes,omitempty"`
	ScoreThreshold     float64    `json:"scoreThreshold,omitempty"`
	MinResults         int        `json:"minResults,omitempty"`
	LabelIDs           []string   `json:"labelIds,omitempty"`
}

// Validate performs validation on SearchRequest
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return types.NewValidationError("query", "is required")
	}
	if len(r.Query) > MaxQueryLength {
		return types.NewValidationError("query", fmt.Sprintf("exceeds maximum length (%d)", MaxQueryLength))
	}
	if r.Limit < 0 {
		return types.NewValidationError("limit", "must not be negative")
	}
	if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
		return types.NewValidationError("scoreThreshold", "must be between 0 and 1")
	}
	if len(r.LabelIDs) > MaxLabelCount {
		return types.NewValidationError("labelIds", fmt.Sprintf("at most %d labels", MaxLabelCount))
	}
	return checkWindow(r.StartTime, r.EndTime)
}

// ToOptions converts the request into search options.
func (r *SearchRequest) ToOptions() search.Options {
	opts := search.Options{
		StartTime:          timeOrZero(r.StartTime),
		EndTime:            timeOrZero(r.EndTime),
		Limit:              r.Limit,
		MaxBFSDepth:        r.MaxBFSDepth,
		IncludeInvalidated: r.IncludeInvalidated,
		ScoreThreshold:     r.ScoreThreshold,
		MinResults:         r.MinResults,
		LabelIDs:           r.LabelIDs,
	}
	for _, et := range r.EntityTypes {
		opts.EntityTypes = append(opts.EntityTypes, types.ParseEntityType(et))
	}
	return opts
}
