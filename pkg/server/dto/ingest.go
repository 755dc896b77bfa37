package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/types"
)

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	EpisodeBody   string     `json:"episodeBody"`
	Source        string     `json:"source"`
	ReferenceTime *time.Time `json:"referenceTime,omitempty"`
	Type          string     `json:"type"`
	SessionID     string     `json:"sessionId,omitempty"`
	LabelIDs      []string   `json:"labelIds,omitempty"`
	Title         string     `json:"title,omitempty"`
	Priority      int        `json:"priority,omitempty"`
}

// Validate checks limits the ingestion queue does not enforce.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.EpisodeBody) == "" {
		return types.NewValidationError("episodeBody", "must not be empty")
	}
	if len(r.EpisodeBody) > MaxContentLength {
		return types.NewValidationError("episodeBody", "exceeds maximum length (1MB)")
	}
	if strings.TrimSpace(r.Source) == "" {
		return types.NewValidationError("source", "is required")
	}
	if _, ok := types.ParseEpisodeType(r.Type); !ok {
		return types.NewValidationError("type", fmt.Sprintf("unknown episode type %q", r.Type))
	}
	if len(r.LabelIDs) > MaxLabelCount {
		return types.NewValidationError("labelIds", fmt.Sprintf("at most %d labels", MaxLabelCount))
	}
	if len(r.Title) > MaxNameLength {
		return types.NewValidationError("title", fmt.Sprintf("exceeds maximum length (%d)", MaxNameLength))
	}
	return nil
}

// ToInput converts the request into a queue input. Type defaults to CONVERSATION.
func (r *IngestRequest) ToInput() ingest.Input {
	kind, _ := types.ParseEpisodeType(r.Type)
	return ingest.Input{
		EpisodeBody:   r.EpisodeBody,
		Source:        r.Source,
		ReferenceTime: timeOrZero(r.ReferenceTime),
		Type:          kind,
		SessionID:     r.SessionID,
		LabelIDs:      r.LabelIDs,
		Title:         r.Title,
		Priority:      r.Priority,
	}
}

// QueueItemResponse acknowledges a queued item.
type QueueItemResponse struct {
	QueueItemID string `json:"queueItemId"`
}
