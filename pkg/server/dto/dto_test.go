package dto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/types"
)

func TestIngestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     IngestRequest
		wantErr bool
	}{
		{"valid", IngestRequest{EpisodeBody: "hello", Source: "chat"}, false},
		{"document", IngestRequest{EpisodeBody: "hello", Source: "notes", Type: "document"}, false},
		{"empty body", IngestRequest{EpisodeBody: "  ", Source: "chat"}, true},
		{"missing source", IngestRequest{EpisodeBody: "hello"}, true},
		{"unknown type", IngestRequest{EpisodeBody: "hello", Source: "chat", Type: "VIDEO"}, true},
		{"too large", IngestRequest{EpisodeBody: strings.Repeat("a", MaxContentLength+1), Source: "chat"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngestRequestToInput(t *testing.T) {
	req := IngestRequest{EpisodeBody: "hello", Source: "notes", Type: "document", SessionID: "doc-1"}
	in := req.ToInput()
	assert.Equal(t, types.DocumentEpisodeType, in.Type)
	assert.True(t, in.ReferenceTime.IsZero())

	req.Type = ""
	assert.Equal(t, types.ConversationEpisodeType, req.ToInput().Type)
}

func TestSearchRequest(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	assert.ErrorIs(t, (&SearchRequest{}).Validate(), types.ErrValidation)
	assert.ErrorIs(t, (&SearchRequest{Query: "x", ScoreThreshold: 1.5}).Validate(), types.ErrValidation)
	assert.ErrorIs(t, (&SearchRequest{Query: "x", StartTime: &start, EndTime: &end}).Validate(), types.ErrValidation)

	req := SearchRequest{Query: "x", StartTime: &start, EntityTypes: []string{"person", "gadget"}}
	require.NoError(t, req.Validate())
	opts := req.ToOptions()
	assert.Equal(t, start, opts.StartTime)
	assert.True(t, opts.EndTime.IsZero())
	assert.Equal(t, []types.EntityType{types.PersonEntity, types.ConceptEntity}, opts.EntityTypes)
}

func TestSpaceRequests(t *testing.T) {
	assert.ErrorIs(t, (&SpaceRequest{}).Validate(), types.ErrValidation)
	assert.NoError(t, (&SpaceRequest{Name: "Career"}).Validate())

	_, err := (&AssignmentRequest{Intent: "shuffle"}).Validate()
	assert.ErrorIs(t, err, types.ErrValidation)

	intent, err := (&AssignmentRequest{Intent: "BULK_ASSIGN"}).Validate()
	require.NoError(t, err)
	assert.Equal(t, "bulk_assign", string(intent))
}

func TestCompactRequestWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	w, err := (&CompactRequest{StartTime: &start, EndTime: &end}).Window()
	require.NoError(t, err)
	assert.Equal(t, start, w.Start)
	assert.Equal(t, end, w.End)

	_, err = (&CompactRequest{StartTime: &end, EndTime: &start}).Window()
	assert.ErrorIs(t, err, types.ErrValidation)
}
