package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/types"
)

var (
	tenant = types.Tenant{UserID: "u1", WorkspaceID: "w1"}
	t0     = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

func seedSession(t *testing.T, store driver.GraphStore, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		err := store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
			return tx.CreateEpisode(ctx, &types.Episode{
				UUID:        fmt.Sprintf("%s-%d", sessionID, i),
				Content:     strings.Repeat("x", 100),
				SessionID:   sessionID,
				Type:        types.ConversationEpisodeType,
				ValidAt:     t0.Add(time.Duration(i) * time.Hour),
				UserID:      tenant.UserID,
				WorkspaceID: tenant.WorkspaceID,
			})
		})
		require.NoError(t, err)
	}
}

func fixed(response string) nlp.Completer {
	return nlp.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return response, nil
	})
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore(driver.Options{}, nil)
	seedSession(t, store, "s1", 4)
	seedSession(t, store, "s2", 3)

	var prompt string
	llm := nlp.CompleterFunc(func(ctx context.Context, p string) (string, error) {
		prompt = p
		return "```json\n{\"summary\": \"" + strings.Repeat("y", 40) + "\", \"confidence\": 0.8}\n```", nil
	})

	cs, err := New(store, llm, Options{}, nil).Compact(ctx, tenant, "s1", Window{})
	require.NoError(t, err)
	assert.Equal(t, "s1", cs.SessionID)
	assert.Equal(t, 4, cs.EpisodeCount)
	assert.Equal(t, []string{"s1-0", "s1-1", "s1-2", "s1-3"}, cs.SourceEpisodeUUIDs)
	assert.Equal(t, t0, cs.StartTime)
	assert.Equal(t, t0.Add(3*time.Hour), cs.EndTime)
	assert.InDelta(t, 10.0, cs.CompressionRatio, 1e-9)
	assert.InDelta(t, 0.8, cs.Confidence, 1e-9)
	assert.Equal(t, 4, strings.Count(prompt, strings.Repeat("x", 100)))

	stored, err := store.CompactedSessions(ctx, tenant, "s1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, cs.UUID, stored[0].UUID)

	// Written sessions are read-only.
	err = store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		return tx.SaveCompactedSession(ctx, cs)
	})
	assert.Error(t, err)
}

func TestCompactWindow(t *testing.T) {
	store := driver.NewMemoryStore(driver.Options{}, nil)
	seedSession(t, store, "s1", 6)

	c := New(store, fixed(`{"summary": "short", "confidence": 3}`), Options{}, nil)
	cs, err := c.Compact(context.Background(), tenant, "s1", Window{Start: t0.Add(2 * time.Hour), End: t0.Add(4 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1-2", "s1-3", "s1-4"}, cs.SourceEpisodeUUIDs)
	assert.Equal(t, 1.0, cs.Confidence)
}

func TestCompactRejects(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore(driver.Options{}, nil)
	seedSession(t, store, "s1", 2)
	c := New(store, fixed(`{"summary": "ok", "confidence": 0.5}`), Options{}, nil)

	tests := []struct {
		name      string
		tenant    types.Tenant
		sessionID string
		window    Window
	}{
		{name: "too few episodes", tenant: tenant, sessionID: "s1"},
		{name: "missing session", tenant: tenant},
		{name: "missing tenant", sessionID: "s1"},
		{name: "inverted window", tenant: tenant, sessionID: "s1", window: Window{Start: t0.Add(time.Hour), End: t0}},
		{name: "other tenant sees nothing", tenant: types.Tenant{UserID: "u2", WorkspaceID: "w2"}, sessionID: "s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compact(ctx, tt.tenant, tt.sessionID, tt.window)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}

	lowered := New(store, fixed(`{"summary": "ok", "confidence": 0.5}`), Options{MinEpisodes: 2}, nil)
	_, err := lowered.Compact(ctx, tenant, "s1", Window{})
	assert.NoError(t, err)
}

func TestCompactModelFailures(t *testing.T) {
	ctx := context.Background()
	store := driver.NewMemoryStore(driver.Options{}, nil)
	seedSession(t, store, "s1", 3)

	_, err := New(store, fixed(`{"summary": ""}`), Options{}, nil).Compact(ctx, tenant, "s1", Window{})
	assert.ErrorIs(t, err, types.ErrExtraction)

	_, err = New(store, fixed("sorry"), Options{}, nil).Compact(ctx, tenant, "s1", Window{})
	assert.ErrorIs(t, err, types.ErrExtraction)

	failing := nlp.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("upstream down")
	})
	_, err = New(store, failing, Options{}, nil).Compact(ctx, tenant, "s1", Window{})
	require.Error(t, err)

	stored, err := store.CompactedSessions(ctx, tenant, "s1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestParseSummaryRepairsTruncatedJSON(t *testing.T) {
	summary, confidence, err := parseSummary(`{"summary": "Planned the launch", "confidence": 0.7`)
	require.NoError(t, err)
	assert.Equal(t, "Planned the launch", summary)
	assert.InDelta(t, 0.7, confidence, 1e-9)
}
