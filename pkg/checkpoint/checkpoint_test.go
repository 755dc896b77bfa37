package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/extract"
)

func TestManagerSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	cp := New("item-1", "hash-a")
	cp.Version = 2
	cp.Step = StepExtracted
	cp.Triples[1] = []extract.ExtractedTriple{{Subject: "Alice", Predicate: "works_at", Object: "Acme"}}
	require.NoError(t, m.Save(ctx, cp))

	loaded, err := m.Load(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StepExtracted, loaded.Step)
	assert.Equal(t, "Acme", loaded.Triples[1][0].Object)
	assert.True(t, loaded.Reusable("hash-a", 2))
	assert.False(t, loaded.Reusable("hash-b", 2))
	assert.False(t, loaded.Reusable("hash-a", 3))

	require.NoError(t, m.RecordError(ctx, "item-1", errors.New("neo4j unavailable")))
	loaded, err = m.Load(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.AttemptCount)
	assert.Equal(t, "neo4j unavailable", loaded.LastError)

	require.NoError(t, m.Delete(ctx, "item-1"))
	require.NoError(t, m.Delete(ctx, "item-1"))
	loaded, err = m.Load(ctx, "item-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestManagerRejectsUnsafeIDs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "nul\x00"} {
		_, err := m.Path(id)
		assert.ErrorIs(t, err, ErrInvalidItemID, "id %q", id)
	}
}

func TestStepReached(t *testing.T) {
	assert.True(t, StepWritten.Reached(StepExtracted))
	assert.True(t, StepExtracted.Reached(StepExtracted))
	assert.False(t, StepResolved.Reached(StepExtracted))
	var nilCheckpoint *ItemCheckpoint
	assert.False(t, nilCheckpoint.Reusable("h", 1))
}

func TestCleanOld(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.Save(ctx, New("old", "h")))
	require.NoError(t, m.Save(ctx, New("fresh", "h")))

	// Backdate the first checkpoint on disk.
	path := filepath.Join(dir, "checkpoint_old.json")
	cp, err := m.Load(ctx, "old")
	require.NoError(t, err)
	cp.LastUpdatedAt = time.Now().Add(-48 * time.Hour)
	data := mustJSON(t, cp)
	require.NoError(t, os.WriteFile(path, data, 0644))

	removed, err := m.CleanOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ItemID)
}

func mustJSON(t *testing.T, cp *ItemCheckpoint) []byte {
	t.Helper()
	data, err := json.Marshal(cp)
	require.NoError(t, err)
	return data
}
