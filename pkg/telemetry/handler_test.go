package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/types"
)

func readRecords(t *testing.T, dir string) []LogRecord {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	var out []LogRecord
	for _, f := range files {
		rows, err := parquet.ReadFile[LogRecord](f)
		require.NoError(t, err)
		out = append(out, rows...)
	}
	return out
}

func TestParquetHandlerPersistsErrors(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	h, err := NewParquetHandlerWithBatch(slog.NewTextHandler(&console, nil), dir, 2)
	require.NoError(t, err)

	logger := slog.New(h).With("component", "ingest")
	ctx := context.WithValue(context.Background(), types.ContextKeyUserID, "u1")
	ctx = context.WithValue(ctx, types.ContextKeyWorkspaceID, "w1")

	logger.InfoContext(ctx, "queued")
	logger.ErrorContext(ctx, "graph write failed", "error", errors.New("connection reset"))
	assert.Empty(t, readRecords(t, dir))

	logger.WithGroup("queue").ErrorContext(ctx, "item failed", "id", "q1")
	records := readRecords(t, dir)
	require.Len(t, records, 2)

	assert.Equal(t, "graph write failed", records[0].Message)
	assert.Equal(t, "ERROR", records[0].Level)
	assert.Equal(t, "u1", records[0].UserID)
	assert.Equal(t, "w1", records[0].WorkspaceID)
	assert.JSONEq(t, `{"component": "ingest", "error": "connection reset"}`, records[0].Attributes)
	assert.JSONEq(t, `{"component": "ingest", "queue.id": "q1"}`, records[1].Attributes)
	assert.NotEmpty(t, records[0].SourceFile)

	assert.Contains(t, console.String(), "queued")
	assert.Contains(t, console.String(), "item failed")
}

func TestParquetHandlerCloseFlushes(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), dir)
	require.NoError(t, err)

	slog.New(h).Error("boom")
	assert.Empty(t, readRecords(t, dir))

	require.NoError(t, h.Close())
	records := readRecords(t, dir)
	require.Len(t, records, 1)
	assert.Equal(t, "boom", records[0].Message)

	// Nothing left to write.
	require.NoError(t, h.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
