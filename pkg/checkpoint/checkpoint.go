// Package checkpoint persists partial ingestion progress so that a retried
// queue item can skip the extraction work it already paid for.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/extract"
)

// ErrInvalidItemID is returned when an item ID contains invalid characters
var ErrInvalidItemID = errors.New("invalid item ID: contains path traversal or invalid characters")

// ProcessingStep is the last pipeline step an item completed.
type ProcessingStep string

const (
	StepInitial   ProcessingStep = "initial"
	StepResolved  ProcessingStep = "resolved_version"
	StepExtracted ProcessingStep = "extracted_triples"
	StepWritten   ProcessingStep = "written_graph"
)

var stepOrder = map[ProcessingStep]int{
	StepInitial:   0,
	StepResolved:  1,
	StepExtracted: 2,
	StepWritten:   3,
}

// Reached reports whether s is at or past step.
func (s ProcessingStep) Reached(step ProcessingStep) bool {
	return stepOrder[s] >= stepOrder[step]
}

// ItemCheckpoint is the saved state of one queue item.
type ItemCheckpoint struct {
	ItemID      string         `json:"item_id"`
	ContentHash string         `json:"content_hash"`
	Version     int            `json:"version"`
	Step        ProcessingStep `json:"step"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`

	// Triples holds extraction output keyed by chunk index.
	Triples map[int][]extract.ExtractedTriple `json:"triples,omitempty"`
}

// New creates a checkpoint at the initial step.
func New(itemID, contentHash string) *ItemCheckpoint {
	now := time.Now()
	return &ItemCheckpoint{
		ItemID:        itemID,
		ContentHash:   contentHash,
		Step:          StepInitial,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Triples:       map[int][]extract.ExtractedTriple{},
	}
}

// Reusable reports whether the extraction stored here applies to content
// with the given hash and version.
func (c *ItemCheckpoint) Reusable(contentHash string, version int) bool {
	return c != nil && c.ContentHash == contentHash && c.Version == version && c.Step.Reached(StepExtracted)
}

// Manager stores checkpoints as JSON files in a directory.
type Manager struct {
	dir string
}

// NewManager creates a manager. If dir is empty, uses os.TempDir()/recall-checkpoints
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "recall-checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the checkpoint directory path
func (m *Manager) Dir() string {
	return m.dir
}

// validateItemID rejects IDs containing path separators, traversal sequences or null bytes.
func validateItemID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, '\x00') {
		return ErrInvalidItemID
	}
	return nil
}

// isPathWithinDirectory checks that the resolved path is within the expected directory.
func isPathWithinDirectory(path, directory string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(directory)
	if !strings.HasSuffix(cleanDir, string(filepath.Separator)) {
		cleanDir += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanPath, cleanDir)
}

// Path returns the file path for an item's checkpoint.
func (m *Manager) Path(itemID string) (string, error) {
	if err := validateItemID(itemID); err != nil {
		return "", err
	}
	fullPath := filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s.json", itemID))
	if !isPathWithinDirectory(fullPath, m.dir) {
		return "", ErrInvalidItemID
	}
	return fullPath, nil
}

// Save persists the checkpoint atomically.
func (m *Manager) Save(ctx context.Context, cp *ItemCheckpoint) error {
	cp.LastUpdatedAt = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path, err := m.Path(cp.ItemID)
	if err != nil {
		return fmt.Errorf("invalid item ID: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}

// Load returns the checkpoint of itemID, or nil if there is none.
func (m *Manager) Load(ctx context.Context, itemID string) (*ItemCheckpoint, error) {
	path, err := m.Path(itemID)
	if err != nil {
		return nil, fmt.Errorf("invalid item ID: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp ItemCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a checkpoint. Deleting a missing checkpoint is not an error.
func (m *Manager) Delete(ctx context.Context, itemID string) error {
	path, err := m.Path(itemID)
	if err != nil {
		return fmt.Errorf("invalid item ID: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// RecordError increments the attempt count and stores err on an existing checkpoint.
func (m *Manager) RecordError(ctx context.Context, itemID string, err error) error {
	cp, loadErr := m.Load(ctx, itemID)
	if loadErr != nil {
		return loadErr
	}
	if cp == nil {
		return nil
	}
	cp.AttemptCount++
	cp.LastError = err.Error()
	return m.Save(ctx, cp)
}

// List returns every readable checkpoint in the directory.
func (m *Manager) List(ctx context.Context) ([]*ItemCheckpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var out []*ItemCheckpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		var cp ItemCheckpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, &cp)
	}
	return out, nil
}

// CleanOld removes checkpoints not updated within maxAge.
func (m *Manager) CleanOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, cp := range cps {
		if cp.LastUpdatedAt.Before(cutoff) {
			if err := m.Delete(ctx, cp.ItemID); err != nil {
				continue
			}
			removed++
		}
	}
	return removed, nil
}
