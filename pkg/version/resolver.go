package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/recall/pkg/chunker"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/types"
)

// EpisodeLookup loads the chunk-0 episode of the most recent version of a session.
// Implementations return driver.ErrEpisodeNotFound when the session is unknown.
type EpisodeLookup interface {
	LatestSessionEpisode(ctx context.Context, tenant types.Tenant, sessionID string) (*types.Episode, error)
}

// Decision describes how new content relates to the stored versions of its session.
type Decision struct {
	IsNewSession             bool           `json:"isNewSession"`
	HasContentChanged        bool           `json:"hasContentChanged"`
	OldVersion               int            `json:"oldVersion"`
	NewVersion               int            `json:"newVersion"`
	ChangedChunkIndices      []int          `json:"changedChunkIndices"`
	ChangePercentage         float64        `json:"changePercentage"`
	PreviousVersionSessionID string         `json:"previousVersionSessionId,omitempty"`
	PreviousEpisode          *types.Episode `json:"-"`
}

// Resolver decides between new session, version bump and no-op.
type Resolver struct {
	episodes EpisodeLookup
	logger   *slog.Logger
}

// NewResolver creates a Resolver reading prior versions from episodes.
func NewResolver(episodes EpisodeLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{episodes: episodes, logger: logger}
}

// Resolve compares newContent and its chunk hashes against the latest stored version of sessionID.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, tenant types.Tenant, newContent string, newChunkHashes []string, episodeType types.EpisodeType) (*Decision, error) {
	if !episodeType.Versioned() {
		return newSession(len(newChunkHashes)), nil
	}

	prev, err := r.episodes.LatestSessionEpisode(ctx, tenant, sessionID)
	if errors.Is(err, driver.ErrEpisodeNotFound) {
		return newSession(len(newChunkHashes)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load previous version of session %s: %w", sessionID, err)
	}

	if prev.ContentHash == chunker.Hash(newContent) {
		r.logger.Debug("content unchanged, skipping", "session_id", sessionID, "version", prev.Version)
		return &Decision{
			HasContentChanged:        false,
			OldVersion:               prev.Version,
			NewVersion:               prev.Version,
			ChangedChunkIndices:      []int{},
			PreviousVersionSessionID: prev.SessionID,
			PreviousEpisode:          prev,
		}, nil
	}

	changed, pct := CompareChunkHashes(prev.ChunkHashes, newChunkHashes)
	d := &Decision{
		HasContentChanged:        true,
		OldVersion:               prev.Version,
		NewVersion:               prev.Version + 1,
		ChangedChunkIndices:      changed,
		ChangePercentage:         pct,
		PreviousVersionSessionID: prev.SessionID,
		PreviousEpisode:          prev,
	}
	r.logger.Debug("resolved new version",
		"session_id", sessionID,
		"old_version", d.OldVersion,
		"new_version", d.NewVersion,
		"changed_chunks", len(changed),
		"change_percentage", pct)
	return d, nil
}

// CompareChunkHashes pairs the two hash arrays positionally over max(len) positions.
// Positions present on only one side count as changed.
func CompareChunkHashes(oldHashes, newHashes []string) ([]int, float64) {
	total := max(len(oldHashes), len(newHashes))
	changed := []int{}
	for i := 0; i < total; i++ {
		if i >= len(oldHashes) || i >= len(newHashes) || oldHashes[i] != newHashes[i] {
			changed = append(changed, i)
		}
	}
	if total == 0 {
		return changed, 0
	}
	pct := float64(len(changed)) / float64(total) * 100
	return changed, min(100, max(0, pct))
}

func newSession(chunks int) *Decision {
	all := make([]int, chunks)
	for i := range all {
		all[i] = i
	}
	return &Decision{
		IsNewSession:        true,
		HasContentChanged:   true,
		NewVersion:          1,
		ChangedChunkIndices: all,
		ChangePercentage:    100,
	}
}
