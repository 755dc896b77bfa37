// Package compaction rolls a window of session episodes up into a single
// read-only CompactedSession.
package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/extract"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/types"
)

// DefaultMinEpisodes is the smallest window worth compacting.
const DefaultMinEpisodes = 3

var errNoSummary = errors.New("no summary in model output")

// Window bounds the episodes to compact by ValidAt. Zero bounds are open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Options tunes a Compactor.
type Options struct {
	MinEpisodes int
}

// OptionsFrom maps the compaction config section onto Options.
func OptionsFrom(cfg config.CompactionConfig) Options {
	return Options{MinEpisodes: cfg.MinEpisodes}
}

// Compactor summarizes session windows with a Completer.
type Compactor struct {
	store  driver.GraphStore
	llm    nlp.Completer
	opts   Options
	logger *slog.Logger
}

// New creates a Compactor.
func New(store driver.GraphStore, llm nlp.Completer, opts Options, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinEpisodes <= 0 {
		opts.MinEpisodes = DefaultMinEpisodes
	}
	return &Compactor{store: store, llm: llm, opts: opts, logger: logger}
}

// Compact summarizes the session's episodes inside window and stores the result.
func (c *Compactor) Compact(ctx context.Context, tenant types.Tenant, sessionID string, window Window) (*types.CompactedSession, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, types.NewValidationError("sessionId", "is required")
	}
	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		return nil, types.NewValidationError("endTime", "must not be before startTime")
	}

	episodes, err := c.store.ListEpisodes(ctx, tenant, driver.EpisodeFilter{
		SessionID: sessionID,
		Since:     window.Start,
		Until:     window.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list session episodes: %w", err)
	}
	if len(episodes) < c.opts.MinEpisodes {
		return nil, types.NewValidationError("window",
			fmt.Sprintf("needs at least %d episodes, found %d", c.opts.MinEpisodes, len(episodes)))
	}

	raw, err := c.llm.Complete(ctx, buildPrompt(episodes))
	if err != nil {
		return nil, fmt.Errorf("failed to complete compaction prompt: %w", err)
	}
	summary, confidence, err := parseSummary(raw)
	if err != nil {
		return nil, err
	}

	var originalChars int
	ids := make([]string, len(episodes))
	for i, ep := range episodes {
		originalChars += utf8.RuneCountInString(ep.Content)
		ids[i] = ep.UUID
	}

	cs := &types.CompactedSession{
		UUID:               uuid.NewString(),
		SessionID:          sessionID,
		Summary:            summary,
		EpisodeCount:       len(episodes),
		StartTime:          episodes[0].ValidAt,
		EndTime:            episodes[len(episodes)-1].ValidAt,
		CompressionRatio:   float64(originalChars) / float64(utf8.RuneCountInString(summary)),
		Confidence:         confidence,
		SourceEpisodeUUIDs: ids,
		UserID:             tenant.UserID,
		WorkspaceID:        tenant.WorkspaceID,
	}
	err = c.store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		return tx.SaveCompactedSession(ctx, cs)
	})
	if err != nil {
		return nil, &types.GraphWriteError{Op: "compact", Err: err}
	}

	c.logger.Info("compacted session",
		"session_id", sessionID,
		"episodes", cs.EpisodeCount,
		"compression_ratio", cs.CompressionRatio,
		"confidence", cs.Confidence)
	return cs, nil
}

func buildPrompt(episodes []*types.Episode) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation session so it can replace the individual messages.\n")
	b.WriteString("Keep decisions, facts, names, numbers and open questions. Drop greetings and filler.\n\n<EPISODES>\n")
	for _, ep := range episodes {
		fmt.Fprintf(&b, "[%s] %s\n", ep.ValidAt.Format(time.RFC3339), strings.TrimSpace(ep.Content))
	}
	b.WriteString(`</EPISODES>

Respond with a single JSON object and nothing else:
{"summary": "...", "confidence": 0.0}

confidence is between 0 and 1 and says how completely the summary covers the session.
`)
	return b.String()
}

func parseSummary(raw string) (string, float64, error) {
	s := extract.Clean(raw)
	start := strings.Index(s, "{")
	if start < 0 {
		return "", 0, types.NewExtractionError(raw, errNoSummary)
	}
	s = s[start:]
	if end := strings.LastIndex(s, "}"); end >= 0 && json.Valid([]byte(s[:end+1])) {
		s = s[:end+1]
	} else {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return "", 0, types.NewExtractionError(raw, err)
		}
		s = repaired
	}

	var out struct {
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", 0, types.NewExtractionError(raw, err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return "", 0, types.NewExtractionError(raw, errNoSummary)
	}
	return out.Summary, min(max(out.Confidence, 0), 1), nil
}
