package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/types"
)

// DefaultMaxEpisodes bounds how many episodes one synthesis reads.
const DefaultMaxEpisodes = 2000

// PersonaSpaceName names the per-tenant persona space.
const PersonaSpaceName = "Persona"

// ErrNoEpisodes is returned when a full synthesis has nothing to read.
var ErrNoEpisodes = errors.New("no episodes to synthesize")

// Mode selects between resynthesis and merging new episodes.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode accepts "" as full.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	}
	return "", types.NewValidationError("mode", fmt.Sprintf("unknown synthesis mode %q", s))
}

// Request names what to synthesize. An empty SpaceID targets the persona.
type Request struct {
	Tenant  types.Tenant
	SpaceID string
	Mode    Mode
}

// Validate checks tenant and mode.
func (r *Request) Validate() error {
	if err := r.Tenant.Validate(); err != nil {
		return types.NewValidationError("tenant", err.Error())
	}
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	r.Mode = mode
	return nil
}

// Options tunes a Synthesizer.
type Options struct {
	Topics      TopicOptions
	MaxEpisodes int
}

// OptionsFrom maps the persona config section onto Options.
func OptionsFrom(cfg config.PersonaConfig) Options {
	return Options{
		Topics:      TopicOptions{Threshold: cfg.TopicThreshold, MinTopicSize: cfg.MinTopicSize},
		MaxEpisodes: cfg.MaxEpisodes,
	}
}

// Result is a generated but not yet written summary.
type Result struct {
	Space     *types.Space
	Summary   *types.SpaceSummary
	Analytics *Analytics
	// Create is true when the persona space does not exist yet.
	Create bool
	// Unchanged is true when an incremental run found no new episodes.
	Unchanged bool
}

// Synthesizer generates space and persona summaries.
type Synthesizer struct {
	store  driver.GraphStore
	llm    nlp.Completer
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(store driver.GraphStore, llm nlp.Completer, opts Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxEpisodes <= 0 {
		opts.MaxEpisodes = DefaultMaxEpisodes
	}
	return &Synthesizer{store: store, llm: llm, opts: opts, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Synthesize generates and writes a summary in one call.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	res, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, req.Tenant, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Generate reads episodes, runs analytics and asks the Completer for a
// summary. Nothing is written.
func (s *Synthesizer) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	space, create, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == ModeIncremental && (space.Summary == nil || space.LastSynthesizedAt == nil) {
		s.logger.Debug("no previous summary, running full synthesis", "space_id", space.UUID)
		mode = ModeFull
	}

	episodes, err := s.episodes(ctx, req.Tenant, space, mode)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		if mode == ModeIncremental {
			return &Result{Space: space, Summary: space.Summary, Unchanged: true}, nil
		}
		return nil, ErrNoEpisodes
	}

	analytics, err := Analyze(ctx, episodes, s.opts.Topics)
	if err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, BuildPrompt(space, mode, analytics, episodes))
	if err != nil {
		return nil, fmt.Errorf("failed to complete synthesis prompt: %w", err)
	}
	summary, err := ParseSummary(raw)
	if err != nil {
		return nil, err
	}

	summary.EpisodeCount = len(episodes)
	if mode == ModeIncremental {
		summary.EpisodeCount += space.Summary.EpisodeCount
	}
	summary.GeneratedAt = s.now()
	summary.GeneratedMode = string(mode)

	s.logger.Info("synthesized summary",
		"space_id", space.UUID,
		"kind", space.Kind,
		"mode", mode,
		"episodes", len(episodes),
		"topics", len(analytics.Topics))
	return &Result{Space: space, Summary: summary, Analytics: analytics, Create: create}, nil
}

// Commit writes res in one transaction. A cancelled ctx writes nothing.
func (s *Synthesizer) Commit(ctx context.Context, tenant types.Tenant, res *Result) error {
	if res.Unchanged {
		return nil
	}
	err := s.store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		if res.Create {
			if err := tx.CreateSpace(ctx, res.Space); err != nil {
				return err
			}
		}
		return tx.UpdateSpaceSummary(ctx, tenant, res.Space.UUID, res.Summary, res.Summary.GeneratedAt)
	})
	if err != nil {
		return &types.GraphWriteError{Op: "synthesize", Err: err}
	}
	t := res.Summary.GeneratedAt
	res.Space.Summary = res.Summary
	res.Space.LastSynthesizedAt = &t
	res.Create = false
	return nil
}

func (s *Synthesizer) target(ctx context.Context, req Request) (*types.Space, bool, error) {
	if req.SpaceID != "" {
		space, err := s.store.GetSpace(ctx, req.Tenant, req.SpaceID)
		if err != nil {
			return nil, false, err
		}
		return space, false, nil
	}

	spaces, err := s.store.ListSpaces(ctx, req.Tenant, types.PersonaSpace)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up persona space: %w", err)
	}
	if len(spaces) > 0 {
		return spaces[0], false, nil
	}
	return &types.Space{
		UUID:        uuid.NewString(),
		Name:        PersonaSpaceName,
		Kind:        types.PersonaSpace,
		IsActive:    true,
		UserID:      req.Tenant.UserID,
		WorkspaceID: req.Tenant.WorkspaceID,
	}, true, nil
}

// episodes loads the persona's tenant episodes or a space's provenance
// episodes. Incremental runs only see episodes after the last synthesis.
func (s *Synthesizer) episodes(ctx context.Context, tenant types.Tenant, space *types.Space, mode Mode) ([]*types.Episode, error) {
	var since time.Time
	if mode == ModeIncremental {
		since = *space.LastSynthesizedAt
	}

	var episodes []*types.Episode
	if space.Kind == types.PersonaSpace {
		eps, err := s.store.ListEpisodes(ctx, tenant, driver.EpisodeFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to list episodes: %w", err)
		}
		episodes = eps
	} else {
		triples, err := s.store.SpaceStatements(ctx, tenant, space.UUID)
		if err != nil {
			return nil, fmt.Errorf("failed to load space statements: %w", err)
		}
		ids := make([]string, len(triples))
		for i, t := range triples {
			ids[i] = t.Statement.UUID
		}
		if len(ids) == 0 {
			return nil, nil
		}
		eps, err := s.store.EpisodesForStatements(ctx, tenant, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load space episodes: %w", err)
		}
		episodes = eps
	}

	out := episodes[:0]
	for _, ep := range episodes {
		if !since.IsZero() && !ep.CreatedAt.After(since) {
			continue
		}
		out = append(out, ep)
	}
	// Keep the most recent episodes when over the cap.
	if len(out) > s.opts.MaxEpisodes {
		out = out[len(out)-s.opts.MaxEpisodes:]
	}
	return out, nil
}
