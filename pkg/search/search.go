package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/types"
)

// Defaults applied to zero-valued Config and Options fields.
const (
	DefaultLimit            = 20
	DefaultMaxBFSDepth      = 2
	DefaultScoreThreshold   = 0.7
	DefaultMinResults       = 10
	DefaultRelaxStep        = 0.1
	DefaultSimilarityWeight = 0.8
	DefaultRecencyWeight    = 0.2

	// recencyHalfLifeDays is the age at which recency drops to 0.5.
	recencyHalfLifeDays = 30.0
)

// Config holds engine-wide defaults and ranking weights.
type Config struct {
	Limit            int
	MaxBFSDepth      int
	ScoreThreshold   float64
	MinResults       int
	RelaxStep        float64
	SimilarityWeight float64
	RecencyWeight    float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Limit:            DefaultLimit,
		MaxBFSDepth:      DefaultMaxBFSDepth,
		ScoreThreshold:   DefaultScoreThreshold,
		MinResults:       DefaultMinResults,
		RelaxStep:        DefaultRelaxStep,
		SimilarityWeight: DefaultSimilarityWeight,
		RecencyWeight:    DefaultRecencyWeight,
	}
}

// ConfigFrom converts the file configuration, filling unset fields with defaults.
func ConfigFrom(c config.SearchConfig) Config {
	return Config{
		Limit:            c.Limit,
		MaxBFSDepth:      c.MaxBFSDepth,
		ScoreThreshold:   c.ScoreThreshold,
		MinResults:       c.MinResults,
		RelaxStep:        c.RelaxStep,
		SimilarityWeight: c.SimilarityWeight,
		RecencyWeight:    c.RecencyWeight,
	}.normalize()
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.MaxBFSDepth <= 0 {
		c.MaxBFSDepth = d.MaxBFSDepth
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = d.ScoreThreshold
	}
	if c.MinResults <= 0 {
		c.MinResults = d.MinResults
	}
	if c.RelaxStep <= 0 {
		c.RelaxStep = d.RelaxStep
	}
	if c.SimilarityWeight <= 0 && c.RecencyWeight <= 0 {
		c.SimilarityWeight, c.RecencyWeight = d.SimilarityWeight, d.RecencyWeight
	}
	return c
}

// Options narrows one search. Zero values take the engine defaults.
type Options struct {
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	// MaxBFSDepth bounds traversal. Negative disables traversal entirely.
	MaxBFSDepth        int
	IncludeInvalidated bool
	// EntityTypes restricts which entities may seed the traversal.
	EntityTypes    []types.EntityType
	ScoreThreshold float64
	// MinResults triggers threshold relaxation. Negative disables it.
	MinResults int
	LabelIDs   []string
}

// Fact is a returned statement with its ranking details.
type Fact struct {
	Triple     *types.Triple `json:"triple"`
	Score      float64       `json:"score"`
	Similarity float64       `json:"similarity"`
	Depth      int           `json:"depth"`
}

// Result holds one search response.
type Result struct {
	Episodes         []*types.Episode `json:"episodes"`
	Facts            []Fact           `json:"facts"`
	InvalidatedFacts []Fact           `json:"invalidatedFacts"`
	// Threshold is the score threshold that produced the result after relaxation.
	Threshold float64 `json:"threshold"`
}

// Empty returns a result with non-nil, empty slices.
func Empty() *Result {
	return &Result{Episodes: []*types.Episode{}, Facts: []Fact{}, InvalidatedFacts: []Fact{}}
}

// Engine runs searches against a graph reader.
type Engine struct {
	store    driver.GraphReader
	embedder embedder.Client
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a search engine.
func NewEngine(store driver.GraphReader, emb embedder.Client, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: emb,
		cfg:      cfg.normalize(),
		logger:   logger,
		now:      time.Now,
	}
}

// resolved are Options with every default applied.
type resolved struct {
	Options
	threshold  float64
	minResults int
	depth      int
	filter     driver.StatementFilter
}

func (e *Engine) resolve(opts Options) resolved {
	r := resolved{Options: opts}
	if r.Limit <= 0 {
		r.Limit = e.cfg.Limit
	}
	r.depth = opts.MaxBFSDepth
	switch {
	case r.depth == 0:
		r.depth = e.cfg.MaxBFSDepth
	case r.depth < 0:
		r.depth = 0
	}
	r.threshold = opts.ScoreThreshold
	if r.threshold <= 0 {
		r.threshold = e.cfg.ScoreThreshold
	}
	r.minResults = opts.MinResults
	if r.minResults == 0 {
		r.minResults = e.cfg.MinResults
	}
	if r.minResults > r.Limit {
		r.minResults = r.Limit
	}
	r.filter = driver.StatementFilter{
		StartTime:          opts.StartTime,
		EndTime:            opts.EndTime,
		LabelIDs:           opts.LabelIDs,
		IncludeInvalidated: opts.IncludeInvalidated,
	}
	return r
}

// Search runs a bounded retrieval for query within tenant. Failures of the
// embedder or the store are returned as *types.SearchError.
func (e *Engine) Search(ctx context.Context, query string, tenant types.Tenant, opts Options) (*Result, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	if !opts.StartTime.IsZero() && !opts.EndTime.IsZero() && opts.EndTime.Before(opts.StartTime) {
		return nil, types.NewValidationError("endTime", "must not precede startTime")
	}
	if strings.TrimSpace(query) == "" {
		return Empty(), nil
	}
	r := e.resolve(opts)

	vec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, &types.SearchError{Stage: "embed", Err: err}
	}

	var entities []driver.ScoredEntity
	var statements []driver.ScoredStatement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = e.store.ScoreEntities(gctx, tenant, vec, opts.EntityTypes)
		return err
	})
	g.Go(func() error {
		var err error
		statements, err = e.store.ScoreStatements(gctx, tenant, vec, r.filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &types.SearchError{Stage: "seed", Err: err}
	}
	entities = e.ownEntities(tenant, entities)
	statements = e.ownStatements(tenant, statements)

	t := &traversal{engine: e, tenant: tenant, opts: r, query: vec, adjacent: map[string][]*types.Triple{}}

	threshold := r.threshold
	lastSeeds := -1
	var res *Result
	for {
		seedEntities, seedStatements := seedsAbove(entities, statements, threshold)
		if n := len(seedEntities) + len(seedStatements); n != lastSeeds {
			lastSeeds = n
			candidates, err := t.collect(ctx, seedEntities, seedStatements)
			if err != nil {
				return nil, &types.SearchError{Stage: "traverse", Err: err}
			}
			res = e.rank(candidates, r)
			if r.minResults < 0 || len(res.Facts)+len(res.InvalidatedFacts) >= r.minResults {
				res.Threshold = threshold
				break
			}
		}
		res.Threshold = threshold
		if threshold <= 0 {
			break
		}
		threshold = math.Max(0, roundThreshold(threshold-e.cfg.RelaxStep))
	}

	if err := e.attachEpisodes(ctx, tenant, res, r.Limit); err != nil {
		return nil, &types.SearchError{Stage: "episodes", Err: err}
	}
	e.logger.Debug("search completed",
		"workspace_id", tenant.WorkspaceID,
		"facts", len(res.Facts),
		"invalidated", len(res.InvalidatedFacts),
		"episodes", len(res.Episodes),
		"threshold", res.Threshold)
	return res, nil
}

// roundThreshold removes floating point drift from repeated subtraction.
func roundThreshold(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func seedsAbove(entities []driver.ScoredEntity, statements []driver.ScoredStatement, threshold float64) ([]driver.ScoredEntity, []driver.ScoredStatement) {
	var se []driver.ScoredEntity
	for _, e := range entities {
		if e.Score >= threshold {
			se = append(se, e)
		}
	}
	var ss []driver.ScoredStatement
	for _, s := range statements {
		if s.Score >= threshold {
			ss = append(ss, s)
		}
	}
	return se, ss
}

func (e *Engine) ownEntities(tenant types.Tenant, in []driver.ScoredEntity) []driver.ScoredEntity {
	out := in[:0]
	for _, s := range in {
		if !tenant.Owns(s.Entity.UserID, s.Entity.WorkspaceID) {
			e.logger.Warn("dropping entity from another tenant", "entity_uuid", s.Entity.UUID, "workspace_id", tenant.WorkspaceID)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) ownStatements(tenant types.Tenant, in []driver.ScoredStatement) []driver.ScoredStatement {
	out := in[:0]
	for _, s := range in {
		if !e.owned(tenant, s.Triple) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// owned re-checks that every node of a triple belongs to tenant.
func (e *Engine) owned(tenant types.Tenant, t *types.Triple) bool {
	if t == nil {
		return false
	}
	ok := tenant.Owns(t.Statement.UserID, t.Statement.WorkspaceID) &&
		tenant.Owns(t.Subject.UserID, t.Subject.WorkspaceID) &&
		tenant.Owns(t.Predicate.UserID, t.Predicate.WorkspaceID) &&
		tenant.Owns(t.Object.UserID, t.Object.WorkspaceID)
	if !ok {
		e.logger.Warn("dropping statement from another tenant", "statement_uuid", t.Statement.UUID, "workspace_id", tenant.WorkspaceID)
	}
	return ok
}

func (e *Engine) attachEpisodes(ctx context.Context, tenant types.Tenant, res *Result, limit int) error {
	best := map[string]float64{}
	var ids []string
	for _, list := range [][]Fact{res.Facts, res.InvalidatedFacts} {
		for _, f := range list {
			ids = append(ids, f.Triple.Statement.UUID)
			for _, ep := range f.Triple.EpisodeUUIDs {
				if s, ok := best[ep]; !ok || f.Score > s {
					best[ep] = f.Score
				}
			}
		}
	}
	res.Episodes = []*types.Episode{}
	if len(ids) == 0 {
		return nil
	}

	episodes, err := e.store.EpisodesForStatements(ctx, tenant, ids)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		if !tenant.Owns(ep.UserID, ep.WorkspaceID) {
			e.logger.Warn("dropping episode from another tenant", "episode_uuid", ep.UUID, "workspace_id", tenant.WorkspaceID)
			continue
		}
		res.Episodes = append(res.Episodes, ep)
	}
	sort.SliceStable(res.Episodes, func(i, j int) bool {
		a, b := res.Episodes[i], res.Episodes[j]
		if best[a.UUID] != best[b.UUID] {
			return best[a.UUID] > best[b.UUID]
		}
		return a.ValidAt.After(b.ValidAt)
	})
	if len(res.Episodes) > limit {
		res.Episodes = res.Episodes[:limit]
	}
	return nil
}
