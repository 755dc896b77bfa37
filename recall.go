package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/soundprediction/recall/pkg/alert"
	"github.com/soundprediction/recall/pkg/checkpoint"
	"github.com/soundprediction/recall/pkg/compaction"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/extract"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/quota"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

// Config holds the tuning and the optional collaborators of a Client.
type Config struct {
	Search     search.Config
	Ingest     ingest.Options
	Persona    persona.Options
	Compaction compaction.Options

	// Queue is required. The caller keeps ownership of it.
	Queue ingest.Queue
	// Quota defaults to unlimited credits.
	Quota       quota.Gate
	Checkpoints *checkpoint.Manager
	Alerter     alert.Alerter
}

// Client is the main implementation of the Recall interface.
type Client struct {
	store      driver.GraphStore
	llm        nlp.Completer
	embedder   embedder.Client
	ingest     *ingest.Orchestrator
	search     *search.Engine
	jobs       *persona.JobManager
	classifier *persona.Classifier
	compactor  *compaction.Compactor
	config     *Config
	logger     *slog.Logger

	// closers release resources built by NewFromConfig, in reverse order.
	closers []func() error
}

// NewClient creates a Client over store. llm drives extraction, synthesis
// and compaction; emb embeds episodes, statements, entities and queries.
func NewClient(store driver.GraphStore, llm nlp.Completer, emb embedder.Client, config *Config, logger *slog.Logger) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	orchestrator, err := ingest.New(ingest.Deps{
		Queue:       config.Queue,
		Store:       store,
		Extractor:   extract.New(llm, logger),
		Embedder:    emb,
		Quota:       config.Quota,
		Checkpoints: config.Checkpoints,
		Alerter:     config.Alerter,
		Logger:      logger,
	}, config.Ingest)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion orchestrator: %w", err)
	}

	synth := persona.NewSynthesizer(store, llm, config.Persona, logger)
	return &Client{
		store:      store,
		llm:        llm,
		embedder:   emb,
		ingest:     orchestrator,
		search:     search.NewEngine(store, emb, config.Search, logger),
		jobs:       persona.NewJobManager(synth, logger),
		classifier: persona.NewClassifier(store, llm, logger),
		compactor:  compaction.New(store, llm, config.Compaction, logger),
		config:     config,
		logger:     logger,
	}, nil
}

// Store returns the underlying graph store.
func (c *Client) Store() driver.GraphStore {
	return c.store
}

// Orchestrator returns the ingestion orchestrator, for callers that drain the
// queue synchronously with RunOnce.
func (c *Client) Orchestrator() *ingest.Orchestrator {
	return c.ingest
}

// Ingest implements IngestManager.
func (c *Client) Ingest(ctx context.Context, tenant types.Tenant, in ingest.Input, id string) (*ingest.Item, error) {
	return c.ingest.Enqueue(ctx, tenant, in, id)
}

// GetIngestItem implements IngestManager.
func (c *Client) GetIngestItem(ctx context.Context, tenant types.Tenant, id string) (*ingest.Item, error) {
	return c.ingest.Get(ctx, tenant, id)
}

// RetryIngest implements IngestManager.
func (c *Client) RetryIngest(ctx context.Context, tenant types.Tenant, id string) (*ingest.Item, error) {
	return c.ingest.Requeue(ctx, tenant, id)
}

// SubscribeIngest implements IngestManager.
func (c *Client) SubscribeIngest(id string) (<-chan ingest.Event, func()) {
	return c.ingest.Broker().Subscribe(id)
}

// Search implements GraphQuerier.
func (c *Client) Search(ctx context.Context, tenant types.Tenant, query string, opts search.Options) (*search.Result, error) {
	res, err := c.search.Search(ctx, query, tenant, opts)
	if err != nil {
		if errors.Is(err, types.ErrSearch) {
			c.logger.Warn("search failed, returning empty result",
				"workspace_id", tenant.WorkspaceID,
				"error", err)
			return search.Empty(), nil
		}
		return nil, err
	}
	return res, nil
}

// GetEpisode implements GraphQuerier.
func (c *Client) GetEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*types.Episode, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	return c.store.GetEpisode(ctx, tenant, uuid)
}

// DeleteEpisode implements GraphMutator.
func (c *Client) DeleteEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*driver.DeleteResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	if uuid == "" {
		return nil, types.NewValidationError("uuid", "is required")
	}

	var res *driver.DeleteResult
	err := c.store.ExecuteWrite(ctx, func(tx driver.GraphTx) error {
		var err error
		res, err = tx.DeleteEpisode(ctx, tenant, uuid)
		return err
	})
	if err != nil {
		if errors.Is(err, driver.ErrEpisodeNotFound) {
			return nil, err
		}
		return nil, &types.GraphWriteError{Op: "delete_episode", Err: err}
	}
	c.logger.Info("deleted episode",
		"episode_uuid", uuid,
		"statements_deleted", res.StatementsDeleted,
		"entities_deleted", res.EntitiesDeleted)
	return res, nil
}

// CreateSpace implements SpaceManager.
func (c *Client) CreateSpace(ctx context.Context, tenant types.Tenant, name, description string) (*types.Space, error) {
	return persona.CreateSpace(ctx, c.store, tenant, name, description)
}

// ListSpaces implements SpaceManager.
func (c *Client) ListSpaces(ctx context.Context, tenant types.Tenant) ([]*types.Space, error) {
	if err := tenant.Validate(); err != nil {
		return nil, types.NewValidationError("tenant", err.Error())
	}
	return c.store.ListSpaces(ctx, tenant, "")
}

// UpdateAssignments implements SpaceManager.
func (c *Client) UpdateAssignments(ctx context.Context, tenant types.Tenant, intent persona.Intent, spaceID string, statementIDs []string) (int, error) {
	return persona.ApplyIntent(ctx, c.store, c.classifier, tenant, intent, spaceID, statementIDs)
}

// StartSynthesis implements SpaceManager.
func (c *Client) StartSynthesis(tenant types.Tenant, spaceID string, mode persona.Mode) (string, error) {
	return c.jobs.Start(persona.Request{Tenant: tenant, SpaceID: spaceID, Mode: mode})
}

// JobStatus implements SpaceManager.
func (c *Client) JobStatus(tenant types.Tenant, jobID string) (*persona.Job, error) {
	return c.jobs.Status(tenant, jobID)
}

// CancelJob implements SpaceManager.
func (c *Client) CancelJob(tenant types.Tenant, jobID string) error {
	return c.jobs.Cancel(tenant, jobID)
}

// WaitJob blocks until the job leaves the running state or ctx is done.
func (c *Client) WaitJob(ctx context.Context, tenant types.Tenant, jobID string) (*persona.Job, error) {
	return c.jobs.Wait(ctx, tenant, jobID)
}

// Compact implements SessionManager.
func (c *Client) Compact(ctx context.Context, tenant types.Tenant, sessionID string, window compaction.Window) (*types.CompactedSession, error) {
	return c.compactor.Compact(ctx, tenant, sessionID, window)
}

// CreateIndices implements GraphAdmin.
func (c *Client) CreateIndices(ctx context.Context) error {
	return c.store.CreateIndices(ctx)
}

// Start implements GraphAdmin.
func (c *Client) Start(ctx context.Context) error {
	return c.ingest.Start(ctx)
}

// Stop implements GraphAdmin.
func (c *Client) Stop() {
	c.ingest.Stop()
}

// Close implements GraphAdmin. Items still PROCESSING are picked up again by
// the next Start.
func (c *Client) Close(ctx context.Context) error {
	c.ingest.Stop()
	c.jobs.Close()

	var errs []error
	if err := c.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close graph store: %w", err))
	}
	for _, closeFn := range slices.Backward(c.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
