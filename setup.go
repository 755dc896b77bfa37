package recall

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/soundprediction/recall/pkg/alert"
	"github.com/soundprediction/recall/pkg/checkpoint"
	"github.com/soundprediction/recall/pkg/compaction"
	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/nlp"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/quota"
	"github.com/soundprediction/recall/pkg/search"
)

// fallbackDimensions sizes the offline hashing embedder.
const fallbackDimensions = 256

// NewFromConfig builds a Client and every collaborator it needs from cfg.
// The returned client owns them and releases them on Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (client *Client, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	alerter := alert.NewLogAlerter(alert.New(cfg.Alert), logger)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	// The client closes the store itself; this only covers failures below.
	closers = append(closers, func() error { return store.Close(context.Background()) })

	llm, err := newCompleter(cfg, alerter, logger)
	if err != nil {
		return nil, err
	}

	emb, closeEmb, err := newEmbedder(cfg, alerter, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeEmb)

	queue, err := ingest.OpenSQLiteQueue(cfg.Ingest.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ingestion queue: %w", err)
	}
	closers = append(closers, queue.Close)

	checkpoints, err := checkpoint.NewManager(filepath.Join(filepath.Dir(cfg.Ingest.QueuePath), "checkpoints"))
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	var gate quota.Gate = quota.Unlimited{}
	if cfg.Quota.Enabled {
		ledger, err := quota.Open(cfg.Quota.Path, cfg.Quota.DefaultCredits, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open credits ledger: %w", err)
		}
		closers = append(closers, ledger.Close)
		gate = ledger
	}

	client, err = NewClient(store, llm, emb, &Config{
		Search:      search.ConfigFrom(cfg.Search),
		Ingest:      ingest.OptionsFrom(cfg.Ingest),
		Persona:     persona.OptionsFrom(cfg.Persona),
		Compaction:  compaction.OptionsFrom(cfg.Compaction),
		Queue:       queue,
		Quota:       gate,
		Checkpoints: checkpoints,
		Alerter:     alerter,
	}, logger)
	if err != nil {
		return nil, err
	}
	client.closers = closers[1:]

	logger.Info("recall initialized",
		"database", cfg.Database.Driver,
		"llm_model", cfg.LLM.Model,
		"embedding_model", cfg.Embedding.Model,
		"quota", cfg.Quota.Enabled)
	return client, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driver.GraphStore, error) {
	opts := driver.Options{EntityMergeThreshold: cfg.Graph.EntityMergeThreshold}
	switch cfg.Database.Driver {
	case "memory":
		return driver.NewMemoryStore(opts, logger), nil
	case "neo4j":
		store, err := driver.NewNeo4jStore(ctx, cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// newCompleter wraps the OpenAI client with retries inside a circuit breaker.
func newCompleter(cfg *config.Config, alerter alert.Alerter, logger *slog.Logger) (nlp.Completer, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required (set OPENAI_API_KEY or llm.api_key)")
	}
	temperature := cfg.LLM.Temperature
	maxTokens := cfg.LLM.MaxTokens
	base, err := nlp.NewOpenAIClient(cfg.LLM.APIKey, nlp.Config{
		Model:       cfg.LLM.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	retrying := nlp.NewRetryClient(base, nlp.RetryConfigFrom(cfg.Retry), logger)
	return nlp.NewCircuitBreakerClient(retrying, cfg.CircuitBreaker, alerter, "llm", logger), nil
}

// newEmbedder returns the OpenAI embedder behind a cache, or the hashing
// embedder when no key is configured.
func newEmbedder(cfg *config.Config, alerter alert.Alerter, logger *slog.Logger) (embedder.Client, func() error, error) {
	noop := func() error { return nil }
	if cfg.Embedding.APIKey == "" {
		dims := cfg.Embedding.Dimensions
		if dims <= 0 {
			dims = fallbackDimensions
		}
		logger.Warn("no embedding api key configured, using hashing embedder", "dimensions", dims)
		return embedder.NewHashingEmbedder(dims), noop, nil
	}

	base, err := embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	},
		embedder.WithRetry(nlp.RetryConfigFrom(cfg.Retry)),
		embedder.WithBreaker(nlp.NewBreaker(cfg.CircuitBreaker, alerter, "embedding", logger)),
		embedder.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if cfg.Embedding.CacheSize <= 0 {
		return base, noop, nil
	}
	cached, err := embedder.NewCachedEmbedder(base, cfg.Embedding.CacheSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return cached, func() error { cached.Close(); return nil }, nil
}
