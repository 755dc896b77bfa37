package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/recall/pkg/nlp"
)

// OpenAIEmbedder implements Client against the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  Config
	retry   *nlp.RetryConfig
	breaker *nlp.Breaker
	logger  *slog.Logger
}

// Option customizes an OpenAIEmbedder.
type Option func(*OpenAIEmbedder)

// WithRetry retries transient failures with cfg.
func WithRetry(cfg *nlp.RetryConfig) Option {
	return func(e *OpenAIEmbedder) { e.retry = cfg }
}

// WithBreaker routes every request through b.
func WithBreaker(b *nlp.Breaker) Option {
	return func(e *OpenAIEmbedder) { e.breaker = b }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *OpenAIEmbedder) { e.logger = l }
}

// NewOpenAIEmbedder creates an embedder. BaseURL selects an OpenAI-compatible service.
func NewOpenAIEmbedder(apiKey string, config Config, opts ...Option) (*OpenAIEmbedder, error) {
	clientConfig, err := nlp.NewOpenAIConfig(apiKey, config.BaseURL)
	if err != nil {
		return nil, err
	}
	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: config.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed embeds texts in batches of Config.BatchSize.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := func(ctx context.Context) ([][]float32, error) {
		return nlp.Run(e.breaker, func() ([][]float32, error) {
			return e.request(ctx, texts)
		})
	}
	if e.retry == nil {
		return call(ctx)
	}
	return nlp.Retry(ctx, e.retry, e.logger, "embed", call)
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if e.config.Dimensions != DefaultDimensions {
		req.Dimensions = e.config.Dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, nlp.Classify("create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, e, text)
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}
