// Package nlp provides the completion capability used for triple extraction,
// space synthesis and session compaction.
//
// Everything above this package depends on the Completer interface only:
//
//	type Completer interface {
//		Complete(ctx context.Context, prompt string) (string, error)
//	}
//
// # Client Wrappers
//
//   - RetryClient: retry with exponential backoff on rate limits and 5xx errors
//   - CircuitBreakerClient: gobreaker circuit breaker that alerts when it trips
//
// The generic helpers Retry and Breaker.Run apply the same policies to other
// remote calls, such as embedding requests.
//
// # Usage
//
//	base, err := nlp.NewOpenAIClient(apiKey, nlp.Config{Model: "gpt-4o-mini"})
//	completer := nlp.NewCircuitBreakerClient(
//		nlp.NewRetryClient(base, nlp.DefaultRetryConfig(), logger),
//		cfg.CircuitBreaker, alerter, "llm", logger)
//
// # Error Handling
//
// Provider failures surface as *ProviderError. Its Kind decides whether the
// retry policy repeats the call, and errors.Is matches ErrRateLimit,
// ErrRefusal and ErrEmptyResponse for the corresponding kinds.
package nlp
