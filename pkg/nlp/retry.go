package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/soundprediction/recall/pkg/config"
)

// RetryConfig is an exponential backoff policy. Attempt n waits
// InitialDelay * BackoffMultiplier^(n-1), capped at MaxDelay.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig retries three times starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}
}

// RetryConfigFrom converts the file configuration.
func RetryConfigFrom(c config.RetryConfig) *RetryConfig {
	return (&RetryConfig{
		MaxRetries:        c.MaxRetries,
		InitialDelay:      time.Duration(c.InitialDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: c.BackoffMultiplier,
	}).normalize()
}

// normalize replaces unset fields with the defaults.
func (c *RetryConfig) normalize() *RetryConfig {
	def := DefaultRetryConfig()
	if c == nil {
		return def
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

func (c *RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.BackoffMultiplier
	}
	return min(time.Duration(d), c.MaxDelay)
}

// Retry calls fn until it succeeds, fails permanently or runs out of retries.
func Retry[T any](ctx context.Context, cfg *RetryConfig, logger *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for attempt := 1; err != nil && attempt <= cfg.MaxRetries; attempt++ {
		if !isRetryableError(err) {
			return zero, err
		}
		wait := cfg.delay(attempt)
		if logger != nil {
			logger.Warn("retrying remote call", "op", op, "attempt", attempt, "delay", wait, "error", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s cancelled during retry backoff: %w", op, ctx.Err())
		}
		result, err = fn(ctx)
	}
	if err != nil {
		if !isRetryableError(err) {
			return zero, err
		}
		return zero, fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, err)
	}
	return result, nil
}

// RetryClient wraps a Completer with Retry.
type RetryClient struct {
	client Completer
	config *RetryConfig
	logger *slog.Logger
}

// NewRetryClient creates a new retry client wrapper
func NewRetryClient(client Completer, config *RetryConfig, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{client: client, config: config.normalize(), logger: logger}
}

// Complete implements Completer with retry logic
func (r *RetryClient) Complete(ctx context.Context, prompt string) (string, error) {
	return Retry(ctx, r.config, r.logger, "complete", func(ctx context.Context) (string, error) {
		return r.client.Complete(ctx, prompt)
	})
}

// transientMarkers are matched against errors that carry no status.
var transientMarkers = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"internal server error",
}

func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		code := withStatus.HTTPStatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
