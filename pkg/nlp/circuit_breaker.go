package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/recall/pkg/alert"
	"github.com/soundprediction/recall/pkg/config"
)

// Breaker is a named gobreaker circuit that raises an alert when it opens.
// A disabled breaker passes every call through.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// NewBreaker creates a breaker from configuration.
func NewBreaker(cfg config.CircuitBreakerConfig, alerter alert.Alerter, name string, logger *slog.Logger) *Breaker {
	if !cfg.Enabled {
		return &Breaker{name: name}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ratio := cfg.ReadyToTripRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= ratio
		},
		// The caller giving up is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && alerter != nil {
				msg := fmt.Sprintf("Circuit breaker '%s' changed status from %s to %s. Too many failures detected.", name, from, to)
				if err := alerter.Alert(fmt.Sprintf("URGENT: Circuit Breaker Tripped - %s", name), msg); err != nil {
					logger.Error("failed to send breaker alert", "breaker", name, "error", err)
				}
			}
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(st), name: name}
}

// State reports the breaker state. A disabled breaker is always closed.
func (b *Breaker) State() gobreaker.State {
	if b == nil || b.cb == nil {
		return gobreaker.StateClosed
	}
	return b.cb.State()
}

// Run executes fn through the breaker.
func Run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// CircuitBreakerClient wraps a Completer with circuit breaking logic
type CircuitBreakerClient struct {
	client  Completer
	breaker *Breaker
}

// NewCircuitBreakerClient creates a new circuit breaker client
func NewCircuitBreakerClient(client Completer, cfg config.CircuitBreakerConfig, alerter alert.Alerter, name string, logger *slog.Logger) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client:  client,
		breaker: NewBreaker(cfg, alerter, name, logger),
	}
}

// Complete implements Completer
func (c *CircuitBreakerClient) Complete(ctx context.Context, prompt string) (string, error) {
	return Run(c.breaker, func() (string, error) {
		return c.client.Complete(ctx, prompt)
	})
}

// State reports the state of the underlying breaker.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
