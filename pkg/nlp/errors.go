package nlp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Sentinels matched by ProviderError through errors.Is.
var (
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrRefusal       = errors.New("model refused the prompt")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindAPI is any other HTTP failure; Temporary decides on the status.
	KindAPI Kind = iota
	KindRateLimited
	KindRefused
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindRefused:
		return "refused"
	case KindEmpty:
		return "empty"
	default:
		return "api"
	}
}

// ProviderError is a failed call to a completion or embedding provider.
type ProviderError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.sentinel().Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.StatusCode)
	}
	return e.Op + ": " + msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	s := e.sentinel()
	return s != nil && target == s
}

func (e *ProviderError) sentinel() error {
	switch e.Kind {
	case KindRateLimited:
		return ErrRateLimit
	case KindRefused:
		return ErrRefusal
	case KindEmpty:
		return ErrEmptyResponse
	}
	return nil
}

// HTTPStatusCode exposes the status to the retry policy.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// Temporary reports whether repeating the call may succeed.
func (e *ProviderError) Temporary() bool {
	switch e.Kind {
	case KindRateLimited:
		return true
	case KindAPI:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// Classify maps a go-openai failure onto a ProviderError. Errors that carry
// no HTTP status are wrapped with op only.
func Classify(op string, err error) error {
	var (
		status int
		msg    string
	)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status, msg = reqErr.HTTPStatusCode, reqErr.Error()
	default:
		return fmt.Errorf("%s failed: %w", op, err)
	}

	kind := KindAPI
	if status == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &ProviderError{Kind: kind, Op: op, StatusCode: status, Message: msg, Err: err}
}
