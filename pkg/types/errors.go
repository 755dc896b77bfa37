package types

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is(err, ErrQuota) and friends to classify failures.
var (
	ErrValidation = errors.New("validation error")
	ErrQuota      = errors.New("insufficient credits")
	ErrExtraction = errors.New("extraction error")
	ErrGraphWrite = errors.New("graph write error")
	ErrSearch     = errors.New("search error")
)

// MaxExcerptLength bounds the raw-response excerpt kept on extraction failures.
const MaxExcerptLength = 500

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is support for ValidationError.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new validation error for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// QuotaError reports that a tenant cannot pay for the requested work.
type QuotaError struct {
	Tenant    Tenant
	Required  int64
	Available int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("insufficient credits for workspace %s: required %d, available %d",
		e.Tenant.WorkspaceID, e.Required, e.Available)
}

// Is implements errors.Is support for QuotaError.
func (e *QuotaError) Is(target error) bool {
	if target == ErrQuota {
		return true
	}
	_, ok := target.(*QuotaError)
	return ok
}

// ExtractionError wraps unparseable extraction output together with an excerpt of it.
type ExtractionError struct {
	Excerpt string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to parse extraction output: %q", e.Excerpt)
	}
	return fmt.Sprintf("failed to parse extraction output: %v (excerpt: %q)", e.Err, e.Excerpt)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is implements errors.Is support for ExtractionError.
func (e *ExtractionError) Is(target error) bool {
	if target == ErrExtraction {
		return true
	}
	_, ok := target.(*ExtractionError)
	return ok
}

// NewExtractionError truncates raw to MaxExcerptLength runes.
func NewExtractionError(raw string, err error) *ExtractionError {
	return &ExtractionError{Excerpt: Excerpt(raw, MaxExcerptLength), Err: err}
}

// GraphWriteError reports a rolled-back graph transaction.
type GraphWriteError struct {
	Op  string
	Err error
}

func (e *GraphWriteError) Error() string {
	return fmt.Sprintf("graph write %s failed: %v", e.Op, e.Err)
}

func (e *GraphWriteError) Unwrap() error { return e.Err }

// Is implements errors.Is support for GraphWriteError.
func (e *GraphWriteError) Is(target error) bool {
	if target == ErrGraphWrite {
		return true
	}
	_, ok := target.(*GraphWriteError)
	return ok
}

// SearchError is logged and swallowed by callers that must not fail on search.
type SearchError struct {
	Stage string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed during %s: %v", e.Stage, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Is implements errors.Is support for SearchError.
func (e *SearchError) Is(target error) bool {
	if target == ErrSearch {
		return true
	}
	_, ok := target.(*SearchError)
	return ok
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
