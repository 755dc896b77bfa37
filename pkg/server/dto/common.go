// Package dto holds the request and response bodies of the HTTP API.
package dto

import (
	"time"

	"github.com/soundprediction/recall/pkg/types"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeQuota      = "QUOTA_EXCEEDED"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL_ERROR"
)

// MaxFieldLengths defines maximum lengths for fields to prevent abuse
const (
	MaxNameLength        = 256
	MaxDescriptionLength = 4096
	MaxContentLength     = 1024 * 1024 // 1MB
	MaxQueryLength       = 4096
	MaxIDsCount          = 1000
	MaxLabelCount        = 100
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code"`
}

func checkWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return types.NewValidationError("endTime", "must not be before startTime")
	}
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
