package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/server/dto"
	"github.com/soundprediction/recall/pkg/types"
)

const tenantKey = "tenant"

var notFound = []error{
	ingest.ErrItemNotFound,
	driver.ErrEpisodeNotFound,
	driver.ErrSpaceNotFound,
	driver.ErrStatementNotFound,
	persona.ErrJobNotFound,
}

var conflicts = []error{
	ingest.ErrItemActive,
	ingest.ErrNotRetryable,
	ingest.ErrNotPending,
	persona.ErrJobFinished,
}

// statusFor maps an error to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest, dto.CodeValidation
	case errors.Is(err, types.ErrQuota):
		return http.StatusPaymentRequired, dto.CodeQuota
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound, dto.CodeNotFound
		}
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			return http.StatusConflict, dto.CodeConflict
		}
	}
	return http.StatusInternalServerError, dto.CodeInternal
}

// writeError aborts the request with the JSON error body for err.
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	resp := dto.ErrorResponse{Error: http.StatusText(status), Code: code}
	if status < http.StatusInternalServerError {
		resp.Message = err.Error()
	} else {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindJSON decodes the request body, reporting decode failures as validation errors.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, types.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// RequireTenant rejects requests that do not carry both tenant headers.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := types.Tenant{
			UserID:      c.GetHeader("X-User-ID"),
			WorkspaceID: c.GetHeader("X-Workspace-ID"),
		}
		if err := tenant.Validate(); err != nil {
			writeError(c, types.NewValidationError("tenant", err.Error()))
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// TenantFrom returns the tenant set by RequireTenant.
func TenantFrom(c *gin.Context) types.Tenant {
	tenant, _ := c.Get(tenantKey)
	t, _ := tenant.(types.Tenant)
	return t
}
