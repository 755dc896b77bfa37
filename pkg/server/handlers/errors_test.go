package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/server/dto"
	"github.com/soundprediction/recall/pkg/types"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", types.NewValidationError("query", "is required"), http.StatusBadRequest, dto.CodeValidation},
		{"quota", &types.QuotaError{Required: 3, Available: 1}, http.StatusPaymentRequired, dto.CodeQuota},
		{"missing item", ingest.ErrItemNotFound, http.StatusNotFound, dto.CodeNotFound},
		{"wrapped missing episode", fmt.Errorf("lookup: %w", driver.ErrEpisodeNotFound), http.StatusNotFound, dto.CodeNotFound},
		{"missing job", persona.ErrJobNotFound, http.StatusNotFound, dto.CodeNotFound},
		{"active item", ingest.ErrItemActive, http.StatusConflict, dto.CodeConflict},
		{"finished job", persona.ErrJobFinished, http.StatusConflict, dto.CodeConflict},
		{"graph write", &types.GraphWriteError{Op: "delete_episode", Err: errors.New("boom")}, http.StatusInternalServerError, dto.CodeInternal},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("neo4j: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.CodeInternal, resp.Code)
	assert.Empty(t, resp.Message)
}

func TestRequireTenant(t *testing.T) {
	router := gin.New()
	router.GET("/whoami", RequireTenant(), func(c *gin.Context) {
		c.JSON(http.StatusOK, TenantFrom(c))
	})

	tests := []struct {
		name      string
		user      string
		workspace string
		status    int
	}{
		{"both headers", "alice", "w1", http.StatusOK},
		{"missing workspace", "alice", "", http.StatusBadRequest},
		{"missing user", "", "w1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			if tt.workspace != "" {
				req.Header.Set("X-Workspace-ID", tt.workspace)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				var tenant types.Tenant
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenant))
				assert.Equal(t, types.Tenant{UserID: tt.user, WorkspaceID: tt.workspace}, tenant)
				return
			}
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, dto.CodeValidation, resp.Code)
		})
	}
}
