package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// healthClient answers only the calls the health checks make.
type healthClient struct {
	recall.Recall
	episodeErr error
	indexErr   error
	searchErr  error
}

func (p *healthClient) GetEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*types.Episode, error) {
	return nil, p.episodeErr
}

func (p *healthClient) CreateIndices(ctx context.Context) error { return p.indexErr }

func (p *healthClient) Search(ctx context.Context, tenant types.Tenant, query string, opts search.Options) (*search.Result, error) {
	return &search.Result{}, p.searchErr
}

func serve(h gin.HandlerFunc, path string) (int, map[string]any) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	h(c)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func checkStatus(t *testing.T, body map[string]any, name string) string {
	t.Helper()
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok, "checks missing from %v", body)
	check, ok := checks[name].(map[string]any)
	require.True(t, ok, "check %s missing from %v", name, checks)
	return check["status"].(string)
}

func TestHealthAndLiveness(t *testing.T) {
	h := NewHealthHandler(nil)

	code, body := serve(h.HealthCheck, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "recall", body["service"])
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "version")

	code, body = serve(h.LivenessCheck, "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}

func TestReadinessCheck(t *testing.T) {
	tests := []struct {
		name       string
		client     recall.Recall
		wantCode   int
		wantStatus string
		wantStore  string
	}{
		{
			name:       "no client",
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantStore:  "unhealthy",
		},
		{
			name:       "missing health-check episode counts as reachable",
			client:     &healthClient{episodeErr: driver.ErrEpisodeNotFound},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantStore:  "healthy",
		},
		{
			name:       "store failure",
			client:     &healthClient{episodeErr: errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantStore:  "unhealthy",
		},
		{
			name:       "index failure",
			client:     &healthClient{episodeErr: driver.ErrEpisodeNotFound, indexErr: errors.New("read only")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantStore:  "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(NewHealthHandler(tt.client).ReadinessCheck, "/ready")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantStore, checkStatus(t, body, "database"))
		})
	}
}

func TestDetailedHealthCheck(t *testing.T) {
	code, body := serve(NewHealthHandler(nil).DetailedHealthCheck, "/health/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Contains(t, body, "build_info")
	metrics, ok := body["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, metrics, "response_time_ms")

	client := &healthClient{episodeErr: driver.ErrEpisodeNotFound, searchErr: errors.New("embedder down")}
	code, body = serve(NewHealthHandler(client).DetailedHealthCheck, "/health/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "healthy", checkStatus(t, body, "database"))
	assert.Equal(t, "healthy", checkStatus(t, body, "database_indices"))
	assert.Equal(t, "unhealthy", checkStatus(t, body, "search"))

	client.searchErr = nil
	code, body = serve(NewHealthHandler(client).DetailedHealthCheck, "/health/detailed")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestGetSystemMetrics(t *testing.T) {
	m := NewHealthHandler(nil).getSystemMetrics()
	assert.NotEmpty(t, m.MemoryUsage)
	assert.NotEmpty(t, m.StackUsage)
	assert.GreaterOrEqual(t, m.Goroutines, 1)
}
