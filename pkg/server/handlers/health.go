package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

const serviceName = "recall"

// healthTenant owns no data; reads against it only exercise the backend.
var healthTenant = types.Tenant{UserID: "health-check", WorkspaceID: "health-check"}

// depCheck is one dependency check. expected reports errors that still prove
// the dependency answered.
type depCheck struct {
	name      string
	operation string
	run       func(ctx context.Context, client recall.Recall) error
	expected  func(err error) bool
}

var (
	storeCheck = depCheck{
		name:      "database",
		operation: "GetEpisode",
		run: func(ctx context.Context, client recall.Recall) error {
			_, err := client.GetEpisode(ctx, healthTenant, "health-check-missing-episode")
			return err
		},
		expected: func(err error) bool { return errors.Is(err, driver.ErrEpisodeNotFound) },
	}
	indexCheck = depCheck{
		name:      "database_indices",
		operation: "CreateIndices",
		run: func(ctx context.Context, client recall.Recall) error {
			return client.CreateIndices(ctx)
		},
	}
	searchCheck = depCheck{
		name:      "search",
		operation: "Search",
		run: func(ctx context.Context, client recall.Recall) error {
			_, err := client.Search(ctx, healthTenant, "health-check", search.Options{MinResults: -1})
			return err
		},
	}
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status     string `json:"status"`
	Operation  string `json:"operation,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	client  recall.Recall
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(client recall.Recall) *HealthHandler {
	return &HealthHandler{client: client, started: time.Now()}
}

// runChecks executes checks in order and reports whether all passed.
func (h *HealthHandler) runChecks(ctx context.Context, checks ...depCheck) (map[string]CheckResult, bool) {
	results := make(map[string]CheckResult, len(checks))
	if h.client == nil {
		results["database"] = CheckResult{Status: "unhealthy", Error: "recall client not initialized"}
		return results, false
	}

	healthy := true
	for _, p := range checks {
		start := time.Now()
		err := p.run(ctx, h.client)
		res := CheckResult{Status: "healthy", Operation: p.operation, DurationMs: time.Since(start).Milliseconds()}
		switch {
		case err == nil || (p.expected != nil && p.expected(err)):
		case ctx.Err() != nil:
			res.Status, res.Error = "unhealthy", "timeout"
		default:
			res.Status, res.Error = "unhealthy", err.Error()
		}
		if res.Status != "healthy" {
			healthy = false
		}
		results[p.name] = res
	}
	return results, healthy
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live - Kubernetes liveness endpoint
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadinessCheck handles GET /ready. The graph store must answer before
// traffic is routed here.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx, storeCheck, indexCheck)
	status, code := "ready", http.StatusOK
	if !healthy {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"checks":    checks,
	})
}

// DetailedHealthCheck handles GET /health/detailed
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	start := time.Now()
	checks, healthy := h.runChecks(ctx, storeCheck, indexCheck, searchCheck)
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": serviceName,
		"version": Version,
		"build_info": gin.H{
			"git_commit": GitCommit,
			"build_time": BuildTime,
			"go_version": GoVersion,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"checks":    checks,
		"system":    h.getSystemMetrics(),
		"metrics": gin.H{
			"response_time_ms": time.Since(start).Milliseconds(),
		},
	})
}

// SystemMetrics holds system runtime metrics
type SystemMetrics struct {
	MemoryUsage string `json:"memory_usage"`
	Goroutines  int    `json:"goroutines"`
	GCCycles    uint32 `json:"gc_cycles"`
	HeapObjects uint64 `json:"heap_objects"`
	StackUsage  string `json:"stack_usage"`
}

func (h *HealthHandler) getSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemMetrics{
		MemoryUsage: fmt.Sprintf("%.2f MB", float64(m.Alloc)/(1024*1024)),
		Goroutines:  runtime.NumGoroutine(),
		GCCycles:    m.NumGC,
		HeapObjects: m.HeapObjects,
		StackUsage:  fmt.Sprintf("%.2f MB", float64(m.StackSys)/(1024*1024)),
	}
}
