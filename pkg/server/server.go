package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/server/handlers"
	"github.com/soundprediction/recall/pkg/types"
)

// Server represents the HTTP server
type Server struct {
	config *config.Config
	router *gin.Engine
	client recall.Recall
	server *http.Server
	logger *slog.Logger
}

// New creates a new server instance
func New(cfg *config.Config, client recall.Recall, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}

	s.router = gin.New()

	s.router.Use(requestLogger(s.logger))
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware(s.config.Server.CORSOrigins))
	s.router.Use(contextMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	ingestHandler := handlers.NewIngestHandler(s.client, s.logger)
	retrieveHandler := handlers.NewRetrieveHandler(s.client)
	spaceHandler := handlers.NewSpaceHandler(s.client)
	sessionHandler := handlers.NewSessionHandler(s.client)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/healthcheck", healthHandler.HealthCheck) // Legacy endpoint
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck) // Kubernetes liveness
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	v1 := s.router.Group("/api/v1")
	v1.Use(handlers.RequireTenant())
	{
		ingest := v1.Group("/ingest")
		{
			ingest.POST("", ingestHandler.Ingest)
			ingest.GET("/:id", ingestHandler.Status)
			ingest.POST("/:id/retry", ingestHandler.Retry)
			ingest.GET("/:id/ws", ingestHandler.Stream)
		}

		v1.POST("/search", retrieveHandler.Search)
		v1.GET("/episode/:uuid", retrieveHandler.GetEpisode)
		v1.DELETE("/episode/:uuid", retrieveHandler.DeleteEpisode)

		spaces := v1.Group("/spaces")
		{
			spaces.POST("", spaceHandler.CreateSpace)
			spaces.GET("", spaceHandler.ListSpaces)
			spaces.PUT("/assignments", spaceHandler.UpdateAssignments)
			spaces.POST("/:id/synthesize", spaceHandler.SynthesizeSpace)
		}
		v1.POST("/persona/synthesize", spaceHandler.SynthesizePersona)
		v1.GET("/jobs/:id", spaceHandler.JobStatus)
		v1.DELETE("/jobs/:id", spaceHandler.CancelJob)

		v1.POST("/sessions/:id/compact", sessionHandler.Compact)
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

// requestLogger replaces gin.Logger with structured request logs.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"workspace_id", c.GetHeader("X-Workspace-ID"))
	}
}

// corsMiddleware adds CORS headers. An empty origin list allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "*"
		if len(origins) > 0 && !slices.Contains(origins, "*") {
			origin = ""
			if o := c.GetHeader("Origin"); slices.Contains(origins, o) {
				origin = o
				c.Header("Vary", "Origin")
			}
		}
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "accept", "origin",
			"Cache-Control", "X-Requested-With", "X-User-ID", "X-Workspace-ID", "X-Session-ID",
		}, ", "))
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// contextMiddleware extracts context information from headers
func contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx = context.WithValue(ctx, types.ContextKeyUserID, userID)
		}
		if workspaceID := c.GetHeader("X-Workspace-ID"); workspaceID != "" {
			ctx = context.WithValue(ctx, types.ContextKeyWorkspaceID, workspaceID)
		}
		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			ctx = context.WithValue(ctx, types.ContextKeySessionID, sessionID)
		}

		ctx = context.WithValue(ctx, types.ContextKeyRequestSource, "server")

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
