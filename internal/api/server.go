// Package api exposes the annotation pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/middleware"
	"github.com/variant-interpretation-server/internal/pipeline"
)

const defaultMaxUploadBytes = 64 << 20

// BatchRunner runs annotation batches and answers validity lookups
type BatchRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.BatchResult, error)
	Classify(gene string) string
	LookupValidity(gene string) (domain.GeneDiseaseValidity, bool)
	ReferenceSize() (clinical, validity int)
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	service       BatchRunner
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	startedAt     time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, service BatchRunner, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())

	server := &Server{
		configManager: configManager,
		service:       service,
		logger:        logger,
		router:        router,
		startedAt:     time.Now(),
	}

	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/annotate", s.handleAnnotate)
		v1.GET("/annotate/stream", s.handleAnnotateStream)
		v1.GET("/validity/:gene", s.handleValidity)
	}
}

func (s *Server) maxUploadBytes() int64 {
	if n := s.configManager.GetServerConfig().MaxUploadBytes; n > 0 {
		return n
	}
	return defaultMaxUploadBytes
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	clinical, validity := s.service.ReferenceSize()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now(),
		"uptime":         time.Since(s.startedAt).String(),
		"version":        s.configManager.GetConfig().MCP.ServerVersion,
		"clinvar_rows":   clinical,
		"validity_rows":  validity,
		"reference_note": referenceNote(clinical, validity),
	})
}

func referenceNote(clinical, validity int) string {
	switch {
	case clinical == 0 && validity == 0:
		return "no reference data loaded"
	case clinical == 0:
		return "clinical reference is empty; no variants will match"
	case validity == 0:
		return "validity table is empty; every gene classifies as unknown"
	default:
		return "ok"
	}
}
