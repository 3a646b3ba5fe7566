// Package server exposes processed datalogger datasets over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/dataset"
	"github.com/withObsrvr/biochar-datalogger/internal/metrics"
	"github.com/withObsrvr/biochar-datalogger/internal/summary"
)

// Server bundles router and dependencies for the dataset API.
type Server struct {
	cfg       config.ServerConfig
	cache     *dataset.Cache
	summaries *summary.Service
	metrics   *metrics.Metrics
	loc       *time.Location
	log       *slog.Logger
	engine    *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.ServerConfig, cache *dataset.Cache, summaries *summary.Service, m *metrics.Metrics, loc *time.Location, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{
		cfg:       cfg,
		cache:     cache,
		summaries: summaries,
		metrics:   m,
		loc:       loc,
		log:       log,
		engine:    engine,
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api")
	api.GET("/years", s.handleYears)
	api.GET("/years/:year/end-date", s.handleEndDate)
	api.GET("/datasets/:year/:granularity", s.handleDataset)
	api.GET("/datasets/:year/:granularity/csv", s.handleCSV)
	api.GET("/datasets/:year/:granularity/parquet", s.handleParquet)
	api.GET("/summary/:year", s.handleSummary)
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
