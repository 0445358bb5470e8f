// Package server provides the ops HTTP server for recalld.
//
// The daemon speaks MCP on stdio; this server is the side channel for
// everything else: health probes, the stats snapshot, and Prometheus
// metrics. It binds localhost by default and shuts down gracefully
// when its context is cancelled.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Config configures the ops server.
type Config struct {
	// Port to listen on (default: 7133).
	Port int

	// ShutdownTimeout bounds graceful shutdown (default: 10s).
	ShutdownTimeout time.Duration

	// Service, Version, and Mode are reported by /health.
	Service string
	Version string
	Mode    string
}

// Server represents the ops HTTP server.
type Server struct {
	config Config
	echo   *echo.Echo
	engine *engine.Engine
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	Mode           string `json:"mode"`
	KVDegraded     bool   `json:"kv_degraded"`
	RemoteDegraded bool   `json:"remote_degraded"`
}

// NewServer creates the ops server over the given engine.
//
// Routes:
//   - GET /health  liveness plus degradation flags
//   - GET /stats   the engine's operational snapshot
//   - GET /metrics Prometheus exposition
func NewServer(cfg Config, eng *engine.Engine) *Server {
	if cfg.Port <= 0 {
		cfg.Port = 7133
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Service == "" {
		cfg.Service = "recalld"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Stdout carries the MCP protocol; the HTTP layer must stay quiet.
	e.Logger.SetOutput(io.Discard)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config: cfg,
		echo:   e,
		engine: eng,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.engine.Health()
	status := "ok"
	if h.KVDegraded || h.RemoteDegraded {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         status,
		Service:        s.config.Service,
		Version:        s.config.Version,
		Mode:           s.config.Mode,
		KVDegraded:     h.KVDegraded,
		RemoteDegraded: h.RemoteDegraded,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.engine.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, memory.Kind(err))
	}
	return c.JSON(http.StatusOK, stats)
}

// Start starts the HTTP server and blocks until the context is
// cancelled or the listener fails.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("localhost:%d", s.config.Port)

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout,
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
