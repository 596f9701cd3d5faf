// Package http provides the read-only status API for the harness.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// StatusSource reports the live harness status.
type StatusSource interface {
	Status() orchestrator.Status
}

// Store is the part of the state store the API reads.
type Store interface {
	LoadFeatureList() (*features.FeatureList, error)
	LoadHandoff() (handoff.Handoff, bool, error)
}

// Server provides HTTP endpoints for the harness.
type Server struct {
	echo   *echo.Echo
	status StatusSource
	store  Store
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(status StatusSource, st Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("status source cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 7420,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(otel.Meter(httpInstrumentationName), logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		status: status,
		store:  st,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/features", s.handleFeatures)
	v1.GET("/handoff", s.handleHandoff)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status.Status())
}

// handleFeatures lists features, optionally filtered by ?status=passing|pending.
func (s *Server) handleFeatures(c echo.Context) error {
	filter := c.QueryParam("status")
	switch filter {
	case "", "passing", "pending":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be passing or pending")
	}

	list, err := s.store.LoadFeatureList()
	if err != nil {
		return s.storeError(err)
	}

	resp := FeaturesResponse{
		Total:     list.TotalFeatures,
		Completed: list.CompletedFeatures,
		Percent:   list.Percent(),
		Features:  []features.Feature{},
	}
	for _, f := range list.Features {
		if (filter == "passing" && !f.Passes) || (filter == "pending" && f.Passes) {
			continue
		}
		resp.Features = append(resp.Features, f)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHandoff(c echo.Context) error {
	h, ok, err := s.store.LoadHandoff()
	if err != nil {
		return s.storeError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no session has finished yet")
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) storeError(err error) error {
	if errors.Is(err, store.ErrNotInitialized) {
		return echo.NewHTTPError(http.StatusNotFound, "project is not initialized")
	}
	s.logger.Warn("reading state failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "reading state failed")
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
