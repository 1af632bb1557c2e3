// Package http provides the athena operations API: health, run status,
// on-demand learning runs, learned patterns, execution ingestion and
// Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
	"github.com/fyrsmithlabs/athena/internal/logging"
	"github.com/fyrsmithlabs/athena/internal/schedule"
	"github.com/fyrsmithlabs/athena/internal/store"
)

const (
	maxIngestBatch     = 1000
	healthCheckTimeout = 2 * time.Second
)

// RunTrigger starts learning runs. *schedule.Trigger satisfies it.
type RunTrigger interface {
	Run(ctx context.Context, trigger string) (*learning.RunResult, error)
	Last() *schedule.LastRun
}

// PatternStore serves learned patterns and accepts execution records.
// *store.Store satisfies it.
type PatternStore interface {
	Patterns(ctx context.Context) ([]learning.Pattern, error)
	Pattern(ctx context.Context, id string) (learning.Pattern, error)
	RecordExecutions(ctx context.Context, records []learning.ExecutionRecord) error
}

// SchedulerStatus reports periodic run state. *schedule.Scheduler
// satisfies it.
type SchedulerStatus interface {
	Status() schedule.Status
}

// HealthCheck returns nil when a dependency is healthy.
type HealthCheck func(ctx context.Context) error

// Deps are the components the server exposes. Trigger and Patterns are
// required.
type Deps struct {
	Trigger   RunTrigger
	Patterns  PatternStore
	Scheduler SchedulerStatus
	Gatherer  prometheus.Gatherer
	Metrics   *HTTPMetrics
	Checks    map[string]HealthCheck
	Version   string
}

// Server provides HTTP endpoints for athena.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(requestContext(logger))
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
	}

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestContext tags the request context with its ID and logger, then
// logs the request once it completes.
func requestContext(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := logging.WithLogger(c.Request().Context(), logger)
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(rid) {
				ctx = logging.WithRequestID(ctx, rid)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/runs", s.handleRun)
	v1.GET("/patterns", s.handlePatterns)
	v1.GET("/patterns/:id", s.handlePattern)
	v1.POST("/executions", s.handleExecutions)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	if len(s.deps.Checks) > 0 {
		resp.Checks = make(map[string]string, len(s.deps.Checks))
	}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:  "ok",
		Version: s.deps.Version,
		LastRun: s.deps.Trigger.Last(),
	}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.Status()
		resp.Scheduler = &st
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRun runs the pipeline synchronously. The run is detached from
// the request's cancellation so a dropped client does not abort it.
func (s *Server) handleRun(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())

	res, err := s.deps.Trigger.Run(ctx, schedule.TriggerAPI)
	switch {
	case errors.Is(err, schedule.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, "a learning run is already in progress")
	case err != nil && res == nil:
		s.logger.Error(ctx, "learning run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "learning run failed")
	case err != nil:
		s.logger.Warn(runContext(ctx, res), "learning run finished with handoff error", zap.Error(err))
		return c.JSON(http.StatusBadGateway, RunResponse{RunResult: res, Error: err.Error()})
	}
	s.logger.Info(runContext(ctx, res), "learning run complete",
		zap.Int("patterns", len(res.Patterns)),
		zap.Int("validated", res.Stats.Validated))
	return c.JSON(http.StatusOK, RunResponse{RunResult: res})
}

func runContext(ctx context.Context, res *learning.RunResult) context.Context {
	if logging.ValidID(res.RunID) {
		return logging.WithRunID(ctx, res.RunID)
	}
	return ctx
}

// handlePatterns lists stored patterns, optionally filtered by
// ?type=, ?validated= and ?min_confidence=.
func (s *Server) handlePatterns(c echo.Context) error {
	var (
		wantType      = learning.PatternType(c.QueryParam("type"))
		wantValidated *bool
		minConfidence float64
	)
	if v := c.QueryParam("validated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "validated must be true or false")
		}
		wantValidated = &b
	}
	if v := c.QueryParam("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_confidence must be a number between 0 and 1")
		}
		minConfidence = f
	}

	all, err := s.deps.Patterns.Patterns(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "listing patterns failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list patterns")
	}

	out := make([]learning.Pattern, 0, len(all))
	for _, p := range all {
		if wantType != "" && p.Type != wantType {
			continue
		}
		if wantValidated != nil && p.Validated != *wantValidated {
			continue
		}
		if p.ConfidenceScore < minConfidence {
			continue
		}
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: out, Count: len(out)})
}

func (s *Server) handlePattern(c echo.Context) error {
	p, err := s.deps.Patterns.Pattern(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "loading pattern failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load pattern")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleExecutions(c echo.Context) error {
	var req ExecutionsRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid executions request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Executions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "executions field is required")
	}
	if len(req.Executions) > maxIngestBatch {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("at most %d executions per request", maxIngestBatch))
	}
	for i, r := range req.Executions {
		if r.TaskID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("executions[%d].task_id is required", i))
		}
		if r.CompletedAt.IsZero() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("executions[%d].completed_at is required", i))
		}
	}

	ctx := c.Request().Context()
	if err := s.deps.Patterns.RecordExecutions(ctx, req.Executions); err != nil {
		s.logger.Error(ctx, "recording executions failed",
			zap.Int("count", len(req.Executions)), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record executions")
	}

	s.logger.Debug(ctx, "recorded executions", zap.Int("count", len(req.Executions)))
	return c.JSON(http.StatusAccepted, ExecutionsResponse{Recorded: len(req.Executions)})
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
