// Package server provides the HTTP surface of codeagentd.
//
// It implements a graceful Echo server exposing the coding-task API,
// a health endpoint and the Prometheus metrics handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeagentd/internal/logging"
	"github.com/fyrsmithlabs/codeagentd/internal/telemetry"
	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
	v1 "github.com/fyrsmithlabs/codeagentd/pkg/api/v1"
)

// Orchestrator is the engine surface the server consumes.
type Orchestrator interface {
	Submit(ctx context.Context, req workflow.Request) (*workflow.Snapshot, error)
	Get(id string) (*workflow.Snapshot, error)
	Cancel(id, reason string) (bool, error)
	List() []*workflow.Snapshot
	ActiveCount() int
	Uptime() time.Duration
}

// Options configures the server.
type Options struct {
	Port            int
	ShutdownTimeout time.Duration
	Version         string
}

// Server represents the HTTP server.
type Server struct {
	opts   Options
	echo   *echo.Echo
	engine Orchestrator
	log    *logging.Logger
}

// NewServer creates a new HTTP server over the given orchestrator.
func NewServer(opts Options, engine Orchestrator, log *logging.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware)

	s := &Server{
		opts:   opts,
		echo:   e,
		engine: engine,
		log:    log.Named("server"),
	}
	s.registerRoutes()
	return s
}

// metricsMiddleware counts requests by method, route and status class.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		telemetry.HTTPRequests.WithLabelValues(
			c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
		return err
	}
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	api := s.echo.Group("/api/v1")
	api.POST("/code", s.handleSubmit)
	api.GET("/code/:id/status", s.handleStatus)
	api.DELETE("/code/:id", s.handleCancel)
	api.GET("/tasks", s.handleList)

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// handleSubmit handles POST /api/v1/code.
func (s *Server) handleSubmit(c echo.Context) error {
	var req v1.CodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "malformed request body"})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: err.Error()})
	}

	snap, err := s.engine.Submit(c.Request().Context(), req.ToWorkflow())
	if err != nil {
		s.log.Error(c.Request().Context(), "submission failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, v1.ErrorResponse{Error: "failed to accept task"})
	}

	estimate := ""
	if v, ok := snap.Stats["estimated_duration"].(string); ok {
		estimate = v
	}
	if estimate == "" {
		estimate = workflow.EstimateDuration(req.Requirements)
	}

	return c.JSON(http.StatusOK, v1.CodeResponse{
		TaskID:            snap.ID,
		Status:            v1.StatusForStage(snap.Stage),
		Message:           "coding task accepted and started",
		BranchName:        snap.BranchName,
		EstimatedDuration: estimate,
		Progress:          snap.Progress,
	})
}

// handleStatus handles GET /api/v1/code/:id/status.
func (s *Server) handleStatus(c echo.Context) error {
	snap, err := s.engine.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: v1.ErrNotFound.Error()})
	}
	return c.JSON(http.StatusOK, v1.NewStatusResponse(snap))
}

// handleCancel handles DELETE /api/v1/code/:id.
func (s *Server) handleCancel(c echo.Context) error {
	var req v1.CancelRequest
	// Body is optional on cancel.
	_ = c.Bind(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by user request"
	}

	id := c.Param("id")
	cancelled, err := s.engine.Cancel(id, req.Reason)
	if err != nil {
		return c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: v1.ErrNotFound.Error()})
	}
	if !cancelled {
		return c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: v1.ErrAlreadyDone.Error()})
	}

	return c.JSON(http.StatusOK, v1.CancelResponse{
		TaskID:  id,
		Status:  v1.StatusCancelled,
		Message: "task cancelled",
	})
}

// handleList handles GET /api/v1/tasks with optional status filter and
// page/page_size pagination.
func (s *Server) handleList(c echo.Context) error {
	statusFilter := c.QueryParam("status")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	all := s.engine.List()
	filtered := make([]v1.TaskSummary, 0, len(all))
	for _, snap := range all {
		summary := v1.NewTaskSummary(snap)
		if statusFilter != "" && string(summary.Status) != statusFilter {
			continue
		}
		filtered = append(filtered, summary)
	}

	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return c.JSON(http.StatusOK, v1.ListResponse{
		Tasks:    filtered[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, v1.HealthResponse{
		Status:          "healthy",
		Service:         "codeagentd",
		Version:         s.opts.Version,
		UptimeSeconds:   s.engine.Uptime().Seconds(),
		ActiveWorkflows: s.engine.ActiveCount(),
	})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other error
// encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
