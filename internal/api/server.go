package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/pipeline"
	"rigscout/internal/version"
)

// TargetLister is the read side of target persistence.
type TargetLister interface {
	List(ctx context.Context) ([]listing.SearchTarget, error)
}

// QueueStatus reports scanner backlog depth and in-flight work.
type QueueStatus interface {
	Depth() int
	InFlight() int
}

// Server exposes the deal pipeline over JSON.
type Server struct {
	Echo *echo.Echo

	deals   *pipeline.Pipeline
	targets TargetLister
	queue   QueueStatus
	logger  zerolog.Logger
}

// NewServer wires routes. targets and queue are optional.
func NewServer(deals *pipeline.Pipeline, targets TargetLister, queue QueueStatus, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:    e,
		deals:   deals,
		targets: targets,
		queue:   queue,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).
				Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/deals", s.handleListDeals)
	api.GET("/deals/:id", s.handleGetDeal)
	api.POST("/deals/:id/transition", s.handleTransition)
	api.POST("/deals/:id/notes", s.handleAddNote)
	api.POST("/deals/:id/tasks", s.handleAddTask)
	api.POST("/deals/:id/tasks/:task/complete", s.handleCompleteTask)
	api.GET("/stats", s.handleStats)
	api.GET("/targets", s.handleListTargets)
	api.GET("/scanner", s.handleScanner)
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Echo.Shutdown(shutdownCtx)
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// fail maps pipeline errors onto HTTP statuses.
func fail(c echo.Context, err error) error {
	switch {
	case pipeline.IsNotFound(err):
		return errorJSON(c, http.StatusNotFound, err)
	case pipeline.IsInvalidTransition(err):
		return errorJSON(c, http.StatusConflict, err)
	default:
		return errorJSON(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleListDeals(c echo.Context) error {
	var f pipeline.Filter
	if raw := c.QueryParam("stage"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := pipeline.ParseStage(part)
			if err != nil {
				return errorJSON(c, http.StatusBadRequest, err)
			}
			f.Stages = append(f.Stages, st)
		}
	}
	if raw := c.QueryParam("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, errors.New("open must be a boolean"))
		}
		f.OpenOnly = open
	}
	if raw := c.QueryParam("min_profit"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, errors.New("min_profit must be a number"))
		}
		f.MinProfit = &v
	}

	deals, err := s.deals.List(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, deals)
}

func (s *Server) handleGetDeal(c echo.Context) error {
	d, err := s.deals.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

type transitionRequest struct {
	Stage string `json:"stage"`
}

func (s *Server) handleTransition(c echo.Context) error {
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid request"))
	}
	to, err := pipeline.ParseStage(req.Stage)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	d, err := s.deals.Transition(c.Request().Context(), c.Param("id"), to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

type noteRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleAddNote(c echo.Context) error {
	var req noteRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("note body is required"))
	}
	d, err := s.deals.AddNote(c.Request().Context(), c.Param("id"), req.Body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

type taskRequest struct {
	Title string     `json:"title"`
	Due   *time.Time `json:"due,omitempty"`
}

func (s *Server) handleAddTask(c echo.Context) error {
	var req taskRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("task title is required"))
	}
	_, task, err := s.deals.AddTask(c.Request().Context(), c.Param("id"), req.Title, req.Due)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) handleCompleteTask(c echo.Context) error {
	d, err := s.deals.CompleteTask(c.Request().Context(), c.Param("id"), c.Param("task"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.deals.StatsByStage(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleListTargets(c echo.Context) error {
	if s.targets == nil {
		return c.JSON(http.StatusOK, []listing.SearchTarget{})
	}
	targets, err := s.targets.List(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, targets)
}

func (s *Server) handleScanner(c echo.Context) error {
	status := map[string]int{"depth": 0, "in_flight": 0}
	if s.queue != nil {
		status["depth"] = s.queue.Depth()
		status["in_flight"] = s.queue.InFlight()
	}
	return c.JSON(http.StatusOK, status)
}
