package panel

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/solweave/chainflow/internal/engine"
	"github.com/solweave/chainflow/internal/store"
	"github.com/solweave/chainflow/internal/streaming"
	"github.com/solweave/chainflow/internal/validation"
)

// CronCalculator computes the next fire time for a cron expression.
// Satisfied by scheduler.Scheduler.
type CronCalculator interface {
	CalculateNextRun(cronExpr string, from time.Time) (time.Time, error)
}

// Deps holds the dependencies for the canvas API server.
type Deps struct {
	Store     store.Store
	Runner    engine.Runner
	Hub       streaming.EventHub
	Validator *validation.GraphValidator
	Cron      CronCalculator
	Logger    *slog.Logger
}

/// Server exposes the JSON API the canvas frontend talks to: pipelines,
// runs, schedules, and live event streams over SSE.
type Server struct {
	deps Deps
}

// NewServer creates a new canvas API Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the canvas API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Pipelines.
	mux.HandleFunc("GET /api/pipelines", s.handleListPipelines)
	mux.HandleFunc("POST /api/pipelines", s.handleCreatePipeline)
	mux.HandleFunc("GET /api/pipelines/{name}", s.handleGetPipeline)
	mux.HandleFunc("DELETE /api/pipelines/{name}", s.handleDeletePipeline)

	// Runs.
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", s.handleStopRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/runs/{id}/diagram", s.handleRunDiagram)

	// Schedules.
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

// ListenAndServe runs the canvas API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info("canvas API listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
