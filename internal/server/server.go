// Package server exposes health and Prometheus endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feed_notifier/internal/scheduler"
)

const (
	shutdownTimeout = 10 * time.Second
	pingTimeout     = 2 * time.Second
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// TaskStatus reports the state of a periodic task.
type TaskStatus interface {
	State() scheduler.State
	LastOutcome() *scheduler.Outcome
}

type Server struct {
	addr   string
	db     Pinger
	tasks  map[string]TaskStatus
	logger *slog.Logger
}

func New(addr string, db Pinger, tasks map[string]TaskStatus, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		db:     db,
		tasks:  tasks,
		logger: logger.With("component", "server"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

type taskHealth struct {
	State          scheduler.State `json:"state"`
	LastSucceeded  *bool           `json:"last_succeeded,omitempty"`
	LastFinishedAt *time.Time      `json:"last_finished_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

type healthResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database"`
	Tasks    map[string]taskHealth `json:"tasks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Tasks:    make(map[string]taskHealth, len(s.tasks)),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", "error", err)
		resp.Status = "unavailable"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	for name, task := range s.tasks {
		h := taskHealth{State: task.State()}
		if out := task.LastOutcome(); out != nil {
			ok := out.Succeeded()
			h.LastSucceeded = &ok
			h.LastFinishedAt = &out.FinishedAt
			if out.Err != nil {
				h.LastError = out.Err.Error()
			}
		}
		resp.Tasks[name] = h
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
