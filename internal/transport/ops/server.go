// Package ops serves the operational HTTP surface of a running pipeline:
// health, Prometheus metrics and live progress.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	logpkg "github.com/kailas-cloud/docbench/internal/logger"
	budgetuc "github.com/kailas-cloud/docbench/internal/usecase/budget"
	healthuc "github.com/kailas-cloud/docbench/internal/usecase/health"
)

const (
	codeNotFound     = "not_found"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal_error"
)

// HealthReporter aggregates component health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// ProgressReader exposes the stages of the current invocation.
type ProgressReader interface {
	RunID() string
	Runs() []domain.Run
}

// RunStore reads persisted runs, including those of other processes.
type RunStore interface {
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context) ([]domain.Run, error)
}

// BudgetReader reports token budget consumption.
type BudgetReader interface {
	Snapshot() budgetuc.Snapshot
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type progressResponse struct {
	RunID   string              `json:"run_id"`
	Stages  []domain.Run        `json:"stages"`
	Budgets []budgetuc.Snapshot `json:"budgets"`
}

// Server handles ops routes.
type Server struct {
	health   HealthReporter
	progress ProgressReader
	runs     RunStore
	budgets  []BudgetReader
	logger   *zap.Logger
}

// NewServer creates the ops server. runs may be nil when no store is configured.
func NewServer(
	health HealthReporter, progress ProgressReader, runs RunStore, budgets []BudgetReader, logger *zap.Logger,
) *Server {
	return &Server{health: health, progress: progress, runs: runs, budgets: budgets, logger: logger}
}

// Routes mounts the handlers on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/progress", s.Progress)
	if s.runs != nil {
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{id}", s.GetRun)
	}
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Progress handles GET /progress.
func (s *Server) Progress(w http.ResponseWriter, _ *http.Request) {
	resp := progressResponse{
		RunID:   s.progress.RunID(),
		Stages:  s.progress.Runs(),
		Budgets: make([]budgetuc.Snapshot, 0, len(s.budgets)),
	}
	for _, b := range s.budgets {
		resp.Budgets = append(resp.Budgets, b.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns handles GET /runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "run not found")
			return
		}
		s.internalError(w, r, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logpkg.FromContext(r.Context(), s.logger).Error("Ops request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
