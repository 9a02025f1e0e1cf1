package api

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

	"doc_syncer/internal/domain"
	"doc_syncer/internal/history"
	"doc_syncer/internal/orchestrator"
	"doc_syncer/internal/queue"
)

const maxRequestBodySize = 1 << 20

// Jobs is the orchestrator surface exposed over HTTP.
type Jobs interface {
	Submit(sourceID string, mode domain.RunMode, trigger string, params map[string]string) (domain.Job, error)
	SubmitAll(mode domain.RunMode, trigger string) ([]domain.Job, error)
	Status(id string) (domain.Job, error)
	Cancel(id string) error
	Dashboard() orchestrator.Dashboard
	ExportHistory() history.Export
	StartScheduler(ctx context.Context)
	StopScheduler()
	SchedulerRunning() bool
}

type AppDeps struct {
	Jobs    Jobs
	Metrics http.Handler
	Logger  *slog.Logger
	// BaseContext outlives requests; the scheduler started over HTTP runs on it.
	BaseContext context.Context
}

type SubmitRequest struct {
	Source string            `json:"source"`
	Mode   string            `json:"mode,omitempty"`
	Params map[string]string `json:"parameters,omitempty"`
}

type SubmitResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

type SchedulerResponse struct {
	Running bool `json:"running"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/healthz", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/jobs", handleSubmit(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Delete("/jobs/{id}", handleCancelJob(deps))
	r.Get("/dashboard", handleDashboard(deps))
	r.Get("/history/export", handleExport(deps))
	r.Get("/scheduler", handleSchedulerStatus(deps))
	r.Post("/scheduler/start", handleSchedulerStart(deps))
	r.Post("/scheduler/stop", handleSchedulerStop(deps))

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			if logger != nil {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}

		mode, err := domain.ParseRunMode(req.Mode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if req.Source == "all" {
			jobs, err := deps.Jobs.SubmitAll(mode, domain.TriggerManual)
			if err != nil {
				writeDomainError(w, "failed to submit jobs", err)
				return
			}
			writeJSON(w, http.StatusAccepted, SubmitResponse{Jobs: jobs})
			return
		}

		job, err := deps.Jobs.Submit(req.Source, mode, domain.TriggerManual, req.Params)
		if err != nil {
			writeDomainError(w, "failed to submit job", err)
			return
		}
		writeJSON(w, http.StatusAccepted, SubmitResponse{Jobs: []domain.Job{job}})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, "failed to get job", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancelJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Jobs.Cancel(id); err != nil {
			writeDomainError(w, "failed to cancel job", err)
			return
		}
		job, err := deps.Jobs.Status(id)
		if err != nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleDashboard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, deps.Jobs.Dashboard())
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		export := deps.Jobs.ExportHistory()
		name := fmt.Sprintf("job_history_%s.json", export.ExportTimestamp.Format("20060102_150405"))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		writeJSON(w, http.StatusOK, export)
	}
}

func handleSchedulerStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, SchedulerResponse{Running: deps.Jobs.SchedulerRunning()})
	}
}

func handleSchedulerStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		deps.Jobs.StartScheduler(deps.BaseContext)
		writeJSON(w, http.StatusOK, SchedulerResponse{Running: deps.Jobs.SchedulerRunning()})
	}
}

func handleSchedulerStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		deps.Jobs.StopScheduler()
		writeJSON(w, http.StatusOK, SchedulerResponse{Running: deps.Jobs.SchedulerRunning()})
	}
}

func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrSourceNotFound), errors.Is(err, domain.ErrJobNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%s: %v", msg, err)
	case errors.Is(err, domain.ErrSourceDisabled), errors.Is(err, domain.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict_error", "%s: %v", msg, err)
	case errors.Is(err, queue.ErrClosed):
		httpError(w, http.StatusServiceUnavailable, "unavailable_error", "%s: %v", msg, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", msg, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
