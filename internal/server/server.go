// Package server exposes the HTTP API for queueing, inspecting, and
// stopping report jobs.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/pipeline"
	"github.com/synkro/synkro/internal/schedule"
	"github.com/synkro/synkro/internal/store"
)

// Deps carries what the handlers need.
type Deps struct {
	Store store.Store
	Orch  *pipeline.Orchestrator
}

// NewHandler builds the API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth(deps))
	r.Post("/tenants/{slug}/jobs", handleQueueJob(deps))
	r.Get("/tenants/{slug}/jobs", handleListJobs(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Post("/jobs/{id}/stop", handleStopJob(deps))

	return r
}

type queueJobRequest struct {
	RequestedBy string `json:"requested_by"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

type jobResponse struct {
	ID          string     `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Mode        string     `json:"mode"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"current_step"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(j *model.JobRun) jobResponse {
	return jobResponse{
		ID:          j.ID.String(),
		TenantID:    j.TenantID,
		Mode:        string(j.Mode),
		Trigger:     string(j.Trigger),
		Status:      string(j.Status),
		CurrentStep: j.CurrentStep,
		Progress:    j.Progress,
		Error:       j.Error,
		WindowStart: j.WindowStart,
		WindowEnd:   j.WindowEnd,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleQueueJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")

		// An empty body queues a job for the default window.
		var req queueJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		params := pipeline.QueueParams{
			TenantSlug:  slug,
			Trigger:     model.TriggerManual,
			RequestedBy: req.RequestedBy,
		}
		if req.WindowStart != "" || req.WindowEnd != "" {
			start, err1 := time.Parse(time.RFC3339, req.WindowStart)
			end, err2 := time.Parse(time.RFC3339, req.WindowEnd)
			if err1 != nil || err2 != nil {
				httpError(w, http.StatusBadRequest, "window bounds must be RFC3339 timestamps")
				return
			}
			params.WindowStart = &start
			params.WindowEnd = &end
		}

		run, created, err := deps.Orch.QueueJob(r.Context(), params)
		if err != nil {
			var valErr *schedule.ValidationError
			var cfgErr *pipeline.ConfigError
			switch {
			case errors.As(err, &valErr):
				httpError(w, http.StatusUnprocessableEntity, valErr.Error())
			case errors.As(err, &cfgErr):
				httpError(w, http.StatusUnprocessableEntity, cfgErr.Error())
			default:
				zap.L().Error("queue job failed", zap.String("tenant", slug), zap.Error(err))
				httpError(w, http.StatusInternalServerError, "queue failed")
			}
			return
		}
		if created {
			deps.Orch.Dispatch(run)
			writeJSON(w, http.StatusAccepted, toJobResponse(run))
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(run))
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		tenant, err := deps.Store.GetTenantBySlug(r.Context(), slug)
		if err != nil {
			httpError(w, http.StatusNotFound, "tenant not found")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := deps.Store.ListJobRuns(r.Context(), store.JobFilter{
			TenantID: tenant.ID,
			Status:   model.JobStatus(r.URL.Query().Get("status")),
			Limit:    limit,
		})
		if err != nil {
			zap.L().Error("list jobs failed", zap.String("tenant", slug), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "list failed")
			return
		}

		out := make([]jobResponse, 0, len(runs))
		for i := range runs {
			out = append(out, toJobResponse(&runs[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type jobDetailResponse struct {
	jobResponse
	Metadata map[string]any `json:"metadata,omitempty"`
	Events   []eventJSON    `json:"events"`
}

type eventJSON struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		job, err := deps.Store.GetJobRun(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}
		events, err := deps.Store.ListJobEvents(r.Context(), id)
		if err != nil {
			zap.L().Error("list job events failed", zap.String("job_id", id.String()), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "events load failed")
			return
		}

		detail := jobDetailResponse{jobResponse: toJobResponse(job), Metadata: job.Metadata}
		for _, e := range events {
			detail.Events = append(detail.Events, eventJSON{
				Level:     string(e.Level),
				Message:   e.Message,
				Data:      e.Data,
				CreatedAt: e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func handleStopJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		actor := r.URL.Query().Get("actor")
		if actor == "" {
			actor = "api"
		}
		if err := deps.Orch.Stop(r.Context(), id, actor); err != nil {
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		job, err := deps.Store.GetJobRun(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "job reload failed")
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
