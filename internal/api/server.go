// Package api exposes the job queue and configuration store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"article-pipeline/internal/config"
	"article-pipeline/internal/configstore"
	"article-pipeline/internal/models"
	"article-pipeline/internal/ratelimit"
	"article-pipeline/internal/store"
	"article-pipeline/internal/telemetry"
)

// ConfigStore is the configuration surface the API serves. Credentials are
// accepted on create but never serialized back out.
type ConfigStore interface {
	Create(ctx context.Context, p configstore.CreateParams) (models.Configuration, error)
	Get(ctx context.Context, id string, includeCredentials bool) (models.Configuration, error)
	List(ctx context.Context) ([]models.Configuration, error)
}

// Server wires HTTP handlers for jobs and configurations.
type Server struct {
	cfg     config.Config
	store   store.Store
	configs ConfigStore
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(cfg config.Config, st store.Store, configs ConfigStore, limiter *ratelimit.Limiter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, store: st, configs: configs, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleCancel)
	r.Post("/jobs/{id}/requeue", s.handleRequeue)
	r.Post("/jobs/{id}/publish", s.handlePublish)
	r.Get("/jobs/{id}/audit", s.handleAudit)

	r.Post("/jobs/{id}/categories", s.addLabel(s.store.AddCategory))
	r.Get("/jobs/{id}/categories", s.listLabels(s.store.ListCategories))
	r.Delete("/jobs/{id}/categories/{label}", s.removeLabel(s.store.RemoveCategory))
	r.Post("/jobs/{id}/tags", s.addLabel(s.store.AddTag))
	r.Get("/jobs/{id}/tags", s.listLabels(s.store.ListTags))
	r.Delete("/jobs/{id}/tags/{label}", s.removeLabel(s.store.RemoveTag))

	r.Get("/stats", s.handleStats)

	r.Post("/configurations", s.handleCreateConfiguration)
	r.Get("/configurations", s.handleListConfigurations)
	r.Get("/configurations/{id}", s.handleGetConfiguration)

	return r
}

type enqueueRequest struct {
	ConfigurationID string     `json:"configuration_id"`
	SeedKeyword     string     `json:"seed_keyword"`
	TargetAudience  string     `json:"target_audience"`
	WritingStyle    string     `json:"writing_style"`
	ScheduledDate   *time.Time `json:"scheduled_date"`
	IdempotencyKey  string     `json:"idempotency_key"`
}

type enqueueResponse struct {
	Job        models.Job `json:"job"`
	Idempotent bool       `json:"idempotent"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}

	if s.limiter != nil {
		client := clientFromRequest(r)
		allowed, _, err := s.limiter.Allow(r.Context(), client)
		if err != nil {
			writeError(w, fmt.Errorf("rate limit: %w", err))
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
			return
		}
	}

	job, idempotent, err := s.store.Enqueue(r.Context(), store.EnqueueParams{
		ConfigurationID: req.ConfigurationID,
		SeedKeyword:     req.SeedKeyword,
		TargetAudience:  req.TargetAudience,
		WritingStyle:    req.WritingStyle,
		ScheduledDate:   req.ScheduledDate,
		IdempotencyKey:  req.IdempotencyKey,
		IdempotencyTTL:  s.cfg.IdempotencyTTL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !idempotent {
		telemetry.JobsEnqueued.Inc()
		s.log.Info("job enqueued",
			zap.String("job_id", job.ID),
			zap.String("seed_keyword", job.SeedKeyword))
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Idempotent: idempotent})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.store.ListJobs(r.Context(), store.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "canceled"})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.MarkPublished(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.JobsPublished.Inc()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trails, err := s.store.ListAuditTrails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if trails == nil {
		trails = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "audit_trails": trails})
}

type labelRequest struct {
	Label string `json:"label"`
}

func (s *Server) addLabel(add func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req labelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &models.ValidationError{Field: "body", Reason: "invalid json"})
			return
		}
		if err := add(r.Context(), id, req.Label); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"job_id": id, "label": req.Label})
	}
}

func (s *Server) listLabels(list func(context.Context, string) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		labels, err := list(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if labels == nil {
			labels = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "labels": labels})
	}
}

func (s *Server) removeLabel(remove func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := remove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "label")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req configstore.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	cfg, err := s.configs.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if configs == nil {
		configs = []models.Configuration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": configs})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Get(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var nferr *models.NotFoundError
	var terr *models.InvalidTransitionError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error()})
	case errors.As(err, &nferr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: nferr.Error()})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, errorBody{Error: terr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
