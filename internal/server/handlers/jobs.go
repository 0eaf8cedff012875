package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/srcindex/internal/daemon"
	apperrors "github.com/3leaps/srcindex/internal/errors"
	"github.com/3leaps/srcindex/pkg/indexer"
	"github.com/3leaps/srcindex/pkg/project"
)

const maxRequestBytes = 1 << 20

// JobService is the part of the daemon the job endpoints need.
type JobService interface {
	Index(ctx context.Context, req daemon.IndexRequest) (indexer.JobInfo, error)
	Jobs(ctx context.Context) ([]indexer.JobInfo, error)
	Abort(ctx context.Context, jobID string) (bool, error)
	ProjectStats() []project.Stats
}

// JobsResponse is the body of GET /v1/jobs.
type JobsResponse struct {
	Jobs []indexer.JobInfo `json:"jobs"`
}

// ProjectsResponse is the body of GET /v1/projects.
type ProjectsResponse struct {
	Projects []project.Stats `json:"projects"`
}

// Jobs serves the /v1 job and project endpoints.
type Jobs struct {
	svc JobService
}

func NewJobs(svc JobService) *Jobs {
	return &Jobs{svc: svc}
}

// List handles GET /v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.Jobs(r.Context())
	if err != nil {
		respondWithError(w, r, serviceError(err))
		return
	}
	if jobs == nil {
		jobs = []indexer.JobInfo{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

// Submit handles POST /v1/jobs.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	var req daemon.IndexRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("malformed index request", err))
		return
	}

	info, err := h.svc.Index(r.Context(), req)
	if err != nil {
		respondWithError(w, r, serviceError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// Abort handles DELETE /v1/jobs/{id}.
func (h *Jobs) Abort(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	found, err := h.svc.Abort(r.Context(), id)
	if err != nil {
		respondWithError(w, r, serviceError(err))
		return
	}
	if !found {
		respondWithError(w, r, apperrors.NewNotFound("job not found").
			WithDetails(map[string]any{"job_id": id}))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Projects handles GET /v1/projects.
func (h *Jobs) Projects(w http.ResponseWriter, _ *http.Request) {
	stats := h.svc.ProjectStats()
	if stats == nil {
		stats = []project.Stats{}
	}
	writeJSON(w, http.StatusOK, ProjectsResponse{Projects: stats})
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, daemon.ErrInvalidRequest):
		return apperrors.NewBadRequest(err.Error(), err)
	case errors.Is(err, daemon.ErrClosed):
		return apperrors.NewServiceUnavailable("daemon is shutting down", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewServiceUnavailable("request canceled", err)
	default:
		return err
	}
}
