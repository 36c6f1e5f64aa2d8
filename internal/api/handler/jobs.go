package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/codeagent/internal/api/middleware"
	"github.com/kiranshivaraju/codeagent/internal/api/response"
	"github.com/kiranshivaraju/codeagent/internal/cache"
	"github.com/kiranshivaraju/codeagent/internal/jobs"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// maxBodyBytes caps POST /generate bodies well above the largest valid request.
const maxBodyBytes = 1 << 20

// JobService is the part of jobs.Service the handlers call.
type JobService interface {
	Submit(ctx context.Context, tenant *models.Tenant, req jobs.SubmitRequest) (*models.Job, error)
	Get(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, tenant *models.Tenant) (*jobs.JobList, error)
	Cancel(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (*models.Job, error)
	Status(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (cache.JobStatus, error)
	Metrics(ctx context.Context) (*jobs.Metrics, error)
}

type submitResponse struct {
	JobID   uuid.UUID `json:"jobId"`
	Status  string    `json:"status"`
	PollURL string    `json:"pollUrl"`
}

// PollURL is where a client polls job id.
func PollURL(id uuid.UUID) string {
	return "/jobs/" + id.String()
}

// NewGenerateHandler returns an http.HandlerFunc for POST /generate.
func NewGenerateHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := mw.GetTenant(r)
		if !ok {
			unauthorized(w)
			return
		}

		var req jobs.SubmitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid JSON body",
				map[string]string{"body": "json"})
			return
		}

		job, err := svc.Submit(r.Context(), tenant, req)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		poll := PollURL(job.ID)
		response.Created(w, poll, submitResponse{JobID: job.ID, Status: job.Status, PollURL: poll})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /jobs/{jobId}.
func NewGetJobHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return withJob(logger, func(w http.ResponseWriter, r *http.Request, tenant *models.Tenant, id uuid.UUID) {
		job, err := svc.Get(r.Context(), tenant, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		response.JSON(w, job)
	})
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /jobs/{jobId}.
func NewCancelJobHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return withJob(logger, func(w http.ResponseWriter, r *http.Request, tenant *models.Tenant, id uuid.UUID) {
		job, err := svc.Cancel(r.Context(), tenant, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		response.JSON(w, job)
	})
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /jobs/{jobId}/status.
func NewJobStatusHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return withJob(logger, func(w http.ResponseWriter, r *http.Request, tenant *models.Tenant, id uuid.UUID) {
		st, err := svc.Status(r.Context(), tenant, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		response.JSON(w, st)
	})
}

// NewListJobsHandler returns an http.HandlerFunc for GET /jobs.
func NewListJobsHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := mw.GetTenant(r)
		if !ok {
			unauthorized(w)
			return
		}
		list, err := svc.List(r.Context(), tenant)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		response.JSON(w, list)
	}
}

// NewMetricsHandler returns an http.HandlerFunc for GET /metrics.
func NewMetricsHandler(svc JobService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.Metrics(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		response.JSON(w, m)
	}
}

type jobHandlerFunc func(w http.ResponseWriter, r *http.Request, tenant *models.Tenant, id uuid.UUID)

// withJob resolves the tenant and the {jobId} URL parameter. Ids that do not
// parse are reported like unknown jobs.
func withJob(logger *slog.Logger, fn jobHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := mw.GetTenant(r)
		if !ok {
			unauthorized(w)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			writeError(w, logger, jobs.ErrNotFound)
			return
		}
		fn(w, r, tenant, id)
	}
}
