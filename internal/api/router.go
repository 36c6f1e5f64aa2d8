package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/codeagent/internal/api/handler"
	mw "github.com/kiranshivaraju/codeagent/internal/api/middleware"
	"github.com/kiranshivaraju/codeagent/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger *slog.Logger
	Auth   *mw.Auth

	// ReadLimit throttles polling reads. Nil disables it.
	ReadLimit *mw.RateLimit

	Jobs    handler.JobService
	Health  map[string]handler.Pinger
	Version string
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public routes
	r.Get("/health", handler.NewHealthHandler(deps.Version, deps.Health))
	r.Get("/plans", handler.NewPlansHandler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Submissions are throttled per tenant by the job service.
		r.Post("/generate", handler.NewGenerateHandler(deps.Jobs, logger))
		r.Delete("/jobs/{jobId}", handler.NewCancelJobHandler(deps.Jobs, logger))
		r.Get("/metrics", handler.NewMetricsHandler(deps.Jobs, logger))

		r.Group(func(r chi.Router) {
			if deps.ReadLimit != nil {
				r.Use(deps.ReadLimit.Limit)
			}
			r.Get("/jobs", handler.NewListJobsHandler(deps.Jobs, logger))
			r.Get("/jobs/{jobId}", handler.NewGetJobHandler(deps.Jobs, logger))
			r.Get("/jobs/{jobId}/status", handler.NewJobStatusHandler(deps.Jobs, logger))
		})
	})

	return r
}
