package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/codeagent/internal/api/response"
	"github.com/kiranshivaraju/codeagent/internal/plan"
)

const healthTimeout = 2 * time.Second

// Pinger is anything whose connectivity GET /health reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /health. Any failing
// component marks the service degraded with status 503.
func NewHealthHandler(version string, components map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Version: version, Components: make(map[string]string, len(components))}
		for name, p := range components {
			if err := p.Ping(ctx); err != nil {
				resp.Components[name] = "unavailable"
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		response.Write(w, status, resp)
	}
}

// NewPlansHandler returns an http.HandlerFunc for GET /plans.
func NewPlansHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]any{"plans": plan.All()})
	}
}
