package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/typerace/internal/api/apierr"
	"github.com/mcoot/typerace/internal/api/response"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler reports process and backend health
type HealthHandler struct {
	checks []HealthCheck
	logger *slog.Logger
}

// NewHealthHandler creates a health handler running the given checks
func NewHealthHandler(logger *slog.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// Get handles GET /api/v1/health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	body := response.Health{Status: "ok"}
	if len(h.checks) > 0 {
		body.Checks = make(map[string]string, len(h.checks))
	}
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.logger.Warn("health check failed",
				slog.String("check", c.Name),
				slog.String("error", err.Error()))
			apierr.WriteError(w, apierr.NewUnavailableError(c.Name+" unavailable"))
			return
		}
		body.Checks[c.Name] = "ok"
	}
	response.JSON(w, http.StatusOK, body)
}
