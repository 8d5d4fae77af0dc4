package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventbell/internal/billing"
	"eventbell/internal/core"
)

// UsageReporter defines the usage read the handler needs.
type UsageReporter interface {
	Usage(ctx context.Context, tenantID string) (*billing.UsageSnapshot, error)
}

// UsageHandler reports a tenant's quota usage for the current period.
type UsageHandler struct {
	reporter UsageReporter
	logger   *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(reporter UsageReporter, l *slog.Logger) *UsageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{reporter: reporter, logger: l}
}

func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tenants/{tenantID}/usage", h.Get)
}

// Get handles GET /v1/tenants/{tenantID}/usage.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	snap, err := h.reporter.Usage(r.Context(), tenantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load usage",
			"tenant_id", tenantID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, snap)
}
