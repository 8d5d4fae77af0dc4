package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventbell/internal/core"
	"eventbell/internal/registration"
	"eventbell/internal/types"
)

// Registrar defines the registration operations the handler needs.
type Registrar interface {
	Register(ctx context.Context, in registration.RegisterInput) (*registration.RegisterResult, error)
}

// RegistrationHandler accepts seminar registrations for a tenant.
type RegistrationHandler struct {
	registrar Registrar
	logger    *slog.Logger
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(registrar Registrar, l *slog.Logger) *RegistrationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &RegistrationHandler{
		registrar: registrar,
		logger:    l,
	}
}

// RegisterRoutes mounts the registration endpoints. The router is expected
// to be the /v1 group.
func (h *RegistrationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tenants/{tenantID}/applications", h.Create)
}

// Create handles POST /v1/tenants/{tenantID}/applications.
func (h *RegistrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil))
		return
	}

	var in registration.RegisterInput
	if err := core.DecodeJSON(w, r, &in); err != nil {
		core.Error(w, r, err)
		return
	}
	in.TenantID = tenantID

	result, err := h.registrar.Register(r.Context(), in)
	if err != nil {
		types.LoggerFromContext(r.Context(), h.logger).WarnContext(r.Context(), "registration rejected",
			"tenant_id", tenantID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, result)
}
