// Package core provides the API chassis for the eventbell service: the chi
// router, the global middleware chain, and the JSON response helpers shared by
// the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventbell/internal/config"
)

// RouteRegistrar mounts a group of handlers under /v1. Handler packages
// provide registrars so core does not import them.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the HTTP API.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	HealthProbes      []HealthProbe
	V1RouteRegistrars []RouteRegistrar
	RateLimiter       *TenantRateLimiter

	// Closed on Shutdown, in order.
	Closers []func()

	router *chi.Mux
}

// NewServer prepares a server for route mounting. The caller mounts routes
// with MountRoutes after setting registrars and probes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}
	if cfg.Server.TenantRatePerSecond > 0 {
		s.RateLimiter = NewTenantRateLimiter(cfg.Server.TenantRatePerSecond, cfg.Server.TenantRateBurst)
	}
	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, closeFn := range s.Closers {
		closeFn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
