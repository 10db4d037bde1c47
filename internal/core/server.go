// Package core provides the API chassis for the PayRetry admin and ingress
// surface. It builds a chi router usable both by net/http (local and
// container runs) and by the Lambda proxy adapter, and enforces the
// cross-cutting concerns (recovery, request ids, logging, CORS, auth)
// before requests reach the domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payretry/internal/config"
)

// Server carries the router and its injected collaborators. Nil collaborators
// disable the matching middleware, which keeps handler tests small.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator
	Guard         IPGuard
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. main populates it so
	// core never imports the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// Closers are released on Shutdown in reverse order.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer validates the mandatory dependencies and prepares an empty router.
// Callers mount routes with MountRoutes once registrars are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	v, err := NewValidator(logger)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: v,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases registered resources (database pools, broker
// connections).
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	var errs []error
	for i := len(s.Closers) - 1; i >= 0; i-- {
		if err := s.Closers[i].Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing resource", "error", err)
			errs = append(errs, err)
		}
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return errors.Join(errs...)
}
