// Package main is the entry point for the payretry admin and ingress API.
//
// It loads the configuration, builds the engine services, mounts the /v1
// handlers on the core chassis (middleware, auth, health checks) and serves
// them either as a standard HTTP server or behind API Gateway in Lambda.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"payretry/internal/api/handlers"
	"payretry/internal/auth"
	"payretry/internal/config"
	"payretry/internal/core"
	"payretry/internal/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(engine.SecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := engine.NewLogger(cfg.LogLevel)
	logger.Info("payretry API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
	)

	svc, err := engine.Build(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("building engine services: %w", err)
	}

	srv, err := newServer(cfg, svc, logger)
	if err != nil {
		_ = svc.Close()
		return err
	}

	if cfg.Server.Mode == "lambda" || isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// newServer wires the chassis and every /v1 handler onto svc.
func newServer(cfg *config.Config, svc *engine.Services, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	tokens := auth.NewTokenService(cfg.Security.JWTSecret.Unmask(), cfg.Security.JWTIssuer, 0, svc.Clock)
	srv.Authenticator = auth.NewAuthenticator(tokens, auth.NewAPIKeyVerifier(cfg.Security.APIKeyHash.Unmask()))
	srv.Guard = auth.NewFailureGuard(auth.DefaultGuardConfig(), svc.Clock)
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: svc.Ping})
	srv.Closers = append(srv.Closers, svc)

	policyHandler := handlers.NewPolicyHandler(svc.Policies, srv.Validator, logger)
	scheduleHandler := handlers.NewScheduleHandler(svc.Schedules, svc.Attempts, srv.Validator, logger)
	jobHandler := handlers.NewJobHandler(svc.Jobs, srv.Validator, logger, svc.Clock)
	reminderHandler := handlers.NewReminderHandler(svc.Reminders, logger)
	auditHandler := handlers.NewAuditHandler(svc.Audit, logger)
	stripeHandler := handlers.NewStripeWebhookHandler(
		svc.Attempts,
		svc.Clients.StripeVerifier,
		cfg.Payments.StripeWebhookSecret.Unmask(),
		logger,
	)
	deliveryHandler := handlers.NewDeliveryWebhookHandler(
		svc.Reminders,
		srv.Validator,
		cfg.Security.DeliveryWebhookKey.Unmask(),
		svc.Clients.EmailVerifier,
		cfg.Notifications.SendGridWebhookPublicKey,
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		policyHandler.RegisterRoutes,
		scheduleHandler.RegisterRoutes,
		jobHandler.RegisterRoutes,
		reminderHandler.RegisterRoutes,
		auditHandler.RegisterRoutes,
		stripeHandler.RegisterRoutes,
		deliveryHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	logRoutes(srv.Router(), logger)
	return srv, nil
}

func logRoutes(r chi.Routes, logger *slog.Logger) {
	n := 0
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		n++
		logger.Debug("route mounted", "method", method, "route", route)
		return nil
	})
	logger.Info("routes mounted", "count", n)
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Releases the engine services (database pool, broker connection).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
