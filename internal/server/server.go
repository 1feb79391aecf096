package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/observer/chatwire/internal/auth"
	"github.com/observer/chatwire/internal/config"
	"github.com/observer/chatwire/internal/realtime"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	Tokens    *auth.TokenService
	WSHandler http.Handler
	Notifier  realtime.Notifier
	// Checks are run by /readyz, keyed by dependency name
	Checks map[string]HealthCheck
	Logger *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the route tree. Exposed for tests.
func NewRouter(cfg *config.Config, deps *Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)

	// Health check - essential for docker, k8s, load balancers
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(deps.Checks, deps.Logger))

	r.With(auth.Middleware(deps.Tokens)).Get("/ws", deps.WSHandler.ServeHTTP)

	r.Route("/internal", func(r chi.Router) {
		r.Use(triggerSecretMiddleware(cfg.TriggerSecret))
		r.Post("/triggers", newTriggerHandler(deps.Notifier, deps.Logger).ServeHTTP)
	})

	return r
}

// readyHandler verifies every dependency is reachable
func readyHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", "dependency", name, "error", err)
				failed[name] = "unavailable"
			}
		}

		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
