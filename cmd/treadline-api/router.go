// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/treadline-ai/treadline/cmd/treadline-api/handlers"
	"github.com/treadline-ai/treadline/cmd/treadline-api/middleware"
	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/engine"
	"github.com/treadline-ai/treadline/internal/observability"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, eng engine.BatchRunner, sessions *auth.SessionManager, startedAt time.Time, version string) http.Handler {
	r := chi.NewRouter()

	// Global middleware. The timeout rides the write timeout because a
	// full batch can legitimately run for minutes.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	loginHandler := handlers.NewLoginHandler(logger, sessions, cfg.Auth)
	batchHandler := handlers.NewBatchHandler(logger, eng)
	statusHandler := handlers.NewStatusHandler(logger, version, cfg.Auth.Mode, startedAt, cfg.Engine)

	// Unauthenticated surface: health probe and session issuing.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Post("/login", loginHandler.Login)

	// Session-guarded API. Local mode runs open.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Session(sessions, cfg.IsLocal(), logger))

		r.Post("/recommendations/batch", batchHandler.Batch)
		r.Get("/status/engine", statusHandler.Engine)
	})

	return r
}
