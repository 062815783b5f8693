package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, maxInFlight int64) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(ClaimsMiddleware)

	// Bounded in-flight counter for the query path only; overload returns
	// 429 rather than queueing behind the solver.
	admit := AdmissionMiddleware(maxInFlight)

	// Public probes (no auth)
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/ingest", h.Ingest)
			r.With(admit).Post("/route", h.Route)
			r.With(admit).Post("/compose", h.Compose)
			r.Post("/verify", h.Verify)
			r.Get("/db-receipt", h.DBReceipt)
			r.Get("/manifest", h.Manifest)
			r.Patch("/lattices/{latticeID}/display-name", h.SetDisplayName)
		})
	})

	return r
}
