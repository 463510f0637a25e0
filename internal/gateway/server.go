package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Get("/metrics", g.metrics.Handler().ServeHTTP)

	// The turn API is the product surface; callers hold the conversation
	// keys, so it is public like the teacher's webhook surface.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", g.handleTurn())
		r.Get("/conversations/{id}/cache-stats", g.handleCacheStats())
		r.Get("/conversations/{id}/window", g.handleWindowState())
		r.Delete("/conversations/{id}", g.handleReset())
	})

	// Diagnostics stream — auth when configured, open otherwise.
	if g.hub != nil {
		if g.config.authConfigured() {
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware(g.config.AuthToken))
				r.Get("/ws/diagnostics", g.handleDiagnostics())
			})
		} else {
			r.Get("/ws/diagnostics", g.handleDiagnostics())
		}
	}

	// Admin endpoints — not mounted without auth.
	if g.config.authConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.AuthToken))
			r.Get("/status", g.handleStatus())
		})
	}

	return r
}
