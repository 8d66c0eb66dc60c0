package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
)

func init() { Register("api", registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Use(apiCORS(d))

		// The live socket outlives any request timeout.
		r.Get("/live", handlers.Live(d))

		limit := writeLimit(d)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Use(mw.RequireSession(d.Backend, d.Guard, d.Logger))

			r.Get("/me", handlers.Me(d))
			r.Get("/bookmarks", handlers.ListBookmarks(d))
			r.With(limit).Post("/bookmarks", handlers.CreateBookmark(d))
			r.With(limit).Delete("/bookmarks/{id}", handlers.DeleteBookmark(d))
		})
	})
}

func apiCORS(d deps.Deps) Middleware {
	return cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func writeLimit(d deps.Deps) Middleware {
	return mw.RateLimit(mw.RateLimitConfig{
		Burst:        d.RateLimitBurst,
		RefillPerMin: d.RateLimitPerMin,
		MaxEntries:   10000,
		TrustProxy:   d.TrustProxy,
	}, d.Logger)
}
