package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
)

func init() { Register("pages", registerPages) }

func registerPages(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/", handlers.Landing(d))
		r.Get("/dashboard", handlers.Dashboard(d))
		r.Handle("/static/*", handlers.Static())

		r.Get("/auth/login", handlers.Login(d))
		r.With(writeLimit(d)).Post("/auth/session", handlers.Session(d))
		r.Post("/auth/logout", handlers.Logout(d))
	})
}
