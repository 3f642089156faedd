package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (a *App) routes(api *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/", HealthHandler)
	r.Get("/test", TestPageHandler)

	r.Route("/api/v1", func(r chi.Router) {
		api.routes(r)
		r.Get("/chat/{roomID}", a.handleChat)
	})
	return r
}
