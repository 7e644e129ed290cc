package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (app *application) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", app.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(app.authenticate)
		r.Get("/games", app.handleGames)
		r.Get("/games/{id}/sgf", app.handleSGF)
	})

	return r
}
