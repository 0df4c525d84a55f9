package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/finlearn-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса финлёрн.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", h.ListLessons)
			r.Post("/seed", h.SeedCatalog)
			r.Get("/{lessonID}", h.GetLesson)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/{lessonID}/complete", h.CompleteLesson)
			})
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/account", h.EnsureAccount)
			r.Get("/account", h.GetAccount)
			r.Post("/profile", h.SetProfile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
