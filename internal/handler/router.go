package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/braidbook/braidbook-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса braidbook.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.ListBookings)
			r.Get("/bookings/{id}", h.GetBooking)

			r.Post("/bookings/{id}/deposit", h.Deposit)
			r.Post("/bookings/{id}/remainder", h.Remainder)
			r.Post("/bookings/{id}/start", h.Start)
			r.Post("/bookings/{id}/cancel", h.Cancel)
			r.Post("/bookings/{id}/review", h.Review)

			r.Get("/resources/{id}/stats", h.ResourceStats)
			r.Get("/resources/{id}/slots", h.AvailableSlots)
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

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
