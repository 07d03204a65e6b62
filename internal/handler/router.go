package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Stan7771213/paytapper-sub000/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса paytapper.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	// Вебхук и создание сессии оплаты доступны без сессии:
	// первый вызывает провайдер, второй — плательщик.
	r.Post("/api/webhook/stripe", h.StripeWebhook)
	r.Post("/api/checkout", h.CreateCheckout)

	r.Route("/api/client", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/password/reset", h.RequestPasswordReset)
		r.Post("/password/reset/confirm", h.ConfirmPasswordReset)
		r.Get("/{clientID}/connect/status", h.GetConnectStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.Middleware)

			r.Post("/logout", h.Logout)
			r.Post("/connect/onboard", h.StartOnboarding)
			r.Get("/payments", h.GetPayments)
			r.Get("/export", h.ExportPayments)
		})
	})

	r.Handle("/metrics", h.metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
