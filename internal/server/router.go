// Package server wires the gateway's HTTP surface: the JSON API, the API-key
// check, and the health endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	healthhandler "chat-otp-gateway/internal/health/handler"
)

// Deps holds the dependencies for the router.
type Deps struct {
	// Handler serves the JSON API. Required.
	Handler *Handler
	// Health serves GET /healthz. If nil, /healthz returns 404.
	Health *healthhandler.Handler
	// APIKey guards /api routes via the X-Api-Key header. Empty disables the check.
	APIKey string
}

// NewRouter builds the chi router: global middleware, the public health
// endpoint, and the API-key-guarded /api routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	if d.Health != nil {
		r.Get("/healthz", d.Health.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APIKeyAuth(d.APIKey))

		r.Post("/contact", d.Handler.Contact)
		r.Get("/contact", d.Handler.ContactList)
		r.Get("/delivery/{destination}", d.Handler.DeliveryLog)

		r.Route("/otp", func(r chi.Router) {
			r.Post("/send", d.Handler.OTPSend)
			r.Post("/verify", d.Handler.OTPVerify)
			r.Get("/status/{uuid}", d.Handler.OTPStatus)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/status", d.Handler.SessionStatus)
			r.Post("/restart", d.Handler.SessionRestart)
			r.Post("/qr", d.Handler.SessionQR)
		})
	})

	return r
}
