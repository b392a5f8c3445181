package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/idanlevi/captionflow/internal/observability"
	"github.com/idanlevi/captionflow/internal/payment"
	"github.com/idanlevi/captionflow/internal/transport/middleware"
	"github.com/idanlevi/captionflow/internal/transport/swagger"
)

// RegisterAllRoutes wires the billing surface: gateway callbacks, checkout,
// invoice fetch, admin cleanup, health and observability endpoints.
func RegisterAllRoutes(
	router *chi.Mux,
	db *sql.DB,
	checkoutHandler *payment.CheckoutHandler,
	callbackHandler *payment.CallbackHandler,
	adminHandler *payment.AdminHandler,
	metrics *observability.Metrics,
	metricsPath string,
	logger *slog.Logger,
) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	if metrics != nil && metricsPath != "" {
		router.Handle(metricsPath, metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if callbackHandler != nil {
			// the gateway redirects browsers with GET but retries
			// server-to-server with POST; both carry the same parameters
			r.Get("/payments/callback/success", callbackHandler.HandleSuccess)
			r.Post("/payments/callback/success", callbackHandler.HandleSuccess)
			r.Get("/payments/callback/failure", callbackHandler.HandleFailure)
			r.Post("/payments/callback/failure", callbackHandler.HandleFailure)
		}

		if checkoutHandler != nil {
			r.Post("/payments/checkout", checkoutHandler.Checkout)
			r.Get("/payments/{orderID}/invoice", checkoutHandler.Invoice)
		}

		if adminHandler != nil {
			r.Post("/admin/idempotency/cleanup", adminHandler.CleanupIdempotency)
		}
	})
}
