/**
 * @description
 * This file sets up the HTTP router for the monetization-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware. Creator-facing endpoints sit behind the Clerk JWT
 * middleware; webhook endpoints authenticate with provider signatures.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MonetizationRoutes creates and returns a new router for the
// monetization service.
func MonetizationRoutes(h *MonetizationHandlers, wh *WebhookHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhook endpoints. No JWT here; each handler verifies the
	// provider's own signature over the raw body.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", wh.StripeWebhookHandler)
		r.Post("/paypal", wh.PayPalWebhookHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		// Checkout
		r.Post("/checkout", h.InitiateChargeHandler)

		// Creator account linking
		r.Post("/account/link", h.LinkAccountHandler)
		r.Get("/account/status", h.AccountStatusHandler)

		// Earnings and payouts
		r.Get("/balance", h.BalanceHandler)
		r.Get("/stars", h.StarsBalanceHandler)
		r.Post("/payouts", h.RequestPayoutHandler)
	})

	return r
}
