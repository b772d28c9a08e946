/**
 * @description
 * Webhook ingestion endpoints for the payment providers. Each endpoint
 * verifies the provider's signature over the raw body before anything else
 * is parsed, normalizes the payload, and hands it to the reconciliation
 * engine. The response code is the contract with the provider's redelivery
 * loop: 2xx stops redelivery, 5xx asks for another attempt.
 *
 * @dependencies
 * - errors, io, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: Reconciliation engine and event types.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/streamhive/monetization-service/internal/app"
	"github.com/streamhive/monetization-service/internal/domain"
)

// maxWebhookBodyBytes bounds webhook payload reads. Provider events are
// small; anything larger is hostile.
const maxWebhookBodyBytes = 1 << 20

// WebhookVerifier is implemented by each provider client: signature
// verification over the raw body plus envelope normalization.
type WebhookVerifier interface {
	VerifySignature(body []byte, signatureHeader string) error
	ParseEvent(body []byte) (*domain.ProviderEvent, error)
}

// WebhookHandlers holds the reconciliation engine and the per-provider
// verifiers.
type WebhookHandlers struct {
	engine         *app.ReconciliationEngine
	stripeVerifier WebhookVerifier
	paypalVerifier WebhookVerifier
}

// NewWebhookHandlers creates webhook handlers for both providers.
func NewWebhookHandlers(engine *app.ReconciliationEngine, stripe, paypal WebhookVerifier) *WebhookHandlers {
	return &WebhookHandlers{
		engine:         engine,
		stripeVerifier: stripe,
		paypalVerifier: paypal,
	}
}

// StripeWebhookHandler handles deliveries signed with the Stripe-Signature
// header.
func (h *WebhookHandlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderStripe, h.stripeVerifier, r.Header.Get("Stripe-Signature"))
}

// PayPalWebhookHandler handles deliveries signed with the transmission
// signature header.
func (h *WebhookHandlers) PayPalWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderPayPal, h.paypalVerifier, r.Header.Get("Paypal-Transmission-Sig"))
}

func (h *WebhookHandlers) handle(w http.ResponseWriter, r *http.Request, provider string, verifier WebhookVerifier, signature string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=webhook provider=%s outcome=reject reason=body_read_failed err=%v", provider, err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := verifier.VerifySignature(body, signature); err != nil {
		log.Printf("level=warn component=webhook provider=%s outcome=reject reason=invalid_signature err=%v", provider, err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := verifier.ParseEvent(body)
	if err != nil {
		log.Printf("level=warn component=webhook provider=%s outcome=reject reason=invalid_payload err=%v", provider, err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.engine.Process(r.Context(), event); err != nil {
		if errors.Is(err, app.ErrTransientStorage) {
			// 5xx so the provider redelivers once storage recovers.
			log.Printf("level=warn component=webhook provider=%s outcome=retry event_type=%s reference=%s err=%v", provider, event.EventType, event.Reference, err)
			http.Error(w, "Temporary failure, please retry", http.StatusServiceUnavailable)
			return
		}
		log.Printf("level=error component=webhook provider=%s outcome=failed event_type=%s reference=%s err=%v", provider, event.EventType, event.Reference, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}
