/**
 * @description
 * Webhook signature verification and envelope decoding for Stripe events.
 * Verification runs before any business field of the payload is parsed.
 *
 * The Stripe-Signature header carries `t=<unix>,v1=<hex hmac>` elements;
 * the HMAC-SHA256 is computed over "<t>.<raw body>" with the endpoint
 * secret. Comparison is constant-time.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex, encoding/json: Standard Go libraries.
 * - internal/domain: Normalized event types.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/streamhive/monetization-service/internal/domain"
)

// ErrInvalidSignature is returned for any malformed or mismatched
// Stripe-Signature header.
var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// webhookEnvelope is the outer shape of a Stripe event payload.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			ChargesEnabled   bool   `json:"charges_enabled"`
			PayoutsEnabled   bool   `json:"payouts_enabled"`
			FailureMessage   string `json:"failure_message"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// VerifySignature checks the Stripe-Signature header against the raw body.
func (c *Client) VerifySignature(body []byte, signatureHeader string) error {
	if c.webhookSecret == "" {
		return errors.New("stripe webhook secret not configured")
	}

	var timestamp, provided string
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = part[2:]
		case strings.HasPrefix(part, "v1="):
			provided = part[3:]
		}
	}
	if timestamp == "" || provided == "" {
		return ErrInvalidSignature
	}

	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(providedBytes, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent decodes a verified payload into the normalized event the
// reconciliation engine understands. Event types outside the handled set
// map to EventUnknown so redelivery loops are never blocked on them.
func (c *Client) ParseEvent(body []byte) (*domain.ProviderEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	event := &domain.ProviderEvent{
		Provider:  domain.ProviderStripe,
		EventType: envelope.Type,
		Reference: envelope.Data.Object.ID,
	}

	switch envelope.Type {
	case "payment_intent.succeeded":
		event.Kind = domain.EventChargeCompleted
	case "payment_intent.payment_failed":
		event.Kind = domain.EventChargeFailed
		event.Reason = envelope.Data.Object.LastPaymentError.Message
	case "charge.refunded":
		event.Kind = domain.EventChargeFailed
		event.Reason = "charge refunded"
	case "payout.paid":
		event.Kind = domain.EventPayoutCompleted
	case "payout.failed":
		event.Kind = domain.EventPayoutFailed
		event.Reason = envelope.Data.Object.FailureMessage
	case "account.updated":
		if envelope.Data.Object.ChargesEnabled && envelope.Data.Object.PayoutsEnabled {
			event.Kind = domain.EventAccountActivated
			event.AccountID = envelope.Data.Object.ID
			event.Reference = ""
		} else {
			event.Kind = domain.EventUnknown
		}
	default:
		event.Kind = domain.EventUnknown
	}

	return event, nil
}
