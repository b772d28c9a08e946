/**
 * @description
 * Webhook signature verification and envelope decoding for PayPal events.
 * Verification runs before any business field of the payload is parsed.
 *
 * The transmission signature header carries a base64 HMAC-SHA256 of the raw
 * body keyed by the webhook secret. Comparison is constant-time.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, encoding/json: Standard Go libraries.
 * - internal/domain: Normalized event types.
 */
package paypalclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/streamhive/monetization-service/internal/domain"
)

// ErrInvalidSignature is returned for any malformed or mismatched
// transmission signature header.
var ErrInvalidSignature = errors.New("invalid paypal webhook signature")

// webhookEnvelope is the outer shape of a PayPal event payload.
type webhookEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID           string `json:"id"`
		StatusDetail struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
		} `json:"batch_header"`
		Merchant struct {
			MerchantID string `json:"merchant_id"`
		} `json:"merchant_integration"`
		MerchantID string `json:"merchant_id"`
		TrackingID string `json:"tracking_id"`
	} `json:"resource"`
}

// VerifySignature checks the transmission signature header against the raw body.
func (c *Client) VerifySignature(body []byte, signatureHeader string) error {
	if c.webhookSecret == "" {
		return errors.New("paypal webhook secret not configured")
	}

	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
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
		Provider:  domain.ProviderPayPal,
		EventType: envelope.EventType,
		Reference: envelope.Resource.ID,
	}

	switch envelope.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		event.Kind = domain.EventChargeCompleted
	case "PAYMENT.CAPTURE.DENIED":
		event.Kind = domain.EventChargeFailed
		event.Reason = envelope.Resource.StatusDetail.Reason
	case "PAYMENT.CAPTURE.REFUNDED":
		event.Kind = domain.EventChargeFailed
		event.Reason = "capture refunded"
	case "PAYMENT.PAYOUTSBATCH.SUCCESS":
		event.Kind = domain.EventPayoutCompleted
		if envelope.Resource.BatchHeader.PayoutBatchID != "" {
			event.Reference = envelope.Resource.BatchHeader.PayoutBatchID
		}
	case "PAYMENT.PAYOUTSBATCH.DENIED":
		event.Kind = domain.EventPayoutFailed
		event.Reason = envelope.Resource.StatusDetail.Reason
		if envelope.Resource.BatchHeader.PayoutBatchID != "" {
			event.Reference = envelope.Resource.BatchHeader.PayoutBatchID
		}
	case "MERCHANT.ONBOARDING.COMPLETED":
		// tracking_id echoes the creator UUID we supplied when onboarding
		// started; merchant_id is the account PayPal assigned.
		event.Kind = domain.EventAccountActivated
		event.Reference = envelope.Resource.TrackingID
		if envelope.Resource.Merchant.MerchantID != "" {
			event.AccountID = envelope.Resource.Merchant.MerchantID
		} else {
			event.AccountID = envelope.Resource.MerchantID
		}
	default:
		event.Kind = domain.EventUnknown
	}

	return event, nil
}
