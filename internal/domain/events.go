/**
 * @description
 * Provider-neutral webhook event types. The API layer verifies each
 * provider's signature, decodes the provider-specific envelope, and
 * normalizes it into a ProviderEvent before handing it to the
 * reconciliation engine. The engine itself never sees provider wire
 * formats.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Normalized webhook event kinds.
const (
	EventChargeCompleted  = "charge_completed"
	EventChargeFailed     = "charge_failed"
	EventPayoutCompleted  = "payout_completed"
	EventPayoutFailed     = "payout_failed"
	EventAccountActivated = "account_activated"
	EventUnknown          = "unknown"
)

// Webhook audit outcomes recorded per delivery.
const (
	EventOutcomeProcessed = "processed"
	EventOutcomeDuplicate = "duplicate"
	EventOutcomeOrphaned  = "orphaned"
	EventOutcomeIgnored   = "ignored"
)

// ProviderEvent is a normalized webhook notification from a payment
// provider. Reference is the provider's own id for the affected resource:
// the charge/capture reference for charge events, the payout batch
// reference for payout events, and the provider account id for account
// events.
type ProviderEvent struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	EventType string `json:"event_type"` // provider's raw event type, for audit
	Reference string `json:"reference"`
	// AccountID is the provider-side account id for account events. For
	// onboarding flows where the provider echoes back our own tracking id,
	// Reference carries the creator UUID and AccountID the remote account.
	AccountID string `json:"account_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WebhookEvent is the audit record persisted for every accepted delivery.
type WebhookEvent struct {
	ID         uuid.UUID `json:"id"`
	Provider   string    `json:"provider"`
	EventType  string    `json:"event_type"`
	Reference  string    `json:"reference"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"received_at"`
}

// EligibilityEvent is the RabbitMQ payload consumed when the platform's
// business rules flip a creator's monetization eligibility.
type EligibilityEvent struct {
	CreatorID   uuid.UUID `json:"creator_id"`
	CanMonetize bool      `json:"can_monetize"`
	Reason      string    `json:"reason,omitempty"`
}

// TransactionCompletedEvent is published for the notification service when
// a charge settles.
type TransactionCompletedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatorID     uuid.UUID `json:"creator_id"`
	Kind          string    `json:"kind"`
	NetAmount     int64     `json:"net_amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// PayoutStatusEvent is published when a payout reaches a terminal state.
type PayoutStatusEvent struct {
	PayoutID  uuid.UUID `json:"payout_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
