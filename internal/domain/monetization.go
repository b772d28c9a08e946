/**
 * @description
 * This file defines the core domain models for the monetization-service.
 * These structs represent the entities owned by the creator monetization
 * ledger (creator provider accounts, transactions, balances, payouts) and
 * the DTOs exchanged with the API layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Transaction and Payout rows never move backwards: `pending` may become
 *   `completed` or `failed` exactly once; terminal rows are immutable.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment provider identifiers. The provider a transaction was routed to is
// fixed at charge initiation and never re-derived during reconciliation.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// Transaction kinds.
const (
	KindTip           = "tip"
	KindStarsPurchase = "stars_purchase"
	KindSubscription  = "subscription"
)

// Lifecycle statuses shared by transactions and payouts.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Creator account verification statuses.
const (
	AccountStatusNone    = "none"
	AccountStatusPending = "pending"
	AccountStatusActive  = "active"
)

// ProviderCapabilities describes what a payment provider can do on behalf of
// a creator. The charge initiator and payout processor consult this
// descriptor instead of branching on provider identity.
type ProviderCapabilities struct {
	// SupportsDirectTransfer is true when the provider can charge a payer
	// directly into a connected creator account with a platform fee skim.
	// When false, the platform holds funds and pays out in batches later.
	SupportsDirectTransfer bool
}

// CreatorAccount links a platform creator to an external provider account
// and carries the Stars balance scalar. This struct maps directly to the
// `creator_accounts` table.
type CreatorAccount struct {
	ID                uuid.UUID `json:"id"`
	CreatorID         uuid.UUID `json:"creator_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID *string   `json:"provider_account_id,omitempty"`
	AccountStatus     string    `json:"account_status"` // 'none', 'pending', 'active'
	CanMonetize       bool      `json:"can_monetize"`
	StarsBalance      int64     `json:"stars_balance"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Transaction is the ledger record for one monetary event (tip, stars
// purchase, or subscription charge). Exactly one row exists per provider
// reference; the unique index on (provider, provider_reference) is what
// makes duplicate webhook detection reliable under concurrent delivery.
type Transaction struct {
	ID            uuid.UUID `json:"id"`
	CreatorID     uuid.UUID `json:"creator_id"`
	PayerID       uuid.UUID `json:"payer_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`     // gross, in cents
	Fee           int64     `json:"fee"`        // platform fee, in cents
	NetAmount     int64     `json:"net_amount"` // creator-net, in cents
	Currency      string    `json:"currency"`
	StarsQuantity *int64    `json:"stars_quantity,omitempty"`
	Provider      string    `json:"provider"`
	ProviderRef   string    `json:"provider_reference"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Balance is a creator's authoritative monetary state. One row per creator,
// mutated exclusively through the repository's atomic delta operation.
type Balance struct {
	CreatorID   uuid.UUID `json:"creator_id"`
	Available   int64     `json:"available"`
	Pending     int64     `json:"pending"`
	TotalEarned int64     `json:"total_earned"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payout is one attempt to move a creator's available balance out to the
// external provider. While a payout is pending, its amount lives in the
// balance's `pending` component.
type Payout struct {
	ID            uuid.UUID `json:"id"`
	CreatorID     uuid.UUID `json:"creator_id"`
	Amount        int64     `json:"amount"` // in cents
	Currency      string    `json:"currency"`
	Provider      string    `json:"provider"`
	BatchRef      *string   `json:"batch_reference,omitempty"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountLink is returned by the account linker. Exactly one of the URLs is
// set: OnboardingURL while the remote account still needs creator action,
// DashboardURL once the account reports full capability.
type AccountLink struct {
	Provider      string `json:"provider"`
	AccountStatus string `json:"account_status"`
	OnboardingURL string `json:"onboarding_url,omitempty"`
	DashboardURL  string `json:"dashboard_url,omitempty"`
}

// AccountStatus is the read model consumed by the "can I monetize" gate.
type AccountStatus struct {
	Provider      string `json:"provider"`
	AccountStatus string `json:"account_status"`
	CanMonetize   bool   `json:"can_monetize"`
}

// RemoteAccountCapability is the capability snapshot read back from a
// provider for a connected creator account.
type RemoteAccountCapability struct {
	ChargesEnabled bool `json:"charges_enabled"`
	PayoutsEnabled bool `json:"payouts_enabled"`
}

// ChargeParams describes a payable intent to create against a provider.
// DestinationAccountID is set only for direct-transfer routing; when empty
// the full amount settles into the platform's own account.
type ChargeParams struct {
	Amount               int64  `json:"amount"` // gross, in cents
	Fee                  int64  `json:"fee"`    // platform fee skim, in cents
	Currency             string `json:"currency"`
	Description          string `json:"description"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`
}

// ChargeAuthorization is the provider's answer to an intent creation:
// the reference later echoed by webhooks and the secret the client needs
// to confirm the payment.
type ChargeAuthorization struct {
	Reference   string `json:"reference"`
	ClientToken string `json:"client_token"`
}

// PayoutParams describes an outbound payout batch request.
type PayoutParams struct {
	Amount               int64  `json:"amount"` // in cents
	Currency             string `json:"currency"`
	DestinationAccountID string `json:"destination_account_id"`
	Note                 string `json:"note,omitempty"`
}

// CreateChargeRequest is the DTO for incoming checkout-initiate API requests.
type CreateChargeRequest struct {
	CreatorID uuid.UUID `json:"creator_id"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"` // in cents
	Currency  string    `json:"currency"`
}

// ChargeSession is returned to the checkout collaborator. ClientAuthToken is
// the provider-issued secret the client uses to confirm the payment.
type ChargeSession struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	ClientAuthToken string    `json:"client_auth_token"`
	Provider        string    `json:"provider"`
	Amount          int64     `json:"amount"`
	Fee             int64     `json:"fee"`
	Currency        string    `json:"currency"`
}

// LinkAccountRequest is the DTO for provider account link API requests.
type LinkAccountRequest struct {
	Provider string `json:"provider"`
}

// BalanceSnapshot is the read model consumed by the creator earnings UI.
type BalanceSnapshot struct {
	Available   int64  `json:"available"`
	Pending     int64  `json:"pending"`
	TotalEarned int64  `json:"total_earned"`
	Currency    string `json:"currency"`
}

// StarsSnapshot is the read model for a creator's Stars balance.
type StarsSnapshot struct {
	Stars int64 `json:"stars"`
}
