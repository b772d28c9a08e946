/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the monetization-service. The
 * interface decouples business logic from the PostgreSQL implementation and
 * lets tests substitute lightweight stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// Balance rows are never read-modify-written by callers: every mutation goes
// through ApplyBalanceDelta or one of the settlement methods, all of which
// serialize on the creator's balance row.
type Repository interface {
	// User resolution (the users table is owned by the auth service).
	FindCreatorIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error)

	// Creator account methods.
	GetOrCreateCreatorAccount(ctx context.Context, creatorID uuid.UUID, provider string) (*domain.CreatorAccount, error)
	FindCreatorAccountByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorAccount, error)
	SetProviderAccount(ctx context.Context, creatorID uuid.UUID, provider, providerAccountID, accountStatus string) error
	UpdateAccountStatus(ctx context.Context, creatorID uuid.UUID, accountStatus string) error
	ActivateAccountByProviderAccountID(ctx context.Context, provider, providerAccountID string) (bool, error)
	SetCanMonetize(ctx context.Context, creatorID uuid.UUID, canMonetize bool) error
	GetStarsBalance(ctx context.Context, creatorID uuid.UUID) (int64, error)

	// Transaction methods.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error)
	// CompleteTransactionAndCredit marks a pending transaction completed and,
	// in the same database transaction, credits the creator's Stars balance
	// (stars purchases) or available/total_earned balance (everything else).
	// Returns applied=false without mutating anything when the row is already
	// terminal.
	CompleteTransactionAndCredit(ctx context.Context, transactionID uuid.UUID) (applied bool, err error)
	FailTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (applied bool, err error)

	// Balance ledger. The single exposed mutation primitive: get-or-create
	// the row, apply the deltas under a row lock, reject negative results.
	ApplyBalanceDelta(ctx context.Context, creatorID uuid.UUID, availableDelta, pendingDelta, totalEarnedDelta int64, currency string) error
	GetBalance(ctx context.Context, creatorID uuid.UUID) (*domain.Balance, error)

	// Payout methods.
	// CreatePayoutWithDebit locks the creator's balance row, verifies the
	// available amount meets the minimum, moves the full available amount to
	// pending, and inserts the pending payout row, all in one database
	// transaction.
	CreatePayoutWithDebit(ctx context.Context, creatorID uuid.UUID, minimum int64, currency, provider string) (*domain.Payout, error)
	SetPayoutBatchRef(ctx context.Context, payoutID uuid.UUID, batchRef string) error
	FindPayoutByBatchRef(ctx context.Context, provider, batchRef string) (*domain.Payout, error)
	// CompletePayoutAndSettle finalizes the provisional debit: payout ->
	// completed, balance pending -= amount.
	CompletePayoutAndSettle(ctx context.Context, payoutID uuid.UUID) (applied bool, err error)
	// FailPayoutAndRelease reverses the provisional debit: payout -> failed,
	// balance pending -= amount, available += amount. Also the compensating
	// step when the synchronous provider payout call fails.
	FailPayoutAndRelease(ctx context.Context, payoutID uuid.UUID, reason string) (applied bool, err error)

	// Webhook audit trail.
	RecordWebhookEvent(ctx context.Context, event domain.WebhookEvent) error
}
