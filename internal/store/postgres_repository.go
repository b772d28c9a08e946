/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to maintain the monetization
 * ledger: creator accounts, transactions, balances, payouts, and the
 * webhook audit trail.
 *
 * Key invariants enforced here:
 * - Balance rows are only ever mutated under a `SELECT ... FOR UPDATE` row
 *   lock (or the equivalent locking upsert), so concurrent events for the
 *   same creator serialize while different creators proceed in parallel.
 * - Transaction and payout status transitions are gated on the current
 *   status inside the same database transaction that applies the balance
 *   delta, making every settlement idempotent under redelivery.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streamhive/monetization-service/internal/domain"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrCreatorAccountNotFound = errors.New("creator account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrBalanceNotFound        = errors.New("balance not found")
	ErrPayoutNotFound         = errors.New("payout not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNegativeBalance        = errors.New("negative balance")
	ErrDuplicateProviderRef   = errors.New("duplicate provider reference")
)

const (
	txColumns     = `id, creator_id, payer_id, kind, amount, fee, net_amount, currency, stars_quantity, provider, provider_reference, status, failure_reason, created_at, updated_at`
	payoutColumns = `id, creator_id, amount, currency, provider, batch_reference, status, failure_reason, created_at, updated_at`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IsRetryable reports whether a storage error is transient contention
// (serialization failure, deadlock, lock timeout) that the caller may retry.
// Webhook callers surface these as redeliverable failures to the provider.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

// FindCreatorIDByClerkUserID resolves the internal UUID from a Clerk user id.
// The users table is managed by the auth service during onboarding.
func (r *PostgresRepository) FindCreatorIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// GetOrCreateCreatorAccount returns the creator's account row, creating it
// lazily with status 'none' on first use. The insert races safely: a
// concurrent first call lands on the unique creator_id index and falls
// through to the select.
func (r *PostgresRepository) GetOrCreateCreatorAccount(ctx context.Context, creatorID uuid.UUID, provider string) (*domain.CreatorAccount, error) {
	query := `
		INSERT INTO creator_accounts (id, creator_id, provider, account_status, can_monetize, stars_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 'none', FALSE, 0, NOW(), NOW())
		ON CONFLICT (creator_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, creator_id, provider, provider_account_id, account_status, can_monetize, stars_balance, created_at, updated_at`
	var acct domain.CreatorAccount
	err := r.db.QueryRow(ctx, query, uuid.New(), creatorID, provider).Scan(
		&acct.ID, &acct.CreatorID, &acct.Provider, &acct.ProviderAccountID,
		&acct.AccountStatus, &acct.CanMonetize, &acct.StarsBalance,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// FindCreatorAccountByCreatorID retrieves a creator account without creating one.
func (r *PostgresRepository) FindCreatorAccountByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorAccount, error) {
	query := `
		SELECT id, creator_id, provider, provider_account_id, account_status, can_monetize, stars_balance, created_at, updated_at
		FROM creator_accounts WHERE creator_id = $1`
	var acct domain.CreatorAccount
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&acct.ID, &acct.CreatorID, &acct.Provider, &acct.ProviderAccountID,
		&acct.AccountStatus, &acct.CanMonetize, &acct.StarsBalance,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCreatorAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// SetProviderAccount records the remote account id and status after a
// successful provider call.
func (r *PostgresRepository) SetProviderAccount(ctx context.Context, creatorID uuid.UUID, provider, providerAccountID, accountStatus string) error {
	query := `
		UPDATE creator_accounts
		SET provider = $1, provider_account_id = $2, account_status = $3, updated_at = NOW()
		WHERE creator_id = $4`
	tag, err := r.db.Exec(ctx, query, provider, providerAccountID, accountStatus, creatorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCreatorAccountNotFound
	}
	return nil
}

// UpdateAccountStatus updates only the verification status.
func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, creatorID uuid.UUID, accountStatus string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE creator_accounts SET account_status = $1, updated_at = NOW() WHERE creator_id = $2`,
		accountStatus, creatorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCreatorAccountNotFound
	}
	return nil
}

// ActivateAccountByProviderAccountID flips the account to 'active' when a
// provider account webhook reports full capability. Returns false when no
// local account matches the remote id.
func (r *PostgresRepository) ActivateAccountByProviderAccountID(ctx context.Context, provider, providerAccountID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE creator_accounts SET account_status = 'active', updated_at = NOW()
		 WHERE provider = $1 AND provider_account_id = $2`,
		provider, providerAccountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetCanMonetize updates the eligibility flag, creating the account row
// lazily so an eligibility event can precede the first link attempt.
func (r *PostgresRepository) SetCanMonetize(ctx context.Context, creatorID uuid.UUID, canMonetize bool) error {
	query := `
		INSERT INTO creator_accounts (id, creator_id, provider, account_status, can_monetize, stars_balance, created_at, updated_at)
		VALUES ($1, $2, '', 'none', $3, 0, NOW(), NOW())
		ON CONFLICT (creator_id) DO UPDATE SET can_monetize = EXCLUDED.can_monetize, updated_at = NOW()`
	_, err := r.db.Exec(ctx, query, uuid.New(), creatorID, canMonetize)
	return err
}

// GetStarsBalance returns the creator's Stars balance scalar.
func (r *PostgresRepository) GetStarsBalance(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	var stars int64
	err := r.db.QueryRow(ctx, `SELECT stars_balance FROM creator_accounts WHERE creator_id = $1`, creatorID).Scan(&stars)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrCreatorAccountNotFound
		}
		return 0, err
	}
	return stars, nil
}

// CreateTransaction inserts a new pending ledger transaction. The unique
// index on (provider, provider_reference) rejects a second row for the same
// provider reference.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, creator_id, payer_id, kind, amount, fee, net_amount, currency, stars_quantity, provider, provider_reference, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		tx.ID, tx.CreatorID, tx.PayerID, tx.Kind, tx.Amount, tx.Fee, tx.NetAmount,
		tx.Currency, tx.StarsQuantity, tx.Provider, tx.ProviderRef, tx.Status,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProviderRef
		}
		return err
	}
	return nil
}

// FindTransactionByProviderRef looks up the ledger transaction matching a
// provider's own charge/capture reference.
func (r *PostgresRepository) FindTransactionByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE provider = $1 AND provider_reference = $2`
	row := r.db.QueryRow(ctx, query, provider, providerRef)
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.CreatorID, &tx.PayerID, &tx.Kind, &tx.Amount, &tx.Fee, &tx.NetAmount,
		&tx.Currency, &tx.StarsQuantity, &tx.Provider, &tx.ProviderRef, &tx.Status,
		&tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// applyBalanceDeltaTx is the single code path through which every balance
// mutation flows. It get-or-creates the row, locks it, applies the deltas,
// and rejects any result that would go negative. Must run inside the
// caller's transaction so settlement stays atomic per creator.
func applyBalanceDeltaTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, availableDelta, pendingDelta, totalEarnedDelta int64, currency string) error {
	// The upsert takes the row lock for newly created rows; existing rows
	// are locked explicitly before the update below.
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (creator_id, available, pending, total_earned, currency, created_at, updated_at)
		VALUES ($1, 0, 0, 0, $2, NOW(), NOW())
		ON CONFLICT (creator_id) DO NOTHING`, creatorID, currency)
	if err != nil {
		return err
	}

	var available, pending int64
	err = tx.QueryRow(ctx,
		`SELECT available, pending FROM balances WHERE creator_id = $1 FOR UPDATE`,
		creatorID).Scan(&available, &pending)
	if err != nil {
		return err
	}

	if available+availableDelta < 0 || pending+pendingDelta < 0 {
		return ErrNegativeBalance
	}

	_, err = tx.Exec(ctx, `
		UPDATE balances
		SET available = available + $1, pending = pending + $2, total_earned = total_earned + $3, updated_at = NOW()
		WHERE creator_id = $4`,
		availableDelta, pendingDelta, totalEarnedDelta, creatorID)
	return err
}

// ApplyBalanceDelta applies the deltas as a standalone atomic operation.
func (r *PostgresRepository) ApplyBalanceDelta(ctx context.Context, creatorID uuid.UUID, availableDelta, pendingDelta, totalEarnedDelta int64, currency string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := applyBalanceDeltaTx(ctx, tx, creatorID, availableDelta, pendingDelta, totalEarnedDelta, currency); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance returns the creator's balance snapshot. A creator who has not
// earned yet gets ErrBalanceNotFound; callers translate that to zeros.
func (r *PostgresRepository) GetBalance(ctx context.Context, creatorID uuid.UUID) (*domain.Balance, error) {
	var b domain.Balance
	err := r.db.QueryRow(ctx, `
		SELECT creator_id, available, pending, total_earned, currency, created_at, updated_at
		FROM balances WHERE creator_id = $1`, creatorID).Scan(
		&b.CreatorID, &b.Available, &b.Pending, &b.TotalEarned, &b.Currency, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CompleteTransactionAndCredit transitions a pending transaction to
// completed and applies the credit in the same database transaction. The
// FOR UPDATE lock plus the status gate make redelivered completion events
// no-ops: the second delivery sees a terminal row and applies nothing.
func (r *PostgresRepository) CompleteTransactionAndCredit(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	row := dbTx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		return false, err
	}
	if tx.Status != domain.StatusPending {
		// Idempotency gate: already terminal, nothing to apply.
		return false, dbTx.Commit(ctx)
	}

	_, err = dbTx.Exec(ctx,
		`UPDATE transactions SET status = 'completed', updated_at = NOW() WHERE id = $1`,
		transactionID)
	if err != nil {
		return false, err
	}

	if tx.Kind == domain.KindStarsPurchase {
		quantity := int64(0)
		if tx.StarsQuantity != nil {
			quantity = *tx.StarsQuantity
		}
		_, err = dbTx.Exec(ctx,
			`UPDATE creator_accounts SET stars_balance = stars_balance + $1, updated_at = NOW() WHERE creator_id = $2`,
			quantity, tx.CreatorID)
		if err != nil {
			return false, err
		}
	} else {
		if err := applyBalanceDeltaTx(ctx, dbTx, tx.CreatorID, tx.NetAmount, 0, tx.NetAmount, tx.Currency); err != nil {
			return false, err
		}
	}

	return true, dbTx.Commit(ctx)
}

// FailTransaction transitions a pending transaction to failed. No balance
// mutation: nothing was credited for a pending transaction.
func (r *PostgresRepository) FailTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	var status string
	err = dbTx.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, transactionID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrTransactionNotFound
		}
		return false, err
	}
	if status != domain.StatusPending {
		return false, dbTx.Commit(ctx)
	}

	_, err = dbTx.Exec(ctx,
		`UPDATE transactions SET status = 'failed', failure_reason = $1, updated_at = NOW() WHERE id = $2`,
		nullable(reason), transactionID)
	if err != nil {
		return false, err
	}
	return true, dbTx.Commit(ctx)
}

// CreatePayoutWithDebit moves the creator's full available balance to
// pending and creates the payout row in one atomic unit. The balance row
// lock serializes concurrent payout requests for the same creator, so the
// second request observes available=0 and fails the minimum check.
func (r *PostgresRepository) CreatePayoutWithDebit(ctx context.Context, creatorID uuid.UUID, minimum int64, currency, provider string) (*domain.Payout, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	var available int64
	err = dbTx.QueryRow(ctx,
		`SELECT available FROM balances WHERE creator_id = $1 FOR UPDATE`, creatorID).Scan(&available)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}
	if available < minimum || available <= 0 {
		return nil, ErrInsufficientBalance
	}

	if err := applyBalanceDeltaTx(ctx, dbTx, creatorID, -available, available, 0, currency); err != nil {
		return nil, err
	}

	payout := &domain.Payout{
		ID:        uuid.New(),
		CreatorID: creatorID,
		Amount:    available,
		Currency:  currency,
		Provider:  provider,
		Status:    domain.StatusPending,
	}
	err = dbTx.QueryRow(ctx, `
		INSERT INTO payouts (id, creator_id, amount, currency, provider, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW(), NOW())
		RETURNING created_at, updated_at`,
		payout.ID, payout.CreatorID, payout.Amount, payout.Currency, payout.Provider,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}
	return payout, nil
}

// SetPayoutBatchRef records the provider's batch reference after the
// outbound payout call succeeds.
func (r *PostgresRepository) SetPayoutBatchRef(ctx context.Context, payoutID uuid.UUID, batchRef string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payouts SET batch_reference = $1, updated_at = NOW() WHERE id = $2`,
		batchRef, payoutID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

// FindPayoutByBatchRef looks up a payout by the provider's batch reference.
func (r *PostgresRepository) FindPayoutByBatchRef(ctx context.Context, provider, batchRef string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE provider = $1 AND batch_reference = $2`
	row := r.db.QueryRow(ctx, query, provider, batchRef)
	return scanPayout(row)
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.Amount, &p.Currency, &p.Provider,
		&p.BatchRef, &p.Status, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CompletePayoutAndSettle finalizes a pending payout: the provisional debit
// parked in `pending` is burned down now that the provider confirmed the
// money left the platform.
func (r *PostgresRepository) CompletePayoutAndSettle(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	return r.settlePayout(ctx, payoutID, domain.StatusCompleted, "")
}

// FailPayoutAndRelease reverses the provisional debit, moving the amount
// from `pending` back to `available`.
func (r *PostgresRepository) FailPayoutAndRelease(ctx context.Context, payoutID uuid.UUID, reason string) (bool, error) {
	return r.settlePayout(ctx, payoutID, domain.StatusFailed, reason)
}

func (r *PostgresRepository) settlePayout(ctx context.Context, payoutID uuid.UUID, finalStatus, reason string) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	row := dbTx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, payoutID)
	payout, err := scanPayout(row)
	if err != nil {
		return false, err
	}
	if payout.Status != domain.StatusPending {
		// Idempotency gate: redelivered payout webhook, nothing to apply.
		return false, dbTx.Commit(ctx)
	}

	_, err = dbTx.Exec(ctx,
		`UPDATE payouts SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3`,
		finalStatus, nullable(reason), payoutID)
	if err != nil {
		return false, err
	}

	availableDelta := int64(0)
	if finalStatus == domain.StatusFailed {
		availableDelta = payout.Amount
	}
	if err := applyBalanceDeltaTx(ctx, dbTx, payout.CreatorID, availableDelta, -payout.Amount, 0, payout.Currency); err != nil {
		return false, err
	}

	return true, dbTx.Commit(ctx)
}

// RecordWebhookEvent appends the audit row for an accepted delivery.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, event_type, reference, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, event.Provider, event.EventType, event.Reference, event.Outcome, receivedAt)
	return err
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
