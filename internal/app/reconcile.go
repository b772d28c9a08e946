/**
 * @description
 * The webhook reconciliation engine. Normalized provider events are the
 * only input that moves transactions and payouts to terminal states; this
 * file holds the idempotency gate, the orphan and duplicate handling, and
 * the downstream event publication that follows a successful settlement.
 *
 * Key features:
 * - Idempotent under redelivery: duplicate and out-of-order deliveries are
 *   detected through the terminal-state gate inside the repository's
 *   settlement methods and acknowledged without side effects.
 * - Transient storage failures are retried a bounded number of times and
 *   then surfaced, so the HTTP layer answers 5xx and the provider
 *   redelivers.
 * - Every accepted delivery leaves an audit row, including the ones that
 *   change nothing.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For parsing creator tracking references.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: For settlement event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
	"github.com/streamhive/monetization-service/pkg/rabbitmq"
)

// ErrTransientStorage marks reconciliation failures the provider should
// retry by redelivering the webhook.
var ErrTransientStorage = errors.New("transient storage failure")

const retryBackoff = 50 * time.Millisecond

// ReconciliationEngine applies normalized provider events to the ledger.
type ReconciliationEngine struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	retryAttempts int
}

// NewReconciliationEngine creates a reconciliation engine. retryAttempts is
// the total number of tries for retryable storage errors; values below 1 are
// clamped to 1.
func NewReconciliationEngine(repo store.Repository, producer rabbitmq.Publisher, retryAttempts int) *ReconciliationEngine {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &ReconciliationEngine{
		repo:          repo,
		eventProducer: producer,
		retryAttempts: retryAttempts,
	}
}

// Process applies one normalized provider event. A nil return means the
// delivery is fully accounted for and the provider may stop redelivering;
// an error wrapping ErrTransientStorage asks for redelivery.
func (e *ReconciliationEngine) Process(ctx context.Context, event *domain.ProviderEvent) error {
	switch event.Kind {
	case domain.EventChargeCompleted, domain.EventChargeFailed:
		return e.processCharge(ctx, event)
	case domain.EventPayoutCompleted, domain.EventPayoutFailed:
		return e.processPayout(ctx, event)
	case domain.EventAccountActivated:
		return e.processAccountActivation(ctx, event)
	default:
		log.Printf("level=info component=reconciliation msg=\"ignoring unhandled event\" provider=%s event_type=%s", event.Provider, event.EventType)
		e.audit(ctx, event, domain.EventOutcomeIgnored)
		return nil
	}
}

func (e *ReconciliationEngine) processCharge(ctx context.Context, event *domain.ProviderEvent) error {
	tx, err := e.findTransaction(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			// Orphaned deliveries happen when the provider retries an old
			// event or another environment shares the endpoint. Tolerated,
			// audited, acknowledged.
			log.Printf("level=warn component=reconciliation msg=\"orphaned charge event\" provider=%s reference=%s event_type=%s", event.Provider, event.Reference, event.EventType)
			e.audit(ctx, event, domain.EventOutcomeOrphaned)
			return nil
		}
		return err
	}

	if tx.Status != domain.StatusPending {
		e.audit(ctx, event, domain.EventOutcomeDuplicate)
		return nil
	}

	var applied bool
	if event.Kind == domain.EventChargeCompleted {
		applied, err = e.withRetry(ctx, func(ctx context.Context) (bool, error) {
			return e.repo.CompleteTransactionAndCredit(ctx, tx.ID)
		})
	} else {
		reason := event.Reason
		if reason == "" {
			reason = event.EventType
		}
		applied, err = e.withRetry(ctx, func(ctx context.Context) (bool, error) {
			return e.repo.FailTransaction(ctx, tx.ID, reason)
		})
	}
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race against a concurrent delivery of the same event.
		e.audit(ctx, event, domain.EventOutcomeDuplicate)
		return nil
	}

	e.audit(ctx, event, domain.EventOutcomeProcessed)
	if event.Kind == domain.EventChargeCompleted {
		e.publish("monetization.transaction.completed", domain.TransactionCompletedEvent{
			TransactionID: tx.ID,
			CreatorID:     tx.CreatorID,
			Kind:          tx.Kind,
			NetAmount:     tx.NetAmount,
			Currency:      tx.Currency,
			Timestamp:     time.Now().UTC(),
		})
	}
	log.Printf("level=info component=reconciliation msg=\"charge settled\" transaction_id=%s kind=%s status=%s", tx.ID, tx.Kind, chargeStatusFor(event.Kind))
	return nil
}

func (e *ReconciliationEngine) processPayout(ctx context.Context, event *domain.ProviderEvent) error {
	payout, err := e.repo.FindPayoutByBatchRef(ctx, event.Provider, event.Reference)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("level=warn component=reconciliation msg=\"orphaned payout event\" provider=%s batch_ref=%s event_type=%s", event.Provider, event.Reference, event.EventType)
			e.audit(ctx, event, domain.EventOutcomeOrphaned)
			return nil
		}
		if store.IsRetryable(err) {
			return fmt.Errorf("%w: find payout: %v", ErrTransientStorage, err)
		}
		return err
	}

	if payout.Status != domain.StatusPending {
		e.audit(ctx, event, domain.EventOutcomeDuplicate)
		return nil
	}

	var applied bool
	if event.Kind == domain.EventPayoutCompleted {
		applied, err = e.withRetry(ctx, func(ctx context.Context) (bool, error) {
			return e.repo.CompletePayoutAndSettle(ctx, payout.ID)
		})
	} else {
		reason := event.Reason
		if reason == "" {
			reason = event.EventType
		}
		applied, err = e.withRetry(ctx, func(ctx context.Context) (bool, error) {
			return e.repo.FailPayoutAndRelease(ctx, payout.ID, reason)
		})
	}
	if err != nil {
		return err
	}
	if !applied {
		e.audit(ctx, event, domain.EventOutcomeDuplicate)
		return nil
	}

	e.audit(ctx, event, domain.EventOutcomeProcessed)
	status := domain.StatusCompleted
	if event.Kind == domain.EventPayoutFailed {
		status = domain.StatusFailed
	}
	e.publish("monetization.payout."+status, domain.PayoutStatusEvent{
		PayoutID:  payout.ID,
		CreatorID: payout.CreatorID,
		Amount:    payout.Amount,
		Status:    status,
		Reason:    event.Reason,
		Timestamp: time.Now().UTC(),
	})
	log.Printf("level=info component=reconciliation msg=\"payout settled\" payout_id=%s status=%s", payout.ID, status)
	return nil
}

func (e *ReconciliationEngine) processAccountActivation(ctx context.Context, event *domain.ProviderEvent) error {
	// Onboarding completions that echo our tracking id identify the creator
	// directly; for the rest the provider account id must already be on file.
	if event.Reference != "" {
		if creatorID, err := uuid.Parse(event.Reference); err == nil {
			err := e.repo.SetProviderAccount(ctx, creatorID, event.Provider, event.AccountID, domain.AccountStatusActive)
			switch {
			case err == nil:
				e.audit(ctx, event, domain.EventOutcomeProcessed)
				log.Printf("level=info component=reconciliation msg=\"provider account activated\" creator_id=%s provider=%s", creatorID, event.Provider)
				return nil
			case errors.Is(err, store.ErrCreatorAccountNotFound):
				// Unknown tracking id. Fall through to the provider account
				// id match so the delivery is still acknowledged.
				log.Printf("level=warn component=reconciliation msg=\"activation for unknown creator\" provider=%s creator_id=%s", event.Provider, creatorID)
			case store.IsRetryable(err):
				return fmt.Errorf("%w: activate account: %v", ErrTransientStorage, err)
			default:
				return err
			}
		}
	}

	matched, err := e.repo.ActivateAccountByProviderAccountID(ctx, event.Provider, event.AccountID)
	if err != nil {
		if store.IsRetryable(err) {
			return fmt.Errorf("%w: activate account: %v", ErrTransientStorage, err)
		}
		return err
	}
	if !matched {
		log.Printf("level=warn component=reconciliation msg=\"activation for unknown account\" provider=%s account_id=%s", event.Provider, event.AccountID)
		e.audit(ctx, event, domain.EventOutcomeOrphaned)
		return nil
	}
	e.audit(ctx, event, domain.EventOutcomeProcessed)
	return nil
}

func (e *ReconciliationEngine) findTransaction(ctx context.Context, event *domain.ProviderEvent) (*domain.Transaction, error) {
	tx, err := e.repo.FindTransactionByProviderRef(ctx, event.Provider, event.Reference)
	if err != nil && store.IsRetryable(err) {
		return nil, fmt.Errorf("%w: find transaction: %v", ErrTransientStorage, err)
	}
	return tx, err
}

// withRetry runs a settlement operation, retrying retryable storage errors
// (serialization failures, deadlocks, lock timeouts) up to the configured
// attempt count before surfacing ErrTransientStorage.
func (e *ReconciliationEngine) withRetry(ctx context.Context, op func(context.Context) (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retryAttempts; attempt++ {
		applied, err := op(ctx)
		if err == nil {
			return applied, nil
		}
		if !store.IsRetryable(err) {
			return false, err
		}
		lastErr = err
		log.Printf("level=warn component=reconciliation msg=\"retryable storage error\" attempt=%d err=%v", attempt, err)
		if attempt < e.retryAttempts {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}
	return false, fmt.Errorf("%w: %v", ErrTransientStorage, lastErr)
}

// audit records the delivery outcome. Best-effort: an audit failure never
// turns a settled delivery into a redelivery.
func (e *ReconciliationEngine) audit(ctx context.Context, event *domain.ProviderEvent, outcome string) {
	record := domain.WebhookEvent{
		ID:         uuid.New(),
		Provider:   event.Provider,
		EventType:  event.EventType,
		Reference:  event.Reference,
		Outcome:    outcome,
		ReceivedAt: time.Now().UTC(),
	}
	if record.Reference == "" {
		record.Reference = event.AccountID
	}
	if err := e.repo.RecordWebhookEvent(ctx, record); err != nil {
		log.Printf("level=warn component=reconciliation msg=\"failed to record webhook audit row\" provider=%s event_type=%s err=%v", event.Provider, event.EventType, err)
	}
}

func (e *ReconciliationEngine) publish(routingKey string, payload any) {
	if err := e.eventProducer.Publish(routingKey, payload); err != nil {
		log.Printf("level=error component=reconciliation msg=\"failed to publish event\" routing_key=%s err=%v", routingKey, err)
	}
}

func chargeStatusFor(kind string) string {
	if kind == domain.EventChargeCompleted {
		return domain.StatusCompleted
	}
	return domain.StatusFailed
}
