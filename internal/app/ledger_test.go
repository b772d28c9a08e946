package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
)

// memoryLedger is an in-memory Repository with the same settlement
// arithmetic and terminal-state gates as the SQL implementation, so the
// engine and service can be driven through full scenario chains with the
// balance math actually executed.
type memoryLedger struct {
	store.Repository

	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.CreatorAccount
	transactions map[uuid.UUID]*domain.Transaction
	payouts      map[uuid.UUID]*domain.Payout
	balances     map[uuid.UUID]*domain.Balance
	audits       []string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		accounts:     make(map[uuid.UUID]*domain.CreatorAccount),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		payouts:      make(map[uuid.UUID]*domain.Payout),
		balances:     make(map[uuid.UUID]*domain.Balance),
	}
}

// applyDelta mirrors applyBalanceDeltaTx: get-or-create, apply, reject
// negative results. Callers hold l.mu.
func (l *memoryLedger) applyDelta(creatorID uuid.UUID, availableDelta, pendingDelta, totalEarnedDelta int64, currency string) error {
	b, ok := l.balances[creatorID]
	if !ok {
		b = &domain.Balance{CreatorID: creatorID, Currency: currency}
		l.balances[creatorID] = b
	}
	if b.Available+availableDelta < 0 || b.Pending+pendingDelta < 0 {
		return store.ErrNegativeBalance
	}
	b.Available += availableDelta
	b.Pending += pendingDelta
	b.TotalEarned += totalEarnedDelta
	return nil
}

func (l *memoryLedger) FindCreatorAccountByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[creatorID]
	if !ok {
		return nil, store.ErrCreatorAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

func (l *memoryLedger) GetStarsBalance(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[creatorID]
	if !ok {
		return 0, store.ErrCreatorAccountNotFound
	}
	return acct.StarsBalance, nil
}

func (l *memoryLedger) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.transactions {
		if existing.Provider == tx.Provider && existing.ProviderRef == tx.ProviderRef {
			return store.ErrDuplicateProviderRef
		}
	}
	copied := *tx
	l.transactions[tx.ID] = &copied
	return nil
}

func (l *memoryLedger) FindTransactionByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.transactions {
		if tx.Provider == provider && tx.ProviderRef == providerRef {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (l *memoryLedger) CompleteTransactionAndCredit(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[transactionID]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return false, nil
	}
	if tx.Kind == domain.KindStarsPurchase {
		quantity := int64(0)
		if tx.StarsQuantity != nil {
			quantity = *tx.StarsQuantity
		}
		if acct, ok := l.accounts[tx.CreatorID]; ok {
			acct.StarsBalance += quantity
		}
	} else {
		if err := l.applyDelta(tx.CreatorID, tx.NetAmount, 0, tx.NetAmount, tx.Currency); err != nil {
			return false, err
		}
	}
	tx.Status = domain.StatusCompleted
	return true, nil
}

func (l *memoryLedger) FailTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[transactionID]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.StatusPending {
		return false, nil
	}
	tx.Status = domain.StatusFailed
	tx.FailureReason = &reason
	return true, nil
}

func (l *memoryLedger) ApplyBalanceDelta(ctx context.Context, creatorID uuid.UUID, availableDelta, pendingDelta, totalEarnedDelta int64, currency string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyDelta(creatorID, availableDelta, pendingDelta, totalEarnedDelta, currency)
}

func (l *memoryLedger) GetBalance(ctx context.Context, creatorID uuid.UUID) (*domain.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[creatorID]
	if !ok {
		return nil, store.ErrBalanceNotFound
	}
	copied := *b
	return &copied, nil
}

func (l *memoryLedger) CreatePayoutWithDebit(ctx context.Context, creatorID uuid.UUID, minimum int64, currency, provider string) (*domain.Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[creatorID]
	if !ok || b.Available < minimum || b.Available <= 0 {
		return nil, store.ErrInsufficientBalance
	}
	amount := b.Available
	if err := l.applyDelta(creatorID, -amount, amount, 0, currency); err != nil {
		return nil, err
	}
	payout := &domain.Payout{
		ID:        uuid.New(),
		CreatorID: creatorID,
		Amount:    amount,
		Currency:  currency,
		Provider:  provider,
		Status:    domain.StatusPending,
	}
	l.payouts[payout.ID] = payout
	copied := *payout
	return &copied, nil
}

func (l *memoryLedger) SetPayoutBatchRef(ctx context.Context, payoutID uuid.UUID, batchRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	payout, ok := l.payouts[payoutID]
	if !ok {
		return store.ErrPayoutNotFound
	}
	payout.BatchRef = &batchRef
	return nil
}

func (l *memoryLedger) FindPayoutByBatchRef(ctx context.Context, provider, batchRef string) (*domain.Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, payout := range l.payouts {
		if payout.Provider == provider && payout.BatchRef != nil && *payout.BatchRef == batchRef {
			copied := *payout
			return &copied, nil
		}
	}
	return nil, store.ErrPayoutNotFound
}

func (l *memoryLedger) settlePayout(payoutID uuid.UUID, finalStatus, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	payout, ok := l.payouts[payoutID]
	if !ok {
		return false, store.ErrPayoutNotFound
	}
	if payout.Status != domain.StatusPending {
		return false, nil
	}
	availableDelta := int64(0)
	if finalStatus == domain.StatusFailed {
		availableDelta = payout.Amount
	}
	if err := l.applyDelta(payout.CreatorID, availableDelta, -payout.Amount, 0, payout.Currency); err != nil {
		return false, err
	}
	payout.Status = finalStatus
	if reason != "" {
		payout.FailureReason = &reason
	}
	return true, nil
}

func (l *memoryLedger) CompletePayoutAndSettle(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	return l.settlePayout(payoutID, domain.StatusCompleted, "")
}

func (l *memoryLedger) FailPayoutAndRelease(ctx context.Context, payoutID uuid.UUID, reason string) (bool, error) {
	return l.settlePayout(payoutID, domain.StatusFailed, reason)
}

func (l *memoryLedger) RecordWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audits = append(l.audits, event.Outcome)
	return nil
}

func (l *memoryLedger) seedActiveCreator(creatorID uuid.UUID) {
	accountID := "acct_42"
	l.accounts[creatorID] = &domain.CreatorAccount{
		ID:                uuid.New(),
		CreatorID:         creatorID,
		Provider:          domain.ProviderStripe,
		ProviderAccountID: &accountID,
		AccountStatus:     domain.AccountStatusActive,
		CanMonetize:       true,
	}
}

func (l *memoryLedger) balance(t *testing.T, creatorID uuid.UUID) domain.Balance {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[creatorID]
	if !ok {
		t.Fatal("expected a balance row")
	}
	return *b
}

func ledgerFixture(t *testing.T, ledger *memoryLedger) (*Service, *ReconciliationEngine) {
	t.Helper()
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true, batchRef: "po_batch_1"}
	svc := NewService(ledger, []ProviderGateway{stripe, &gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())
	return svc, svc.ReconciliationEngine(3)
}

// The full money lifecycle: a 10.00 tip nets the creator 9.70, a payout
// moves it to pending, and a denied payout returns every cent. The sum of
// available and pending never changes across payout transitions.
func TestLedgerTipPayoutFailureChain(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()
	ledger.seedActiveCreator(creatorID)
	svc, engine := ledgerFixture(t, ledger)

	session, err := svc.CreateCharge(ctx, uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    1000,
	})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}

	err = engine.Process(ctx, &domain.ProviderEvent{
		Provider:  domain.ProviderStripe,
		Kind:      domain.EventChargeCompleted,
		EventType: "payment_intent.succeeded",
		Reference: "stripe_ref_1",
	})
	if err != nil {
		t.Fatalf("settle charge: %v", err)
	}
	b := ledger.balance(t, creatorID)
	if b.Available != 970 || b.Pending != 0 || b.TotalEarned != 970 {
		t.Fatalf("after credit: available=%d pending=%d earned=%d", b.Available, b.Pending, b.TotalEarned)
	}
	if session.Fee != 130 {
		t.Fatalf("expected 130 fee, got %d", session.Fee)
	}

	payout, err := svc.RequestPayout(ctx, creatorID)
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if payout.Amount != 970 {
		t.Fatalf("expected full available payout, got %d", payout.Amount)
	}
	b = ledger.balance(t, creatorID)
	if b.Available != 0 || b.Pending != 970 {
		t.Fatalf("after debit: available=%d pending=%d", b.Available, b.Pending)
	}

	err = engine.Process(ctx, &domain.ProviderEvent{
		Provider:  domain.ProviderStripe,
		Kind:      domain.EventPayoutFailed,
		EventType: "payout.failed",
		Reference: "po_batch_1",
		Reason:    "account closed",
	})
	if err != nil {
		t.Fatalf("fail payout: %v", err)
	}
	b = ledger.balance(t, creatorID)
	if b.Available != 970 || b.Pending != 0 {
		t.Fatalf("after release: available=%d pending=%d", b.Available, b.Pending)
	}
	if b.TotalEarned != 970 {
		t.Fatalf("lifetime earnings must survive a failed payout, got %d", b.TotalEarned)
	}
}

func TestLedgerPayoutCompletionBurnsPending(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()
	ledger.seedActiveCreator(creatorID)
	svc, engine := ledgerFixture(t, ledger)

	if _, err := svc.CreateCharge(ctx, uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID, Kind: domain.KindTip, Amount: 2000,
	}); err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if err := engine.Process(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe, Kind: domain.EventChargeCompleted,
		EventType: "payment_intent.succeeded", Reference: "stripe_ref_1",
	}); err != nil {
		t.Fatalf("settle charge: %v", err)
	}
	if _, err := svc.RequestPayout(ctx, creatorID); err != nil {
		t.Fatalf("request payout: %v", err)
	}
	if err := engine.Process(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe, Kind: domain.EventPayoutCompleted,
		EventType: "payout.paid", Reference: "po_batch_1",
	}); err != nil {
		t.Fatalf("complete payout: %v", err)
	}

	b := ledger.balance(t, creatorID)
	// 10% of 2000 plus the 30 cent fixed component leaves 1770 net.
	if b.Available != 0 || b.Pending != 0 || b.TotalEarned != 1770 {
		t.Fatalf("after settlement: available=%d pending=%d earned=%d", b.Available, b.Pending, b.TotalEarned)
	}
}

// Redelivering a completion event must not credit the balance twice.
func TestLedgerDoubleDeliveryCreditsOnce(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()
	ledger.seedActiveCreator(creatorID)
	svc, engine := ledgerFixture(t, ledger)

	if _, err := svc.CreateCharge(ctx, uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID, Kind: domain.KindTip, Amount: 1000,
	}); err != nil {
		t.Fatalf("create charge: %v", err)
	}

	completion := &domain.ProviderEvent{
		Provider: domain.ProviderStripe, Kind: domain.EventChargeCompleted,
		EventType: "payment_intent.succeeded", Reference: "stripe_ref_1",
	}
	for i := 0; i < 3; i++ {
		if err := engine.Process(ctx, completion); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	b := ledger.balance(t, creatorID)
	if b.Available != 970 || b.TotalEarned != 970 {
		t.Fatalf("redelivery must credit once: available=%d earned=%d", b.Available, b.TotalEarned)
	}
	if ledger.audits[0] != domain.EventOutcomeProcessed ||
		ledger.audits[1] != domain.EventOutcomeDuplicate ||
		ledger.audits[2] != domain.EventOutcomeDuplicate {
		t.Fatalf("expected processed then duplicates, got %v", ledger.audits)
	}
}

func TestLedgerStarsPurchaseCreditsStarsNotMoney(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()
	ledger.seedActiveCreator(creatorID)
	svc, engine := ledgerFixture(t, ledger)

	if _, err := svc.CreateCharge(ctx, uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID, Kind: domain.KindStarsPurchase, Amount: 500,
	}); err != nil {
		t.Fatalf("create charge: %v", err)
	}
	completion := &domain.ProviderEvent{
		Provider: domain.ProviderStripe, Kind: domain.EventChargeCompleted,
		EventType: "payment_intent.succeeded", Reference: "stripe_ref_1",
	}
	if err := engine.Process(ctx, completion); err != nil {
		t.Fatalf("settle charge: %v", err)
	}
	if err := engine.Process(ctx, completion); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	stars, err := ledger.GetStarsBalance(ctx, creatorID)
	if err != nil {
		t.Fatalf("stars balance: %v", err)
	}
	if stars != 500 {
		t.Fatalf("expected 500 stars credited once, got %d", stars)
	}
	if _, ok := ledger.balances[creatorID]; ok {
		t.Fatal("stars purchases must not touch the money balance")
	}
}

func TestLedgerPayoutBelowMinimumRejected(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()
	ledger.seedActiveCreator(creatorID)
	svc, engine := ledgerFixture(t, ledger)

	if _, err := svc.CreateCharge(ctx, uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID, Kind: domain.KindTip, Amount: 500,
	}); err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if err := engine.Process(ctx, &domain.ProviderEvent{
		Provider: domain.ProviderStripe, Kind: domain.EventChargeCompleted,
		EventType: "payment_intent.succeeded", Reference: "stripe_ref_1",
	}); err != nil {
		t.Fatalf("settle charge: %v", err)
	}

	// 440 net is below the 1000 cent payout floor.
	if _, err := svc.RequestPayout(ctx, creatorID); !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	b := ledger.balance(t, creatorID)
	if b.Available != 440 || b.Pending != 0 {
		t.Fatalf("rejected payout must not move funds: available=%d pending=%d", b.Available, b.Pending)
	}
}

func TestLedgerRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New()
	ledger := newMemoryLedger()

	if err := ledger.ApplyBalanceDelta(ctx, creatorID, 100, 0, 100, "USD"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.ApplyBalanceDelta(ctx, creatorID, -150, 0, 0, "USD")
	if !errors.Is(err, store.ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
	b := ledger.balance(t, creatorID)
	if b.Available != 100 {
		t.Fatalf("rejected delta must not apply, got %d", b.Available)
	}
}
