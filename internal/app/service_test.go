package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
)

type serviceRepoStub struct {
	store.Repository

	account    *domain.CreatorAccount
	accountErr error

	createdTx    *domain.Transaction
	createTxErr  error
	createdCalls int

	payout          *domain.Payout
	payoutErr       error
	batchRefSet     string
	releaseCalls    int
	releaseReason   string
	setBatchRefErr  error
	setBatchRefHits int
}

func (s *serviceRepoStub) FindCreatorAccountByCreatorID(ctx context.Context, creatorID uuid.UUID) (*domain.CreatorAccount, error) {
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	return s.account, nil
}

func (s *serviceRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.createdCalls++
	s.createdTx = tx
	return s.createTxErr
}

func (s *serviceRepoStub) CreatePayoutWithDebit(ctx context.Context, creatorID uuid.UUID, minimum int64, currency, provider string) (*domain.Payout, error) {
	if s.payoutErr != nil {
		return nil, s.payoutErr
	}
	return s.payout, nil
}

func (s *serviceRepoStub) SetPayoutBatchRef(ctx context.Context, payoutID uuid.UUID, batchRef string) error {
	s.setBatchRefHits++
	s.batchRefSet = batchRef
	return s.setBatchRefErr
}

func (s *serviceRepoStub) FailPayoutAndRelease(ctx context.Context, payoutID uuid.UUID, reason string) (bool, error) {
	s.releaseCalls++
	s.releaseReason = reason
	return true, nil
}

// gatewayStub is a configurable ProviderGateway for service tests.
type gatewayStub struct {
	name           string
	directTransfer bool

	chargeParams *domain.ChargeParams
	chargeErr    error

	payoutParams *domain.PayoutParams
	payoutErr    error
	batchRef     string
}

func (g *gatewayStub) Name() string { return g.name }

func (g *gatewayStub) Capabilities() domain.ProviderCapabilities {
	return domain.ProviderCapabilities{SupportsDirectTransfer: g.directTransfer}
}

func (g *gatewayStub) CreateConnectedAccount(ctx context.Context) (string, error) {
	return "acct_new", nil
}

func (g *gatewayStub) OnboardingLink(ctx context.Context, accountID string) (string, error) {
	return "https://onboard.example/" + accountID, nil
}

func (g *gatewayStub) DashboardLink(ctx context.Context, accountID string) (string, error) {
	return "https://dashboard.example/" + accountID, nil
}

func (g *gatewayStub) AccountCapability(ctx context.Context, accountID string) (*domain.RemoteAccountCapability, error) {
	return &domain.RemoteAccountCapability{ChargesEnabled: true, PayoutsEnabled: true}, nil
}

func (g *gatewayStub) CreateCharge(ctx context.Context, params domain.ChargeParams) (*domain.ChargeAuthorization, error) {
	g.chargeParams = &params
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return &domain.ChargeAuthorization{Reference: g.name + "_ref_1", ClientToken: "tok_1"}, nil
}

func (g *gatewayStub) CreatePayout(ctx context.Context, params domain.PayoutParams) (string, error) {
	g.payoutParams = &params
	if g.payoutErr != nil {
		return "", g.payoutErr
	}
	return g.batchRef, nil
}

func testPolicy() PolicyConfig {
	return PolicyConfig{
		Currency:              "USD",
		PlatformFeePercent:    10,
		PlatformFixedFeeCents: 30,
		MinChargeAmountCents:  100,
		MinPayoutAmountCents:  1000,
		StarsPerUnit:          100,
	}
}

func activeStripeAccount(creatorID uuid.UUID) *domain.CreatorAccount {
	accountID := "acct_42"
	return &domain.CreatorAccount{
		CreatorID:         creatorID,
		Provider:          domain.ProviderStripe,
		ProviderAccountID: &accountID,
		AccountStatus:     domain.AccountStatusActive,
		CanMonetize:       true,
	}
}

func TestCreateChargeRejectsDisabledCreator(t *testing.T) {
	creatorID := uuid.New()
	account := activeStripeAccount(creatorID)
	account.CanMonetize = false
	repo := &serviceRepoStub{account: account}
	svc := NewService(repo, []ProviderGateway{&gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())

	_, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    500,
	})
	if !errors.Is(err, ErrMonetizationNotEnabled) {
		t.Fatalf("expected ErrMonetizationNotEnabled, got %v", err)
	}
	if repo.createdCalls != 0 {
		t.Fatalf("no transaction should be persisted, got %d", repo.createdCalls)
	}
}

func TestCreateChargeRejectsBelowMinimumAmount(t *testing.T) {
	svc := NewService(&serviceRepoStub{}, []ProviderGateway{&gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())

	_, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: uuid.New(),
		Kind:      domain.KindTip,
		Amount:    99,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateChargeRejectsUnknownKind(t *testing.T) {
	svc := NewService(&serviceRepoStub{}, []ProviderGateway{&gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())

	_, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: uuid.New(),
		Kind:      "donation",
		Amount:    500,
	})
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestCreateChargeRoutesDirectTransferWhenAccountActive(t *testing.T) {
	creatorID := uuid.New()
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID)}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true}
	paypal := &gatewayStub{name: domain.ProviderPayPal}
	svc := NewService(repo, []ProviderGateway{stripe, paypal}, nil, testPolicy())

	session, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Provider != domain.ProviderStripe {
		t.Fatalf("expected stripe routing, got %s", session.Provider)
	}
	if stripe.chargeParams == nil || stripe.chargeParams.DestinationAccountID != "acct_42" {
		t.Fatalf("expected destination acct_42, got %+v", stripe.chargeParams)
	}
	// 10% of 1000 plus the 30 cent fixed component.
	if session.Fee != 130 {
		t.Fatalf("expected 130 fee, got %d", session.Fee)
	}
	if repo.createdTx == nil || repo.createdTx.Status != domain.StatusPending {
		t.Fatalf("expected pending transaction persisted, got %+v", repo.createdTx)
	}
	if repo.createdTx.NetAmount != 870 {
		t.Fatalf("expected 870 net, got %d", repo.createdTx.NetAmount)
	}
	if repo.createdTx.ProviderRef != "stripe_ref_1" {
		t.Fatalf("expected provider reference recorded, got %q", repo.createdTx.ProviderRef)
	}
}

func TestCreateChargeFallsBackToPlatformProviderWhilePending(t *testing.T) {
	creatorID := uuid.New()
	account := activeStripeAccount(creatorID)
	account.AccountStatus = domain.AccountStatusPending
	repo := &serviceRepoStub{account: account}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true}
	paypal := &gatewayStub{name: domain.ProviderPayPal}
	svc := NewService(repo, []ProviderGateway{stripe, paypal}, nil, testPolicy())

	session, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Provider != domain.ProviderPayPal {
		t.Fatalf("expected platform-held routing while direct account is pending, got %s", session.Provider)
	}
	if paypal.chargeParams == nil || paypal.chargeParams.DestinationAccountID != "" {
		t.Fatalf("expected no destination for platform-held charge, got %+v", paypal.chargeParams)
	}
}

func TestCreateChargeSelectsPlatformGatewayByCapability(t *testing.T) {
	creatorID := uuid.New()
	account := activeStripeAccount(creatorID)
	account.AccountStatus = domain.AccountStatusPending
	repo := &serviceRepoStub{account: account}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true}
	// The platform-held gateway is chosen by its capability descriptor, so
	// a replacement provider under a different name routes the same way.
	collector := &gatewayStub{name: "braintree"}
	svc := NewService(repo, []ProviderGateway{stripe, collector}, nil, testPolicy())

	session, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Provider != "braintree" {
		t.Fatalf("expected capability-selected routing, got %s", session.Provider)
	}
	if collector.chargeParams == nil {
		t.Fatal("expected the holds-funds gateway to receive the charge")
	}
}

func TestCreateChargeComputesStarsQuantity(t *testing.T) {
	creatorID := uuid.New()
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID)}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true}
	svc := NewService(repo, []ProviderGateway{stripe, &gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())

	_, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindStarsPurchase,
		Amount:    500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.createdTx.StarsQuantity == nil || *repo.createdTx.StarsQuantity != 500 {
		t.Fatalf("expected 500 stars recorded, got %v", repo.createdTx.StarsQuantity)
	}
}

func TestCreateChargeProviderFailureLeavesNoTransaction(t *testing.T) {
	creatorID := uuid.New()
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID)}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true, chargeErr: errors.New("api down")}
	svc := NewService(repo, []ProviderGateway{stripe, &gatewayStub{name: domain.ProviderPayPal}}, nil, testPolicy())

	_, err := svc.CreateCharge(context.Background(), uuid.New(), domain.CreateChargeRequest{
		CreatorID: creatorID,
		Kind:      domain.KindTip,
		Amount:    1000,
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if repo.createdCalls != 0 {
		t.Fatalf("no transaction may exist for a failed intent, got %d", repo.createdCalls)
	}
}

func TestRequestPayoutRecordsBatchReference(t *testing.T) {
	creatorID := uuid.New()
	payout := &domain.Payout{ID: uuid.New(), CreatorID: creatorID, Amount: 5000, Currency: "USD", Provider: domain.ProviderStripe, Status: domain.StatusPending}
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID), payout: payout}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true, batchRef: "po_1"}
	svc := NewService(repo, []ProviderGateway{stripe}, nil, testPolicy())

	got, err := svc.RequestPayout(context.Background(), creatorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.batchRefSet != "po_1" {
		t.Fatalf("expected batch ref po_1 recorded, got %q", repo.batchRefSet)
	}
	if got.BatchRef == nil || *got.BatchRef != "po_1" {
		t.Fatalf("expected batch ref on returned payout, got %v", got.BatchRef)
	}
	if stripe.payoutParams == nil || stripe.payoutParams.DestinationAccountID != "acct_42" {
		t.Fatalf("expected payout destination acct_42, got %+v", stripe.payoutParams)
	}
}

func TestRequestPayoutCompensatesOnProviderFailure(t *testing.T) {
	creatorID := uuid.New()
	payout := &domain.Payout{ID: uuid.New(), CreatorID: creatorID, Amount: 5000, Currency: "USD", Provider: domain.ProviderStripe, Status: domain.StatusPending}
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID), payout: payout}
	stripe := &gatewayStub{name: domain.ProviderStripe, directTransfer: true, payoutErr: errors.New("api down")}
	svc := NewService(repo, []ProviderGateway{stripe}, nil, testPolicy())

	_, err := svc.RequestPayout(context.Background(), creatorID)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if repo.releaseCalls != 1 {
		t.Fatalf("expected compensating release, got %d calls", repo.releaseCalls)
	}
	if repo.setBatchRefHits != 0 {
		t.Fatalf("batch ref must not be recorded on failure, got %d", repo.setBatchRefHits)
	}
}

func TestRequestPayoutRequiresActiveLinkedAccount(t *testing.T) {
	creatorID := uuid.New()
	account := activeStripeAccount(creatorID)
	account.AccountStatus = domain.AccountStatusPending
	repo := &serviceRepoStub{account: account}
	svc := NewService(repo, []ProviderGateway{&gatewayStub{name: domain.ProviderStripe, directTransfer: true}}, nil, testPolicy())

	_, err := svc.RequestPayout(context.Background(), creatorID)
	if !errors.Is(err, ErrAccountNotLinked) {
		t.Fatalf("expected ErrAccountNotLinked, got %v", err)
	}
}

func TestRequestPayoutInsufficientBalancePassesThrough(t *testing.T) {
	creatorID := uuid.New()
	repo := &serviceRepoStub{account: activeStripeAccount(creatorID), payoutErr: store.ErrInsufficientBalance}
	svc := NewService(repo, []ProviderGateway{&gatewayStub{name: domain.ProviderStripe, directTransfer: true}}, nil, testPolicy())

	_, err := svc.RequestPayout(context.Background(), creatorID)
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPlatformFeeIsCappedAtAmount(t *testing.T) {
	svc := NewService(&serviceRepoStub{}, nil, nil, PolicyConfig{
		PlatformFeePercent:    10,
		PlatformFixedFeeCents: 200,
	})
	if fee := svc.platformFee(100); fee != 100 {
		t.Fatalf("expected fee capped at 100, got %d", fee)
	}
}
