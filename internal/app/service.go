/**
 * @description
 * This file contains the core business logic for the monetization-service.
 * The `Service` struct orchestrates provider account linking, charge
 * initiation, and payout processing, coordinating between the database
 * repository, the payment provider clients, and the message broker.
 *
 * Key features:
 * - Provider heterogeneity is hidden behind the ProviderGateway interface;
 *   the fee-split routing decision consults a capability descriptor and is
 *   fixed on the transaction at initiation, never re-derived later.
 * - Payout creation debits the balance and creates the payout row in one
 *   atomic unit; a synchronous provider failure triggers the compensating
 *   release in the same operation.
 * - All monetary policy (fee rate, minimums, Stars rate) is injected at
 *   construction via PolicyConfig.
 *
 * @dependencies
 * - context, errors, fmt, log, math: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
	"github.com/streamhive/monetization-service/pkg/rabbitmq"
)

var (
	ErrMonetizationNotEnabled = errors.New("creator is not enabled for monetization")
	ErrInvalidAmount          = errors.New("amount is below the configured minimum")
	ErrInvalidKind            = errors.New("unsupported transaction kind")
	ErrUnknownProvider        = errors.New("unknown payment provider")
	ErrProviderUnavailable    = errors.New("payment provider unavailable")
	ErrAccountNotLinked       = errors.New("creator has no active provider account")
)

// ProviderGateway is the boundary behind which provider-specific quirks
// live. Both provider clients implement it; callers consult Capabilities
// instead of branching on provider identity.
type ProviderGateway interface {
	Name() string
	Capabilities() domain.ProviderCapabilities
	CreateConnectedAccount(ctx context.Context) (string, error)
	OnboardingLink(ctx context.Context, accountID string) (string, error)
	DashboardLink(ctx context.Context, accountID string) (string, error)
	AccountCapability(ctx context.Context, accountID string) (*domain.RemoteAccountCapability, error)
	CreateCharge(ctx context.Context, params domain.ChargeParams) (*domain.ChargeAuthorization, error)
	CreatePayout(ctx context.Context, params domain.PayoutParams) (string, error)
}

// PolicyConfig carries the injected monetary policy. Values come from
// service configuration, never from ambient process state at call time.
type PolicyConfig struct {
	Currency              string
	PlatformFeePercent    float64
	PlatformFixedFeeCents int64
	MinChargeAmountCents  int64
	MinPayoutAmountCents  int64
	StarsPerUnit          int64
}

// Service provides the core business logic for the monetization ledger.
type Service struct {
	repo          store.Repository
	providers     map[string]ProviderGateway
	eventProducer rabbitmq.Publisher
	policy        PolicyConfig

	payoutLimiter            *RedisPayoutRateLimiter
	payoutRateLimitPerMinute int
}

// NewService creates a new monetization service instance.
func NewService(repo store.Repository, providers []ProviderGateway, producer rabbitmq.Publisher, policy PolicyConfig) *Service {
	byName := make(map[string]ProviderGateway, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:          repo,
		providers:     byName,
		eventProducer: producer,
		policy:        policy,
	}
}

// SetPayoutRateLimiter wires the optional redis-backed limiter for payout
// requests.
func (s *Service) SetPayoutRateLimiter(limiter *RedisPayoutRateLimiter, perMinute int) {
	s.payoutLimiter = limiter
	s.payoutRateLimitPerMinute = perMinute
}

// ResolveCreatorID converts a Clerk user id string (e.g., "user_abc123")
// into the internal UUID used by our database.
func (s *Service) ResolveCreatorID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	return s.repo.FindCreatorIDByClerkUserID(ctx, clerkUserID)
}

// ReconciliationEngine returns the webhook reconciliation engine sharing
// this service's repository and producer.
func (s *Service) ReconciliationEngine(retryAttempts int) *ReconciliationEngine {
	return NewReconciliationEngine(s.repo, s.eventProducer, retryAttempts)
}

// EligibilityConsumer returns the RabbitMQ consumer applying monetization
// eligibility updates from the platform's business-rule engine.
func (s *Service) EligibilityConsumer() *EligibilityConsumer {
	return NewEligibilityConsumer(s.repo)
}

// holdsFundsGateway returns the gateway that collects into the platform
// account, selected by capability rather than by name so a replacement
// provider slots in without touching the routing.
func (s *Service) holdsFundsGateway() ProviderGateway {
	for _, p := range s.providers {
		if !p.Capabilities().SupportsDirectTransfer {
			return p
		}
	}
	return nil
}

// platformFee computes the platform's cut of a gross amount, capped so the
// creator-net amount never goes negative.
func (s *Service) platformFee(amount int64) int64 {
	fee := int64(math.Round(float64(amount)*s.policy.PlatformFeePercent/100)) + s.policy.PlatformFixedFeeCents
	if fee > amount {
		fee = amount
	}
	if fee < 0 {
		fee = 0
	}
	return fee
}

// LinkAccount creates or refreshes a creator's linked provider account.
//
// For the direct-transfer provider the remote account is created on first
// call and an onboarding URL returned; later calls refresh capability from
// the provider and return a dashboard URL once charges and payouts are both
// enabled. For the holds-funds provider linking is a manual external step:
// the local status is parked at 'pending' until the onboarding webhook
// activates it. Local status only advances after a successful remote read.
func (s *Service) LinkAccount(ctx context.Context, creatorID uuid.UUID, providerKind string) (*domain.AccountLink, error) {
	gateway, ok := s.providers[providerKind]
	if !ok {
		return nil, ErrUnknownProvider
	}

	acct, err := s.repo.GetOrCreateCreatorAccount(ctx, creatorID, providerKind)
	if err != nil {
		return nil, fmt.Errorf("get or create creator account: %w", err)
	}

	if !gateway.Capabilities().SupportsDirectTransfer {
		if acct.Provider == providerKind && acct.AccountStatus == domain.AccountStatusActive {
			return &domain.AccountLink{Provider: providerKind, AccountStatus: domain.AccountStatusActive}, nil
		}
		accountID := ""
		if acct.ProviderAccountID != nil {
			accountID = *acct.ProviderAccountID
		}
		if err := s.repo.SetProviderAccount(ctx, creatorID, providerKind, accountID, domain.AccountStatusPending); err != nil {
			return nil, fmt.Errorf("record pending link: %w", err)
		}
		return &domain.AccountLink{Provider: providerKind, AccountStatus: domain.AccountStatusPending}, nil
	}

	if acct.Provider != providerKind || acct.ProviderAccountID == nil || *acct.ProviderAccountID == "" {
		remoteID, err := gateway.CreateConnectedAccount(ctx)
		if err != nil {
			log.Printf("level=warn component=account_linker msg=\"remote account creation failed\" creator_id=%s provider=%s err=%v", creatorID, providerKind, err)
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if err := s.repo.SetProviderAccount(ctx, creatorID, providerKind, remoteID, domain.AccountStatusPending); err != nil {
			return nil, fmt.Errorf("record provider account: %w", err)
		}
		onboardingURL, err := gateway.OnboardingLink(ctx, remoteID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return &domain.AccountLink{
			Provider:      providerKind,
			AccountStatus: domain.AccountStatusPending,
			OnboardingURL: onboardingURL,
		}, nil
	}

	capability, err := gateway.AccountCapability(ctx, *acct.ProviderAccountID)
	if err != nil {
		// No local write here: status stays consistent with the last
		// successful remote read.
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if capability.ChargesEnabled && capability.PayoutsEnabled {
		if err := s.repo.UpdateAccountStatus(ctx, creatorID, domain.AccountStatusActive); err != nil {
			return nil, fmt.Errorf("activate account: %w", err)
		}
		dashboardURL, err := gateway.DashboardLink(ctx, *acct.ProviderAccountID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return &domain.AccountLink{
			Provider:      providerKind,
			AccountStatus: domain.AccountStatusActive,
			DashboardURL:  dashboardURL,
		}, nil
	}

	if err := s.repo.UpdateAccountStatus(ctx, creatorID, domain.AccountStatusPending); err != nil {
		return nil, fmt.Errorf("update account status: %w", err)
	}
	onboardingURL, err := gateway.OnboardingLink(ctx, *acct.ProviderAccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return &domain.AccountLink{
		Provider:      providerKind,
		AccountStatus: domain.AccountStatusPending,
		OnboardingURL: onboardingURL,
	}, nil
}

// GetAccountStatus returns the creator's account status, refreshing it from
// the direct-transfer provider when a pending account might have completed
// onboarding since the last read. The refresh is best-effort: a provider
// error serves the last locally known status.
func (s *Service) GetAccountStatus(ctx context.Context, creatorID uuid.UUID) (*domain.AccountStatus, error) {
	acct, err := s.repo.FindCreatorAccountByCreatorID(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorAccountNotFound) {
			return &domain.AccountStatus{AccountStatus: domain.AccountStatusNone}, nil
		}
		return nil, err
	}

	status := &domain.AccountStatus{
		Provider:      acct.Provider,
		AccountStatus: acct.AccountStatus,
		CanMonetize:   acct.CanMonetize,
	}

	gateway, ok := s.providers[acct.Provider]
	if !ok || !gateway.Capabilities().SupportsDirectTransfer ||
		acct.AccountStatus == domain.AccountStatusActive ||
		acct.ProviderAccountID == nil || *acct.ProviderAccountID == "" {
		return status, nil
	}

	capability, err := gateway.AccountCapability(ctx, *acct.ProviderAccountID)
	if err != nil {
		log.Printf("level=warn component=account_linker msg=\"status refresh failed; serving local status\" creator_id=%s err=%v", creatorID, err)
		return status, nil
	}
	if capability.ChargesEnabled && capability.PayoutsEnabled {
		if err := s.repo.UpdateAccountStatus(ctx, creatorID, domain.AccountStatusActive); err != nil {
			return nil, fmt.Errorf("activate account: %w", err)
		}
		status.AccountStatus = domain.AccountStatusActive
	}
	return status, nil
}

// CreateCharge creates a payable intent for a tip, Stars purchase, or
// subscription charge against the routed provider, and persists the pending
// ledger transaction keyed by the provider's reference before the client
// token is returned. A webhook racing ahead of the client confirmation
// therefore always finds a transaction to attach to.
func (s *Service) CreateCharge(ctx context.Context, payerID uuid.UUID, req domain.CreateChargeRequest) (*domain.ChargeSession, error) {
	switch req.Kind {
	case domain.KindTip, domain.KindStarsPurchase, domain.KindSubscription:
	default:
		return nil, ErrInvalidKind
	}
	if req.Amount < s.policy.MinChargeAmountCents {
		return nil, ErrInvalidAmount
	}
	currency := req.Currency
	if currency == "" {
		currency = s.policy.Currency
	}

	acct, err := s.repo.FindCreatorAccountByCreatorID(ctx, req.CreatorID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorAccountNotFound) {
			return nil, ErrMonetizationNotEnabled
		}
		return nil, fmt.Errorf("find creator account: %w", err)
	}
	if !acct.CanMonetize {
		return nil, ErrMonetizationNotEnabled
	}

	fee := s.platformFee(req.Amount)
	net := req.Amount - fee

	// Routing is decided here and recorded on the transaction; the
	// reconciliation engine never re-derives it.
	params := domain.ChargeParams{
		Amount:      req.Amount,
		Fee:         fee,
		Currency:    currency,
		Description: fmt.Sprintf("streamhive %s for creator %s", req.Kind, req.CreatorID),
	}
	gateway := s.holdsFundsGateway()
	if direct, ok := s.providers[acct.Provider]; ok &&
		direct.Capabilities().SupportsDirectTransfer &&
		acct.AccountStatus == domain.AccountStatusActive &&
		acct.ProviderAccountID != nil {
		gateway = direct
		params.DestinationAccountID = *acct.ProviderAccountID
	}
	if gateway == nil {
		return nil, ErrUnknownProvider
	}

	auth, err := gateway.CreateCharge(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	tx := &domain.Transaction{
		ID:          uuid.New(),
		CreatorID:   req.CreatorID,
		PayerID:     payerID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Fee:         fee,
		NetAmount:   net,
		Currency:    currency,
		Provider:    gateway.Name(),
		ProviderRef: auth.Reference,
		Status:      domain.StatusPending,
	}
	if req.Kind == domain.KindStarsPurchase {
		stars := StarsForAmount(req.Amount, s.policy.StarsPerUnit)
		tx.StarsQuantity = &stars
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("persist pending transaction: %w", err)
	}

	return &domain.ChargeSession{
		TransactionID:   tx.ID,
		ClientAuthToken: auth.ClientToken,
		Provider:        tx.Provider,
		Amount:          tx.Amount,
		Fee:             tx.Fee,
		Currency:        tx.Currency,
	}, nil
}

// RequestPayout moves the creator's full available balance into a pending
// payout. The debit and the payout row are created atomically; when the
// synchronous provider call fails, the debit is compensated in the same
// operation rather than waiting for an eventual webhook.
func (s *Service) RequestPayout(ctx context.Context, creatorID uuid.UUID) (*domain.Payout, error) {
	acct, err := s.repo.FindCreatorAccountByCreatorID(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorAccountNotFound) {
			return nil, ErrAccountNotLinked
		}
		return nil, fmt.Errorf("find creator account: %w", err)
	}
	gateway, ok := s.providers[acct.Provider]
	if !ok || acct.AccountStatus != domain.AccountStatusActive ||
		acct.ProviderAccountID == nil || *acct.ProviderAccountID == "" {
		return nil, ErrAccountNotLinked
	}

	payout, err := s.repo.CreatePayoutWithDebit(ctx, creatorID, s.policy.MinPayoutAmountCents, s.policy.Currency, gateway.Name())
	if err != nil {
		return nil, err
	}

	batchRef, err := gateway.CreatePayout(ctx, domain.PayoutParams{
		Amount:               payout.Amount,
		Currency:             payout.Currency,
		DestinationAccountID: *acct.ProviderAccountID,
		Note:                 fmt.Sprintf("streamhive creator payout %s", payout.ID),
	})
	if err != nil {
		// Compensating transaction: release the provisional debit now
		// instead of waiting for a webhook that will never come.
		if _, releaseErr := s.repo.FailPayoutAndRelease(ctx, payout.ID, fmt.Sprintf("provider payout creation failed: %v", err)); releaseErr != nil {
			log.Printf("level=error component=payout_processor msg=\"compensating release failed\" payout_id=%s err=%v", payout.ID, releaseErr)
			return nil, fmt.Errorf("release payout debit: %w", releaseErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := s.repo.SetPayoutBatchRef(ctx, payout.ID, batchRef); err != nil {
		// The payout exists at the provider; losing the reference would
		// orphan its completion webhook.
		log.Printf("level=error component=payout_processor msg=\"failed to record batch reference\" payout_id=%s batch_ref=%s err=%v", payout.ID, batchRef, err)
		return nil, fmt.Errorf("record batch reference: %w", err)
	}
	payout.BatchRef = &batchRef
	return payout, nil
}

// GetBalance returns the creator's balance snapshot. Creators who have not
// earned yet read as zeros.
func (s *Service) GetBalance(ctx context.Context, creatorID uuid.UUID) (*domain.BalanceSnapshot, error) {
	balance, err := s.repo.GetBalance(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrBalanceNotFound) {
			return &domain.BalanceSnapshot{Currency: s.policy.Currency}, nil
		}
		return nil, err
	}
	return &domain.BalanceSnapshot{
		Available:   balance.Available,
		Pending:     balance.Pending,
		TotalEarned: balance.TotalEarned,
		Currency:    balance.Currency,
	}, nil
}

// GetStarsBalance returns the creator's Stars balance.
func (s *Service) GetStarsBalance(ctx context.Context, creatorID uuid.UUID) (*domain.StarsSnapshot, error) {
	stars, err := s.repo.GetStarsBalance(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorAccountNotFound) {
			return &domain.StarsSnapshot{}, nil
		}
		return nil, err
	}
	return &domain.StarsSnapshot{Stars: stars}, nil
}

// ConsumePayoutRateLimit applies the per-creator payout request limit.
// Returns retry-after seconds > 0 when the creator is over the limit.
func (s *Service) ConsumePayoutRateLimit(ctx context.Context, creatorID uuid.UUID) (int, error) {
	if s.payoutLimiter == nil || s.payoutRateLimitPerMinute <= 0 {
		return 0, nil
	}
	count, retryAfter, err := s.payoutLimiter.ConsumeRateLimit(ctx, "payout_request", creatorID.String(), s.payoutRateLimitPerMinute, rateLimitWindow)
	if err != nil {
		// Rate limiting is advisory; storage problems never block payouts.
		log.Printf("level=warn component=payout_processor msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return 0, nil
	}
	if count > s.payoutRateLimitPerMinute {
		return retryAfter, nil
	}
	return 0, nil
}
