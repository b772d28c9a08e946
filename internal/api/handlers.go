/**
 * @description
 * This file contains the HTTP handlers for the monetization-service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and write the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/streamhive/monetization-service/internal/app"
	"github.com/streamhive/monetization-service/internal/domain"
	"github.com/streamhive/monetization-service/internal/store"
)

// MonetizationHandlers holds the application service that handlers will use.
type MonetizationHandlers struct {
	service *app.Service
}

// NewMonetizationHandlers creates a new instance of MonetizationHandlers.
func NewMonetizationHandlers(service *app.Service) *MonetizationHandlers {
	return &MonetizationHandlers{service: service}
}

// payoutResponse is sent back after a payout request has been accepted.
type payoutResponse struct {
	PayoutID string  `json:"payout_id"`
	Amount   int64   `json:"amount"`
	Currency string  `json:"currency"`
	Provider string  `json:"provider"`
	Status   string  `json:"status"`
	BatchRef *string `json:"batch_reference,omitempty"`
}

// resolveCreator maps the authenticated Clerk user onto our internal
// creator UUID. Writes the error response itself on failure.
func (h *MonetizationHandlers) resolveCreator(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	userIDStr, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, false
	}

	creatorID, err := h.service.ResolveCreatorID(r.Context(), userIDStr)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=user_resolution_failed clerk_user_id=%s err=%v", endpoint, userIDStr, err)
		http.Error(w, "User not found", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return creatorID, true
}

// InitiateChargeHandler handles checkout initiation for tips, Stars
// purchases, and subscription charges.
func (h *MonetizationHandlers) InitiateChargeHandler(w http.ResponseWriter, r *http.Request) {
	payerID, ok := h.resolveCreator(w, r, "initiate_charge")
	if !ok {
		return
	}

	var req domain.CreateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initiate_charge outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.CreatorID == uuid.Nil {
		http.Error(w, "creator_id is required", http.StatusBadRequest)
		return
	}

	session, err := h.service.CreateCharge(r.Context(), payerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=initiate_charge outcome=failed payer_id=%s creator_id=%s err=%v", payerID, req.CreatorID, err)
		switch {
		case errors.Is(err, app.ErrMonetizationNotEnabled):
			http.Error(w, "Creator is not enabled for monetization", http.StatusForbidden)
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidKind):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, app.ErrProviderUnavailable):
			http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	log.Printf("level=info component=api endpoint=initiate_charge outcome=accepted transaction_id=%s provider=%s amount=%d", session.TransactionID, session.Provider, session.Amount)
	h.writeJSON(w, http.StatusCreated, session)
}

// LinkAccountHandler creates or refreshes the authenticated creator's
// provider account link.
func (h *MonetizationHandlers) LinkAccountHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveCreator(w, r, "link_account")
	if !ok {
		return
	}

	var req domain.LinkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=link_account outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	link, err := h.service.LinkAccount(r.Context(), creatorID, req.Provider)
	if err != nil {
		log.Printf("level=warn component=api endpoint=link_account outcome=failed creator_id=%s provider=%s err=%v", creatorID, req.Provider, err)
		switch {
		case errors.Is(err, app.ErrUnknownProvider):
			http.Error(w, "Unknown payment provider", http.StatusBadRequest)
		case errors.Is(err, app.ErrProviderUnavailable):
			http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	log.Printf("level=info component=api endpoint=link_account outcome=accepted creator_id=%s provider=%s status=%s", creatorID, link.Provider, link.AccountStatus)
	h.writeJSON(w, http.StatusOK, link)
}

// AccountStatusHandler returns the creator's provider account status.
func (h *MonetizationHandlers) AccountStatusHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveCreator(w, r, "account_status")
	if !ok {
		return
	}

	status, err := h.service.GetAccountStatus(r.Context(), creatorID)
	if err != nil {
		log.Printf("level=error component=api endpoint=account_status outcome=failed creator_id=%s err=%v", creatorID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// BalanceHandler returns the creator's balance snapshot.
func (h *MonetizationHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveCreator(w, r, "balance")
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), creatorID)
	if err != nil {
		log.Printf("level=error component=api endpoint=balance outcome=failed creator_id=%s err=%v", creatorID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// StarsBalanceHandler returns the creator's Stars balance.
func (h *MonetizationHandlers) StarsBalanceHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveCreator(w, r, "stars_balance")
	if !ok {
		return
	}

	stars, err := h.service.GetStarsBalance(r.Context(), creatorID)
	if err != nil {
		log.Printf("level=error component=api endpoint=stars_balance outcome=failed creator_id=%s err=%v", creatorID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stars)
}

// RequestPayoutHandler moves the creator's available balance into a payout.
func (h *MonetizationHandlers) RequestPayoutHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.resolveCreator(w, r, "request_payout")
	if !ok {
		return
	}

	retryAfter, err := h.service.ConsumePayoutRateLimit(r.Context(), creatorID)
	if err != nil {
		log.Printf("level=error component=api endpoint=request_payout outcome=failed creator_id=%s err=%v", creatorID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if retryAfter > 0 {
		log.Printf("level=warn component=api endpoint=request_payout outcome=reject reason=rate_limited creator_id=%s retry_after=%d", creatorID, retryAfter)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		http.Error(w, "Too many payout requests. Please wait and try again.", http.StatusTooManyRequests)
		return
	}

	payout, err := h.service.RequestPayout(r.Context(), creatorID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=request_payout outcome=failed creator_id=%s err=%v", creatorID, err)
		switch {
		case errors.Is(err, store.ErrInsufficientBalance):
			http.Error(w, "Available balance is below the payout minimum", http.StatusPaymentRequired)
		case errors.Is(err, app.ErrAccountNotLinked):
			http.Error(w, "No active provider account for payouts", http.StatusPreconditionFailed)
		case errors.Is(err, app.ErrProviderUnavailable):
			http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	log.Printf("level=info component=api endpoint=request_payout outcome=accepted payout_id=%s creator_id=%s amount=%d", payout.ID, creatorID, payout.Amount)
	h.writeJSON(w, http.StatusCreated, payoutResponse{
		PayoutID: payout.ID.String(),
		Amount:   payout.Amount,
		Currency: payout.Currency,
		Provider: payout.Provider,
		Status:   payout.Status,
		BatchRef: payout.BatchRef,
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *MonetizationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}
