/**
 * @description
 * This package provides a client for the subset of the PayPal API the
 * monetization-service uses. PayPal is the holds-funds provider: charges
 * capture into the platform's own merchant account, and creator payouts go
 * out later as payout batches. Creator onboarding is a manual external step
 * confirmed by webhook, so no account-creation call exists here.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - internal/domain: Provider-neutral parameter and result types.
 */
package paypalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/streamhive/monetization-service/internal/domain"
)

// ErrUnsupportedOperation is returned for capabilities PayPal does not
// offer under the holds-funds model.
var ErrUnsupportedOperation = errors.New("operation not supported by paypal provider")

// Client is a client for the PayPal API.
type Client struct {
	BaseURL       string
	APIKey        string
	HTTPClient    *http.Client
	webhookSecret string
}

// NewClient creates a new PayPal API client.
func NewClient(baseURL, apiKey, webhookSecret string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		APIKey:        apiKey,
		webhookSecret: webhookSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in ledger rows and webhook routing.
func (c *Client) Name() string {
	return domain.ProviderPayPal
}

// Capabilities reports that PayPal requires the platform to hold funds and
// batch-pay later.
func (c *Client) Capabilities() domain.ProviderCapabilities {
	return domain.ProviderCapabilities{SupportsDirectTransfer: false}
}

// ErrorResponse represents an error from the PayPal API.
type ErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("paypal api error: %s - %s", e.Name, e.Message)
}

type purchaseUnit struct {
	Description string `json:"description,omitempty"`
	Amount      struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
}

type orderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type payoutBatchRequest struct {
	SenderBatchHeader struct {
		EmailSubject string `json:"email_subject,omitempty"`
	} `json:"sender_batch_header"`
	Items []payoutItem `json:"items"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Receiver      string `json:"receiver"`
	Note          string `json:"note,omitempty"`
	Amount        struct {
		Currency string `json:"currency"`
		Value    string `json:"value"`
	} `json:"amount"`
}

type payoutBatchResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

// CreateConnectedAccount is unsupported: PayPal creator onboarding is a
// manual partner-referral step outside this service.
func (c *Client) CreateConnectedAccount(ctx context.Context) (string, error) {
	return "", ErrUnsupportedOperation
}

// OnboardingLink is unsupported for the same reason.
func (c *Client) OnboardingLink(ctx context.Context, accountID string) (string, error) {
	return "", ErrUnsupportedOperation
}

// DashboardLink is unsupported; creators use paypal.com directly.
func (c *Client) DashboardLink(ctx context.Context, accountID string) (string, error) {
	return "", ErrUnsupportedOperation
}

// AccountCapability is unsupported; activation arrives via the merchant
// onboarding webhook instead of a poll.
func (c *Client) AccountCapability(ctx context.Context, accountID string) (*domain.RemoteAccountCapability, error) {
	return nil, ErrUnsupportedOperation
}

// CreateCharge creates a capture-intent order settling into the platform's
// merchant account. The order id is the reference echoed by capture
// webhooks; PayPal's client flow uses the order id itself as the approval
// token.
func (c *Client) CreateCharge(ctx context.Context, params domain.ChargeParams) (*domain.ChargeAuthorization, error) {
	unit := purchaseUnit{Description: params.Description}
	unit.Amount.CurrencyCode = strings.ToUpper(params.Currency)
	unit.Amount.Value = formatAmount(params.Amount)

	reqPayload := orderRequest{Intent: "CAPTURE", PurchaseUnits: []purchaseUnit{unit}}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &domain.ChargeAuthorization{
		Reference:   resp.ID,
		ClientToken: resp.ID,
	}, nil
}

// CreatePayout creates a single-item payout batch to the creator's PayPal
// account and returns the batch id.
func (c *Client) CreatePayout(ctx context.Context, params domain.PayoutParams) (string, error) {
	reqPayload := payoutBatchRequest{}
	item := payoutItem{
		RecipientType: "PAYPAL_ID",
		Receiver:      params.DestinationAccountID,
		Note:          params.Note,
	}
	item.Amount.Currency = strings.ToUpper(params.Currency)
	item.Amount.Value = formatAmount(params.Amount)
	reqPayload.Items = []payoutItem{item}

	var resp payoutBatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments/payouts", reqPayload, &resp); err != nil {
		return "", err
	}
	return resp.BatchHeader.PayoutBatchID, nil
}

// formatAmount renders cents as PayPal's decimal string (e.g. 970 -> "9.70").
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func (c *Client) do(ctx context.Context, method, path string, payload, target interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal paypal request: %w", err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute paypal request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read paypal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paypal_client status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=paypal_client status=%d name=%q message=%q", resp.StatusCode, errResp.Name, errResp.Message)
		return &errResp
	}

	if target != nil {
		if err := json.Unmarshal(bodyBytes, target); err != nil {
			return fmt.Errorf("failed to decode success response: %w", err)
		}
	}
	return nil
}
