/**
 * @description
 * This package provides a client for the subset of the Stripe API the
 * monetization-service uses: Connect account onboarding, destination
 * charges with an application-fee skim, and payouts. It encapsulates the
 * logic for making authenticated HTTP requests, form encoding, and parsing
 * responses.
 *
 * @dependencies
 * - context, net/http, net/url, strconv, time: Standard Go libraries.
 * - internal/domain: Provider-neutral parameter and result types.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/streamhive/monetization-service/internal/domain"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL       string
	APIKey        string
	ReturnURL     string
	RefreshURL    string
	HTTPClient    *http.Client
	webhookSecret string
}

// NewClient creates a new Stripe API client. returnURL and refreshURL are
// where Connect onboarding sends the creator back.
func NewClient(baseURL, apiKey, webhookSecret, returnURL, refreshURL string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		APIKey:        apiKey,
		ReturnURL:     returnURL,
		RefreshURL:    refreshURL,
		webhookSecret: webhookSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in ledger rows and webhook routing.
func (c *Client) Name() string {
	return domain.ProviderStripe
}

// Capabilities reports that Stripe supports direct creator transfers with a
// platform fee skim.
func (c *Client) Capabilities() domain.ProviderCapabilities {
	return domain.ProviderCapabilities{SupportsDirectTransfer: true}
}

// ErrorResponse represents an error from the Stripe API.
type ErrorResponse struct {
	ErrorInfo struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("stripe api error: %s - %s", e.ErrorInfo.Type, e.ErrorInfo.Message)
}

type accountResponse struct {
	ID             string `json:"id"`
	ChargesEnabled bool   `json:"charges_enabled"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

type linkResponse struct {
	URL string `json:"url"`
}

type paymentIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type payoutResponse struct {
	ID string `json:"id"`
}

// CreateConnectedAccount creates an Express account for a creator and
// returns its id.
func (c *Client) CreateConnectedAccount(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("type", "express")

	var resp accountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", form, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// OnboardingLink creates a fresh account-link URL for Connect onboarding.
// Links are single-use and expire, so one is minted per request.
func (c *Client) OnboardingLink(ctx context.Context, accountID string) (string, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("type", "account_onboarding")
	form.Set("return_url", c.ReturnURL)
	form.Set("refresh_url", c.RefreshURL)

	var resp linkResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", form, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// DashboardLink creates a login link into the Express dashboard for a fully
// onboarded account.
func (c *Client) DashboardLink(ctx context.Context, accountID string) (string, error) {
	var resp linkResponse
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/login_links"
	if err := c.do(ctx, http.MethodPost, path, url.Values{}, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// AccountCapability reads back whether the connected account can take
// charges and receive payouts.
func (c *Client) AccountCapability(ctx context.Context, accountID string) (*domain.RemoteAccountCapability, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, &resp); err != nil {
		return nil, err
	}
	return &domain.RemoteAccountCapability{
		ChargesEnabled: resp.ChargesEnabled,
		PayoutsEnabled: resp.PayoutsEnabled,
	}, nil
}

// CreateCharge creates a PaymentIntent. When DestinationAccountID is set the
// creator-net amount transfers directly to the connected account and the fee
// stays with the platform; otherwise the full amount settles to the platform
// account.
func (c *Client) CreateCharge(ctx context.Context, params domain.ChargeParams) (*domain.ChargeAuthorization, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("description", params.Description)
	if params.DestinationAccountID != "" {
		form.Set("application_fee_amount", strconv.FormatInt(params.Fee, 10))
		form.Set("transfer_data[destination]", params.DestinationAccountID)
	}

	var resp paymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &resp); err != nil {
		return nil, err
	}
	return &domain.ChargeAuthorization{
		Reference:   resp.ID,
		ClientToken: resp.ClientSecret,
	}, nil
}

// CreatePayout initiates a payout from the connected account's balance and
// returns the payout id used as the batch reference.
func (c *Client) CreatePayout(ctx context.Context, params domain.PayoutParams) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))

	var resp payoutResponse
	path := "/v1/payouts"
	req, err := c.newRequest(ctx, http.MethodPost, path, form)
	if err != nil {
		return "", err
	}
	// Payouts run in the connected account's context.
	req.Header.Set("Stripe-Account", params.DestinationAccountID)
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body io.Reader
	if method != http.MethodGet && form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func (c *Client) send(req *http.Request, target interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute stripe request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=stripe_client status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client status=%d type=%q message=%q", resp.StatusCode, errResp.ErrorInfo.Type, errResp.ErrorInfo.Message)
		return &errResp
	}

	if target != nil {
		if err := json.Unmarshal(bodyBytes, target); err != nil {
			return fmt.Errorf("failed to decode success response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, target interface{}) error {
	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		return err
	}
	return c.send(req, target)
}
