// Package gateway wraps the outbound calls to the external payment
// processor: obtaining an OAuth access token, creating a remote payment
// order, capturing it, and looking up its status. Callers never see the wire
// format or raw transport errors, only structured results and typed errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/circuitbreaker"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"

	defaultTimeout = 10 * time.Second
	retryBaseDelay = 500 * time.Millisecond

	// Serve cached tokens only while they have comfortably more life left
	// than a slow gateway call could consume.
	tokenExpirySlack = 30 * time.Second
)

// Operation names used for the circuit breaker and retry policy.
const (
	OpToken   = "token"
	OpCreate  = "create"
	OpCapture = "capture"
	OpLookup  = "lookup"
)

// Token is a gateway access token with its expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used, leaving expiry slack.
func (t Token) Valid() bool {
	return t.AccessToken != "" && time.Until(t.ExpiresAt) > tokenExpirySlack
}

// RemoteOrder is the payment intent the gateway created for an order.
type RemoteOrder struct {
	ID  string
	Raw json.RawMessage
}

// CaptureResult is the gateway's answer to a capture call.
type CaptureResult struct {
	TransactionID string
	Status        string
	Amount        float64
	Currency      string
	PayerEmail    string
	SettledAt     time.Time
	Raw           json.RawMessage
}

// RemoteOrderStatus is the current state of a remote order as the gateway
// sees it. Used by the reconciliation worker.
type RemoteOrderStatus struct {
	ID     string
	Status string
	Raw    json.RawMessage
}

// Completed reports whether the gateway considers the order captured.
func (s RemoteOrderStatus) Completed() bool { return s.Status == "COMPLETED" }

// Client talks to one gateway environment (sandbox or live). It is safe for
// concurrent use; the only mutable state is the token cache.
type Client struct {
	httpClient   *http.Client
	cfg          config.GatewayConfig
	baseURL      string // overridable in tests
	createPolicy *policy.RetryPolicy
	breaker      *circuitbreaker.CircuitBreaker

	mu          sync.Mutex
	cachedToken Token
}

// NewClient creates a gateway client. A nil httpClient gets a default with a
// 10s timeout; a nil breaker means calls are never refused locally.
func NewClient(cfg config.GatewayConfig, httpClient *http.Client, createPolicy *policy.RetryPolicy, breaker *circuitbreaker.CircuitBreaker) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := sandboxBaseURL
	if cfg.Mode == config.ModeLive {
		baseURL = liveBaseURL
	}
	return &Client{
		httpClient:   httpClient,
		cfg:          cfg,
		baseURL:      baseURL,
		createPolicy: createPolicy,
		breaker:      breaker,
	}
}

func (c *Client) allow(op string) error {
	if c.breaker != nil && !c.breaker.AllowRequest(op) {
		return &Error{Kind: KindUnavailable, Detail: "circuit open for gateway operation " + op}
	}
	return nil
}

func (c *Client) record(op string, err error) {
	if c.breaker == nil {
		return
	}
	if err != nil {
		c.breaker.RecordFailure(op)
	} else {
		c.breaker.RecordSuccess(op)
	}
}

// GetAccessToken returns a valid access token, reusing the cached one while
// it has life left. The credential pair goes over HTTP basic auth with a
// client-credentials grant body.
func (c *Client) GetAccessToken(ctx context.Context) (Token, error) {
	c.mu.Lock()
	if c.cachedToken.Valid() {
		tok := c.cachedToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	if err := c.allow(OpToken); err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &Error{Kind: KindAuthFailed, Detail: "building token request", Cause: err}
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(OpToken, err)
		return Token{}, &Error{Kind: KindAuthFailed, Detail: "token request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(OpToken, err)
		return Token{}, &Error{Kind: KindAuthFailed, Detail: "reading token response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := &Error{Kind: KindAuthFailed, Detail: fmt.Sprintf("token endpoint returned HTTP %d: %s", resp.StatusCode, truncate(body)), HTTPStatus: resp.StatusCode}
		c.record(OpToken, gerr)
		return Token{}, gerr
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		gerr := &Error{Kind: KindAuthFailed, Detail: "malformed token response", HTTPStatus: resp.StatusCode, Cause: err}
		c.record(OpToken, gerr)
		return Token{}, gerr
	}

	tok := Token{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}
	c.record(OpToken, nil)

	c.mu.Lock()
	c.cachedToken = tok
	c.mu.Unlock()
	return tok, nil
}

// createOrderPayload mirrors the processor's checkout-order schema: a single
// purchase unit with capture intent, and return/cancel links back into the
// storefront.
func (c *Client) createOrderPayload(amount float64, currency, description string) map[string]interface{} {
	return map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"amount": map[string]string{
					"currency_code": currency,
					"value":         strconv.FormatFloat(amount, 'f', 2, 64),
				},
				"description": description,
			},
		},
		"application_context": map[string]string{
			"brand_name":          c.cfg.BrandName,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
			"return_url":          c.cfg.ClientURL + "/order-success",
			"cancel_url":          c.cfg.ClientURL + "/cart",
		},
	}
}

// CreateOrder creates a remote payment order for the given amount. Transient
// failures (network, 5xx, 429) are retried with exponential backoff per the
// retry policy; the create endpoint is not guaranteed idempotent, so the
// budget is deliberately small.
func (c *Client) CreateOrder(ctx context.Context, token Token, amount float64, currency, description string) (RemoteOrder, error) {
	if amount <= 0 {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "amount must be positive"}
	}
	if currency == "" {
		currency = "GBP"
	}

	payload, err := json.Marshal(c.createOrderPayload(amount, currency, description))
	if err != nil {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "building create payload", Cause: err}
	}

	var lastErr *Error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "cancelled while waiting to retry", Cause: ctx.Err()}
			}
		}

		if err := c.allow(OpCreate); err != nil {
			return RemoteOrder{}, err
		}

		order, gerr := c.doCreate(ctx, token, payload)
		c.record(OpCreate, errOrNil(gerr))
		if gerr == nil {
			return order, nil
		}
		lastErr = gerr
		if !gerr.Transient() || !c.createPolicy.AllowRetry(OpCreate, attempt, gerr.Transient()) {
			return RemoteOrder{}, lastErr
		}
	}
}

func (c *Client) doCreate(ctx context.Context, token Token, payload []byte) (RemoteOrder, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "building create request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "create request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "reading create response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: fmt.Sprintf("create returned HTTP %d: %s", resp.StatusCode, truncate(body)), HTTPStatus: resp.StatusCode}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.ID == "" {
		return RemoteOrder{}, &Error{Kind: KindCreateFailed, Detail: "malformed create response", HTTPStatus: resp.StatusCode, Cause: err}
	}
	return RemoteOrder{ID: parsed.ID, Raw: body}, nil
}

// CaptureOrder finalizes fund transfer for a previously approved remote
// order. The remote attempt is never retried here: a capture has side
// effects, so only the local request may be retried by the caller, re-using
// the same remote order id.
func (c *Client) CaptureOrder(ctx context.Context, token Token, remoteOrderID string) (CaptureResult, error) {
	if remoteOrderID == "" {
		return CaptureResult{}, &Error{Kind: KindCaptureFailed, Detail: "remote order id is required"}
	}
	if err := c.allow(OpCapture); err != nil {
		return CaptureResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/checkout/orders/"+url.PathEscape(remoteOrderID)+"/capture", nil)
	if err != nil {
		return CaptureResult{}, &Error{Kind: KindCaptureFailed, Detail: "building capture request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(OpCapture, err)
		return CaptureResult{}, &Error{Kind: KindCaptureFailed, Detail: "capture request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(OpCapture, err)
		return CaptureResult{}, &Error{Kind: KindCaptureFailed, Detail: "reading capture response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := &Error{Kind: KindCaptureFailed, Detail: fmt.Sprintf("capture returned HTTP %d: %s", resp.StatusCode, truncate(body)), HTTPStatus: resp.StatusCode}
		c.record(OpCapture, gerr)
		return CaptureResult{}, gerr
	}
	c.record(OpCapture, nil)

	result, perr := parseCaptureResult(body)
	if perr != nil {
		return CaptureResult{}, perr
	}
	return result, nil
}

// LookupOrder reads the remote order's current status. Used by the
// reconciliation worker to settle orders whose capture response was lost.
func (c *Client) LookupOrder(ctx context.Context, token Token, remoteOrderID string) (RemoteOrderStatus, error) {
	if remoteOrderID == "" {
		return RemoteOrderStatus{}, &Error{Kind: KindLookupFailed, Detail: "remote order id is required"}
	}
	if err := c.allow(OpLookup); err != nil {
		return RemoteOrderStatus{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/checkout/orders/"+url.PathEscape(remoteOrderID), nil)
	if err != nil {
		return RemoteOrderStatus{}, &Error{Kind: KindLookupFailed, Detail: "building lookup request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(OpLookup, err)
		return RemoteOrderStatus{}, &Error{Kind: KindLookupFailed, Detail: "lookup request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(OpLookup, err)
		return RemoteOrderStatus{}, &Error{Kind: KindLookupFailed, Detail: "reading lookup response", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := &Error{Kind: KindLookupFailed, Detail: fmt.Sprintf("lookup returned HTTP %d: %s", resp.StatusCode, truncate(body)), HTTPStatus: resp.StatusCode}
		c.record(OpLookup, gerr)
		return RemoteOrderStatus{}, gerr
	}
	c.record(OpLookup, nil)

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RemoteOrderStatus{}, &Error{Kind: KindLookupFailed, Detail: "malformed lookup response", Cause: err}
	}
	return RemoteOrderStatus{ID: parsed.ID, Status: parsed.Status, Raw: body}, nil
}

func parseCaptureResult(body []byte) (CaptureResult, *Error) {
	var parsed struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		UpdateTime string `json:"update_time"`
		Payer      struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
					UpdateTime string `json:"update_time"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return CaptureResult{}, &Error{Kind: KindCaptureFailed, Detail: "malformed capture response", Cause: err}
	}

	result := CaptureResult{
		TransactionID: parsed.ID,
		Status:        parsed.Status,
		PayerEmail:    parsed.Payer.EmailAddress,
		Raw:           body,
	}
	if parsed.UpdateTime != "" {
		if ts, err := time.Parse(time.RFC3339, parsed.UpdateTime); err == nil {
			result.SettledAt = ts
		}
	}
	if result.SettledAt.IsZero() {
		result.SettledAt = time.Now().UTC()
	}

	// The capture id and amount live on the first capture of the first
	// purchase unit; there is always exactly one for this flow.
	for _, pu := range parsed.PurchaseUnits {
		for _, capture := range pu.Payments.Captures {
			if capture.ID != "" {
				result.TransactionID = capture.ID
			}
			if capture.Status != "" {
				result.Status = capture.Status
			}
			result.Currency = capture.Amount.CurrencyCode
			if v, err := strconv.ParseFloat(capture.Amount.Value, 64); err == nil {
				result.Amount = v
			}
			if capture.UpdateTime != "" {
				if ts, err := time.Parse(time.RFC3339, capture.UpdateTime); err == nil {
					result.SettledAt = ts
				}
			}
			return result, nil
		}
	}
	return result, nil
}

func errOrNil(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}

func truncate(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
