// Package checkoutclient is the storefront-side driver for the checkout
// flow. It mirrors what the payment widget integration does in a browser:
// begin the checkout to obtain a remote order id (the widget's create-order
// callback), then complete it once the shopper approves (the on-approve
// callback). Shipping fields gate the flow before any request is sent.
package checkoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// CartItem is one cart line as submitted at checkout.
type CartItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

// ShippingAddress is the delivery address. All four fields are required
// before the flow proceeds.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Complete reports whether every shipping field is filled in.
func (s ShippingAddress) Complete() bool {
	for _, v := range []string{s.Address, s.City, s.PostalCode, s.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// OrderItem is a purchase-time snapshot line as the service returns it.
type OrderItem struct {
	ProductRef string  `json:"product"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"price"`
	Image      string  `json:"image"`
}

// Amounts are the server-computed order totals.
type Amounts struct {
	ItemsTotal float64 `json:"itemsPrice"`
	Tax        float64 `json:"taxPrice"`
	Shipping   float64 `json:"shippingPrice"`
	GrandTotal float64 `json:"totalPrice"`
}

// PaymentRecord is the capture result attached to a paid order.
type PaymentRecord struct {
	TransactionID string    `json:"id"`
	GatewayStatus string    `json:"status"`
	SettledAt     time.Time `json:"update_time"`
	PayerEmail    string    `json:"email_address"`
}

// Order is the checkout service's order representation.
type Order struct {
	ID            string          `json:"_id"`
	OwnerID       string          `json:"user"`
	Items         []OrderItem     `json:"orderItems"`
	Shipping      ShippingAddress `json:"shippingAddress"`
	Amounts       Amounts         `json:"amounts"`
	PaymentStatus string          `json:"paymentStatus"`
	RemoteOrderID string          `json:"remoteOrderId,omitempty"`
	Payment       *PaymentRecord  `json:"paymentResult,omitempty"`
}

// Paid reports whether the order has settled.
func (o Order) Paid() bool { return o.PaymentStatus == "PAID" }

// Error is a typed API failure. Retryable failures (gateway hiccups) may be
// re-submitted with the same ids; non-retryable ones need a fresh checkout
// or corrected input.
type Error struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("checkout api: HTTP %d %s: %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("checkout api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether re-submitting the same request may succeed.
// Gateway-side failures are; validation and auth failures are not.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusBadGateway || e.StatusCode == http.StatusServiceUnavailable
}

// ErrIncompleteShipping blocks the flow until the address is filled in. It
// is produced locally; the server is never contacted.
var ErrIncompleteShipping = &Error{StatusCode: http.StatusBadRequest, Message: "shipping address is incomplete"}

// BeginResult is the server's answer to a begun checkout.
type BeginResult struct {
	OrderID       string  `json:"orderId"`
	RemoteOrderID string  `json:"remoteOrderId"`
	Amounts       Amounts `json:"amounts"`
}

// Client talks to the checkout service on behalf of one authenticated
// shopper.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. The token is the shopper's bearer identity token;
// a nil httpClient gets a default with a 15s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type beginCheckoutRequest struct {
	OrderItems      []CartItem      `json:"orderItems"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
}

// BeginCheckout submits the cart and shipping address, returning the order
// and remote order ids the payment widget needs. Incomplete shipping details
// fail locally; nothing is sent until the address is complete.
func (c *Client) BeginCheckout(ctx context.Context, items []CartItem, shipping ShippingAddress) (BeginResult, error) {
	if !shipping.Complete() {
		return BeginResult{}, ErrIncompleteShipping
	}
	if len(items) == 0 {
		return BeginResult{}, &Error{StatusCode: http.StatusBadRequest, Message: "cart is empty"}
	}

	var result BeginResult
	err := c.do(ctx, http.MethodPost, "/api/orders", beginCheckoutRequest{
		OrderItems:      items,
		ShippingAddress: shipping,
		PaymentMethod:   "paypal",
	}, &result)
	if err != nil {
		return BeginResult{}, err
	}
	return result, nil
}

type completeCheckoutRequest struct {
	ID string `json:"id"`
}

// CompleteCheckout is the on-approve callback: the shopper approved the
// payment in the widget, and the widget handed back the remote order id.
// Safe to retry on a retryable Error with the same ids.
func (c *Client) CompleteCheckout(ctx context.Context, orderID, remoteOrderID string) (Order, error) {
	if orderID == "" {
		return Order{}, &Error{StatusCode: http.StatusBadRequest, Message: "missing order id"}
	}

	var order Order
	err := c.do(ctx, http.MethodPut, "/api/orders/"+orderID+"/pay", completeCheckoutRequest{ID: remoteOrderID}, &order)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder loads an order the shopper owns.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+orderID, nil, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Flow holds the state of one checkout across the two widget callbacks.
type Flow struct {
	client *Client
	begun  *BeginResult
}

// NewFlow starts an empty flow for the client.
func (c *Client) NewFlow() *Flow {
	return &Flow{client: c}
}

// CreateOrderID is the widget's create-order callback: it begins the
// checkout on first use and resolves to the remote order id the widget
// renders the approval UI for.
func (f *Flow) CreateOrderID(ctx context.Context, items []CartItem, shipping ShippingAddress) (string, error) {
	result, err := f.client.BeginCheckout(ctx, items, shipping)
	if err != nil {
		return "", err
	}
	f.begun = &result
	return result.RemoteOrderID, nil
}

// OnApprove is the widget's approval callback. The approvedRemoteID comes
// from the widget; it must match the one the flow created.
func (f *Flow) OnApprove(ctx context.Context, approvedRemoteID string) (Order, error) {
	if f.begun == nil {
		return Order{}, &Error{StatusCode: http.StatusBadRequest, Message: "checkout has not been started"}
	}
	return f.client.CompleteCheckout(ctx, f.begun.OrderID, approvedRemoteID)
}

// Result returns the begin result once the flow has started.
func (f *Flow) Result() (BeginResult, bool) {
	if f.begun == nil {
		return BeginResult{}, false
	}
	return *f.begun, true
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("checkoutclient: encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("checkoutclient: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("checkoutclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("checkoutclient: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed struct {
			Message string `json:"message"`
			Kind    string `json:"kind"`
		}
		if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
			apiErr.Kind = parsed.Kind
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("checkoutclient: decoding response: %w", err)
		}
	}
	return nil
}
