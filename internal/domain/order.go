// Package domain holds the order entities and the payment status state
// machine shared by the store, the orchestrator, and the HTTP layer.
package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the single source of truth for where an order sits in the
// checkout flow. Paid and Failed are terminal; no transition skips a state.
type PaymentStatus string

const (
	StatusCreated         PaymentStatus = "CREATED"
	StatusAwaitingCapture PaymentStatus = "AWAITING_CAPTURE"
	StatusPaid            PaymentStatus = "PAID"
	StatusFailed          PaymentStatus = "FAILED"
)

// FulfillmentStatus is an orthogonal, admin-owned field. The checkout flow
// never writes it beyond the initial pending value.
type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "PENDING"
	FulfillmentShipped   FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered FulfillmentStatus = "DELIVERED"
	FulfillmentCancelled FulfillmentStatus = "CANCELLED"
)

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	StatusCreated:         {StatusAwaitingCapture, StatusFailed},
	StatusAwaitingCapture: {StatusPaid, StatusFailed},
}

// CanTransition reports whether from -> to is a legal payment status move.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem is a purchase-time snapshot of a catalog product.
type OrderItem struct {
	ProductRef string  `json:"product"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"price"`
	Image      string  `json:"image"`
}

// ShippingAddress is where the order ships. All fields are required.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Amounts are the server-computed totals for an order.
type Amounts struct {
	ItemsTotal float64 `json:"itemsPrice"`
	Tax        float64 `json:"taxPrice"`
	Shipping   float64 `json:"shippingPrice"`
	GrandTotal float64 `json:"totalPrice"`
}

// PaymentRecord holds the gateway's capture result. Populated only once the
// order reaches Paid.
type PaymentRecord struct {
	TransactionID string    `json:"id"`
	GatewayStatus string    `json:"status"`
	SettledAt     time.Time `json:"update_time"`
	PayerEmail    string    `json:"email_address"`
}

// Order is the persistent checkout entity. It is created and mutated only by
// the orchestrator; client-supplied status values are never applied.
type Order struct {
	ID                string            `json:"_id"`
	OwnerID           string            `json:"user"`
	Items             []OrderItem       `json:"orderItems"`
	Shipping          ShippingAddress   `json:"shippingAddress"`
	PaymentMethod     string            `json:"paymentMethod"`
	Amounts           Amounts           `json:"amounts"`
	PaymentStatus     PaymentStatus     `json:"paymentStatus"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	// RemoteOrderID ties the order to at most one payment intent in the
	// gateway's system.
	RemoteOrderID string         `json:"remoteOrderId,omitempty"`
	Payment       *PaymentRecord `json:"paymentResult,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// OrderDraft is what the orchestrator hands the store; the store assigns the
// id and the initial Created status.
type OrderDraft struct {
	OwnerID       string
	Items         []OrderItem
	Shipping      ShippingAddress
	PaymentMethod string
	Amounts       Amounts
	RemoteOrderID string
}

// NewOrderID returns a fresh opaque order identifier.
func NewOrderID() string { return uuid.NewString() }

// AmountTolerance is the rounding slack allowed when comparing totals.
const AmountTolerance = 0.01

// AmountsEqual compares two monetary values within the rounding tolerance.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= AmountTolerance
}

// Round2 rounds a monetary value to two decimals, matching how amounts are
// serialized to the gateway.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
