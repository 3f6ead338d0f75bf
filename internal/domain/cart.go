package domain

import (
	"fmt"
	"strings"
)

// CartItem is one client-supplied cart line. Carts are ephemeral; the core
// never persists them.
type CartItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
}

// CartSnapshot is the cart as submitted at checkout time.
type CartSnapshot struct {
	Items []CartItem `json:"items"`
}

// ValidationError reports malformed client input. It maps to HTTP 400 and is
// never retried automatically.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the cart invariants: non-empty, positive quantities,
// non-negative prices.
func (c CartSnapshot) Validate() error {
	if len(c.Items) == 0 {
		return &ValidationError{Message: "cart is empty"}
	}
	for i, item := range c.Items {
		if item.ProductID == "" {
			return &ValidationError{Message: fmt.Sprintf("cart item %d: missing product id", i)}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Message: fmt.Sprintf("cart item %d (%s): quantity must be positive", i, item.ProductID)}
		}
		if item.Price < 0 {
			return &ValidationError{Message: fmt.Sprintf("cart item %d (%s): price must not be negative", i, item.ProductID)}
		}
	}
	return nil
}

// Validate checks that every shipping field is present and non-blank.
func (s ShippingAddress) Validate() error {
	fields := map[string]string{
		"address":    s.Address,
		"city":       s.City,
		"postalCode": s.PostalCode,
		"country":    s.Country,
	}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Message: "missing shipping field: " + name}
		}
	}
	return nil
}

// Pricing rules applied to every checkout. The orchestrator is the single
// source of truth for amounts; client-supplied totals are ignored.
const (
	TaxRate         = 0.10
	FlatShippingFee = 5.00
)

// ComputeAmounts derives the order totals from the cart. The invariant
// GrandTotal == ItemsTotal + Tax + Shipping holds to within AmountTolerance.
func ComputeAmounts(cart CartSnapshot) Amounts {
	var items float64
	for _, it := range cart.Items {
		items += it.Price * float64(it.Quantity)
	}
	items = Round2(items)
	tax := Round2(items * TaxRate)
	shipping := FlatShippingFee
	return Amounts{
		ItemsTotal: items,
		Tax:        tax,
		Shipping:   shipping,
		GrandTotal: Round2(items + tax + shipping),
	}
}
