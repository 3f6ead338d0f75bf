package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/checkout-orchestrator/internal/domain"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.PaymentStatus
		allowed  bool
	}{
		{domain.StatusCreated, domain.StatusAwaitingCapture, true},
		{domain.StatusCreated, domain.StatusFailed, true},
		{domain.StatusCreated, domain.StatusPaid, false}, // no skipping AwaitingCapture
		{domain.StatusAwaitingCapture, domain.StatusPaid, true},
		{domain.StatusAwaitingCapture, domain.StatusFailed, true},
		{domain.StatusAwaitingCapture, domain.StatusCreated, false},
		{domain.StatusPaid, domain.StatusFailed, false}, // terminal
		{domain.StatusFailed, domain.StatusPaid, false}, // terminal
	}
	for _, c := range cases {
		assert.Equal(t, c.allowed, domain.CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestComputeAmounts(t *testing.T) {
	cart := domain.CartSnapshot{Items: []domain.CartItem{
		{ProductID: "p1", Price: 10.00, Quantity: 2},
	}}
	amounts := domain.ComputeAmounts(cart)

	assert.InDelta(t, 20.00, amounts.ItemsTotal, domain.AmountTolerance)
	assert.InDelta(t, 2.00, amounts.Tax, domain.AmountTolerance)
	assert.InDelta(t, 5.00, amounts.Shipping, domain.AmountTolerance)
	assert.InDelta(t, 27.00, amounts.GrandTotal, domain.AmountTolerance)
}

func TestComputeAmounts_GrandTotalInvariant(t *testing.T) {
	carts := []domain.CartSnapshot{
		{Items: []domain.CartItem{{ProductID: "a", Price: 0.10, Quantity: 3}}},
		{Items: []domain.CartItem{{ProductID: "a", Price: 19.99, Quantity: 1}, {ProductID: "b", Price: 3.33, Quantity: 7}}},
		{Items: []domain.CartItem{{ProductID: "a", Price: 0, Quantity: 5}}},
	}
	for _, cart := range carts {
		a := domain.ComputeAmounts(cart)
		assert.True(t, domain.AmountsEqual(a.GrandTotal, a.ItemsTotal+a.Tax+a.Shipping),
			"grand total %v != %v + %v + %v", a.GrandTotal, a.ItemsTotal, a.Tax, a.Shipping)
	}
}

func TestCartValidate(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		err := domain.CartSnapshot{}.Validate()
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		cart := domain.CartSnapshot{Items: []domain.CartItem{{ProductID: "p1", Price: 1, Quantity: 0}}}
		var verr *domain.ValidationError
		require.ErrorAs(t, cart.Validate(), &verr)
	})

	t.Run("negative price", func(t *testing.T) {
		cart := domain.CartSnapshot{Items: []domain.CartItem{{ProductID: "p1", Price: -1, Quantity: 1}}}
		var verr *domain.ValidationError
		require.ErrorAs(t, cart.Validate(), &verr)
	})

	t.Run("valid", func(t *testing.T) {
		cart := domain.CartSnapshot{Items: []domain.CartItem{{ProductID: "p1", Price: 1.50, Quantity: 2}}}
		assert.NoError(t, cart.Validate())
	})
}

func TestShippingValidate(t *testing.T) {
	valid := domain.ShippingAddress{Address: "1 High St", City: "London", PostalCode: "E1 1AA", Country: "GB"}
	assert.NoError(t, valid.Validate())

	blankEach := []domain.ShippingAddress{
		{City: "London", PostalCode: "E1 1AA", Country: "GB"},
		{Address: "1 High St", PostalCode: "E1 1AA", Country: "GB"},
		{Address: "1 High St", City: "London", Country: "GB"},
		{Address: "1 High St", City: "London", PostalCode: "E1 1AA"},
		{Address: "   ", City: "London", PostalCode: "E1 1AA", Country: "GB"},
	}
	for i, s := range blankEach {
		var verr *domain.ValidationError
		require.ErrorAs(t, s.Validate(), &verr, "case %d", i)
	}
}
