package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/checkout-orchestrator/internal/domain"
	"github.com/yourorg/checkout-orchestrator/internal/store"
)

func testDraft() domain.OrderDraft {
	return domain.OrderDraft{
		OwnerID: "user-1",
		Items: []domain.OrderItem{
			{ProductRef: "p1", Name: "Widget", Quantity: 2, UnitPrice: 10.00, Image: "/img/p1.jpg"},
		},
		Shipping:      domain.ShippingAddress{Address: "1 High St", City: "London", PostalCode: "E1 1AA", Country: "GB"},
		PaymentMethod: "paypal",
		Amounts:       domain.Amounts{ItemsTotal: 20, Tax: 2, Shipping: 5, GrandTotal: 27},
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := store.NewMemoryOrderStore()
	ctx := context.Background()

	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.StatusCreated, order.PaymentStatus)
	assert.Equal(t, domain.FulfillmentPending, order.FulfillmentStatus)
	assert.Nil(t, order.Payment)
	assert.False(t, order.CreatedAt.IsZero())

	loaded, err := s.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order, loaded)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path to paid", func(t *testing.T) {
		s := store.NewMemoryOrderStore()
		order, err := s.Create(ctx, testDraft())
		require.NoError(t, err)

		remote := "REMOTE-1"
		order, err = s.Transition(ctx, order.ID, domain.StatusCreated, domain.StatusAwaitingCapture, store.Patch{RemoteOrderID: &remote})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAwaitingCapture, order.PaymentStatus)
		assert.Equal(t, "REMOTE-1", order.RemoteOrderID)

		record := &domain.PaymentRecord{TransactionID: "CAP-1", GatewayStatus: "COMPLETED", SettledAt: time.Now(), PayerEmail: "b@example.com"}
		order, err = s.Transition(ctx, order.ID, domain.StatusAwaitingCapture, domain.StatusPaid, store.Patch{Payment: record})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, order.PaymentStatus)
		require.NotNil(t, order.Payment)
		assert.Equal(t, "CAP-1", order.Payment.TransactionID)
	})

	t.Run("conflict when current status differs", func(t *testing.T) {
		s := store.NewMemoryOrderStore()
		order, err := s.Create(ctx, testDraft())
		require.NoError(t, err)

		_, err = s.Transition(ctx, order.ID, domain.StatusAwaitingCapture, domain.StatusPaid, store.Patch{})
		assert.ErrorIs(t, err, store.ErrConflict)

		// Patch must not have been applied.
		loaded, err := s.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCreated, loaded.PaymentStatus)
	})

	t.Run("illegal move is rejected up front", func(t *testing.T) {
		s := store.NewMemoryOrderStore()
		order, err := s.Create(ctx, testDraft())
		require.NoError(t, err)

		_, err = s.Transition(ctx, order.ID, domain.StatusCreated, domain.StatusPaid, store.Patch{})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := store.NewMemoryOrderStore()
		_, err := s.Transition(ctx, "missing", domain.StatusCreated, domain.StatusAwaitingCapture, store.Patch{})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

// Concurrent duplicate captures: exactly one caller wins the CAS, everyone
// else observes a conflict, and the payment record is written once.
func TestMemoryStore_ConcurrentTransition(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryOrderStore()
	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)
	_, err = s.Transition(ctx, order.ID, domain.StatusCreated, domain.StatusAwaitingCapture, store.Patch{})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := &domain.PaymentRecord{TransactionID: "CAP-1", GatewayStatus: "COMPLETED"}
			_, err := s.Transition(ctx, order.ID, domain.StatusAwaitingCapture, domain.StatusPaid, store.Patch{Payment: record})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one transition may win")

	final, err := s.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, final.PaymentStatus)
}

func TestMemoryStore_ListAwaitingCaptureBefore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryOrderStore()

	stale, err := s.Create(ctx, testDraft())
	require.NoError(t, err)
	_, err = s.Transition(ctx, stale.ID, domain.StatusCreated, domain.StatusAwaitingCapture, store.Patch{})
	require.NoError(t, err)

	fresh, err := s.Create(ctx, testDraft())
	require.NoError(t, err)

	// Cutoff in the future: only the awaiting-capture order qualifies.
	listed, err := s.ListAwaitingCaptureBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, stale.ID, listed[0].ID)

	// Cutoff in the past: nothing is stale yet.
	listed, err = s.ListAwaitingCaptureBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, listed)

	_ = fresh
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryOrderStore()
	order, err := s.Create(ctx, testDraft())
	require.NoError(t, err)

	loaded, err := s.Get(ctx, order.ID)
	require.NoError(t, err)
	loaded.Items[0].Quantity = 99

	again, err := s.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity, "mutating a returned order must not leak into the store")
}
