package store

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/domain"
)

// MemoryOrderStore is the in-memory OrderStore used in dev mode and tests.
// The mutex gives the same atomicity for Transition that the SQL store gets
// from its guarded UPDATE.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	now    func() time.Time
}

var _ OrderStore = (*MemoryOrderStore)(nil)

// NewMemoryOrderStore creates an empty in-memory store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]domain.Order),
		now:    time.Now,
	}
}

func copyOrder(o domain.Order) domain.Order {
	out := o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		out.Payment = &p
	}
	return out
}

// Create assigns an id and stores the draft with status Created.
func (s *MemoryOrderStore) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	order := domain.Order{
		ID:                domain.NewOrderID(),
		OwnerID:           draft.OwnerID,
		Items:             append([]domain.OrderItem(nil), draft.Items...),
		Shipping:          draft.Shipping,
		PaymentMethod:     draft.PaymentMethod,
		Amounts:           draft.Amounts,
		PaymentStatus:     domain.StatusCreated,
		FulfillmentStatus: domain.FulfillmentPending,
		RemoteOrderID:     draft.RemoteOrderID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.orders[order.ID] = order
	return copyOrder(order), nil
}

// Get loads an order by id.
func (s *MemoryOrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return copyOrder(order), nil
}

// Transition applies the compare-and-set status change under the store lock.
func (s *MemoryOrderStore) Transition(ctx context.Context, id string, from, to domain.PaymentStatus, patch Patch) (domain.Order, error) {
	if !domain.CanTransition(from, to) {
		return domain.Order{}, ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	if order.PaymentStatus != from {
		return domain.Order{}, ErrConflict
	}

	order.PaymentStatus = to
	if patch.RemoteOrderID != nil {
		order.RemoteOrderID = *patch.RemoteOrderID
	}
	if patch.Payment != nil {
		p := *patch.Payment
		order.Payment = &p
	}
	order.UpdatedAt = s.now().UTC()
	s.orders[id] = order
	return copyOrder(order), nil
}

// ListAwaitingCaptureBefore returns stale AwaitingCapture orders.
func (s *MemoryOrderStore) ListAwaitingCaptureBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, order := range s.orders {
		if order.PaymentStatus == domain.StatusAwaitingCapture && order.UpdatedAt.Before(cutoff) {
			out = append(out, copyOrder(order))
		}
	}
	return out, nil
}

// Health always succeeds for the in-memory store.
func (s *MemoryOrderStore) Health(ctx context.Context) error { return nil }
