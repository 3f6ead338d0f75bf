// Package store persists orders. The write contract matters for checkout
// correctness: Transition is an atomic compare-and-set on the payment status,
// and a conflict (current status != expected) is reported instead of applied.
// That CAS is what stops a duplicate capture callback from double-crediting
// an order.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/domain"
)

var (
	// ErrNotFound means the order id is unknown.
	ErrNotFound = errors.New("store: order not found")
	// ErrConflict means the compare-and-set found a different current
	// status than expected. Callers treat this as an idempotency signal,
	// not a failure.
	ErrConflict = errors.New("store: status conflict")
	// ErrInvalidTransition means from -> to is not a legal status move at
	// all; this indicates a caller bug rather than a race.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Patch carries the fields a transition may set alongside the status change.
// Nil fields are left untouched.
type Patch struct {
	RemoteOrderID *string
	Payment       *domain.PaymentRecord
}

// OrderStore is the persistence contract consumed by the orchestrator and
// the reconciliation worker.
type OrderStore interface {
	// Create assigns an id, stamps timestamps, and stores the order with
	// payment status Created.
	Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error)

	// Get loads an order by id, or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Order, error)

	// Transition applies a compare-and-set status change with an optional
	// patch. Returns ErrConflict when the current status differs from
	// `from`, ErrNotFound for unknown ids, ErrInvalidTransition for moves
	// the state machine forbids.
	Transition(ctx context.Context, id string, from, to domain.PaymentStatus, patch Patch) (domain.Order, error)

	// ListAwaitingCaptureBefore returns orders stuck in AwaitingCapture
	// whose last update is older than the cutoff. Reconciliation only.
	ListAwaitingCaptureBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error)

	// Health reports whether the store can serve requests.
	Health(ctx context.Context) error
}
