// Package worker reconciles orders stuck in AwaitingCapture. When the
// capture response was lost (timeout after the gateway already completed the
// capture), the client sees a failure but the money moved. The worker asks
// the gateway for the remote order's status and settles the local order when
// the gateway shows the capture completed.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/domain"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/store"
)

// StatusChecker is the slice of the gateway client the worker needs.
type StatusChecker interface {
	GetAccessToken(ctx context.Context) (gateway.Token, error)
	LookupOrder(ctx context.Context, token gateway.Token, remoteOrderID string) (gateway.RemoteOrderStatus, error)
}

// ReconciliationWorker periodically sweeps stale AwaitingCapture orders.
type ReconciliationWorker struct {
	orders     store.OrderStore
	gateway    StatusChecker
	interval   time.Duration
	staleAfter time.Duration
}

// NewReconciliationWorker creates a worker that sweeps every interval,
// considering orders stale once they sit in AwaitingCapture longer than
// staleAfter.
func NewReconciliationWorker(orders store.OrderStore, gw StatusChecker, interval, staleAfter time.Duration) *ReconciliationWorker {
	if orders == nil {
		panic("order store cannot be nil")
	}
	if gw == nil {
		panic("gateway cannot be nil")
	}
	return &ReconciliationWorker{orders: orders, gateway: gw, interval: interval, staleAfter: staleAfter}
}

// Run sweeps until the context is cancelled. Intended to run as a goroutine
// from main.
func (w *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ReconcileOnce(ctx); err != nil {
				log.Printf("reconciliation: sweep failed: %v", err)
			}
		}
	}
}

// ReconcileOnce performs a single sweep. Exported for tests and for manual
// runs from admin tooling.
func (w *ReconciliationWorker) ReconcileOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.orders.ListAwaitingCaptureBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	token, err := w.gateway.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	for _, order := range stale {
		if order.RemoteOrderID == "" {
			continue
		}
		status, err := w.gateway.LookupOrder(ctx, token, order.RemoteOrderID)
		if err != nil {
			log.Printf("reconciliation: lookup for order %s failed: %v", order.ID, err)
			continue
		}
		if !status.Completed() {
			// Still capturable by a client retry; leave it alone.
			continue
		}

		record := &domain.PaymentRecord{
			TransactionID: status.ID,
			GatewayStatus: status.Status,
			SettledAt:     time.Now().UTC(),
		}
		_, err = w.orders.Transition(ctx, order.ID, domain.StatusAwaitingCapture, domain.StatusPaid, store.Patch{Payment: record})
		if errors.Is(err, store.ErrConflict) {
			// A client retry settled it between the list and the write.
			continue
		}
		if err != nil {
			log.Printf("reconciliation: settling order %s failed: %v", order.ID, err)
			continue
		}
		log.Printf("reconciliation: order %s settled from gateway state %s", order.ID, status.Status)
	}
	return nil
}
