// Package orchestrator drives the checkout flow: create the local order,
// open a remote payment order with the gateway, and later capture it and
// mark the local order paid. Correctness across duplicate callbacks rests on
// the store's compare-and-set transition, not on any lock held here.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/yourorg/checkout-orchestrator/internal/catalog"
	"github.com/yourorg/checkout-orchestrator/internal/domain"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/store"
)

// DefaultCurrency used for remote payment orders.
const DefaultCurrency = "GBP"

// PaymentGateway is the slice of the gateway client the orchestrator needs.
type PaymentGateway interface {
	GetAccessToken(ctx context.Context) (gateway.Token, error)
	CreateOrder(ctx context.Context, token gateway.Token, amount float64, currency, description string) (gateway.RemoteOrder, error)
	CaptureOrder(ctx context.Context, token gateway.Token, remoteOrderID string) (gateway.CaptureResult, error)
}

// BeginResult is handed back to the client so it can drive the external
// payment widget.
type BeginResult struct {
	OrderID       string         `json:"orderId"`
	RemoteOrderID string         `json:"remoteOrderId"`
	Amounts       domain.Amounts `json:"amounts"`
}

// Orchestrator is the single writer of order payment status. Stateless
// between calls; safe for concurrent use across different orders.
type Orchestrator struct {
	orders   store.OrderStore
	gateway  PaymentGateway
	catalog  catalog.ProductCatalog
	recorder *reporting.Recorder
}

// NewOrchestrator creates an orchestrator. The recorder may be nil when no
// settlement reporting is wanted; the catalog may be nil in tests that do
// not exercise image resolution.
func NewOrchestrator(orders store.OrderStore, gw PaymentGateway, cat catalog.ProductCatalog, recorder *reporting.Recorder) *Orchestrator {
	if orders == nil {
		panic("order store cannot be nil")
	}
	if gw == nil {
		panic("payment gateway cannot be nil")
	}
	return &Orchestrator{orders: orders, gateway: gw, catalog: cat, recorder: recorder}
}

func (o *Orchestrator) record(entry reporting.LogEntry) {
	if o.recorder != nil {
		o.recorder.Record(entry)
	}
}

// resolveItems turns cart lines into order items, filling missing images
// from the catalog. A failed lookup falls back to an empty image; it is not
// worth failing a checkout over.
func (o *Orchestrator) resolveItems(ctx context.Context, cart domain.CartSnapshot) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		item := domain.OrderItem{
			ProductRef: ci.ProductID,
			Name:       ci.Name,
			Quantity:   ci.Quantity,
			UnitPrice:  ci.Price,
			Image:      ci.Image,
		}
		if strings.TrimSpace(item.Image) == "" && o.catalog != nil {
			img, err := o.catalog.PrimaryImage(ctx, ci.ProductID)
			if err != nil {
				img = ""
			}
			item.Image = img
		}
		items = append(items, item)
	}
	return items
}

// BeginCheckout validates the cart, creates the local order, and opens the
// remote payment order for the server-computed grand total. The amount sent
// to the gateway is always recomputed here; a client-supplied total is never
// trusted.
func (o *Orchestrator) BeginCheckout(ctx context.Context, ownerID string, cart domain.CartSnapshot, shipping domain.ShippingAddress) (BeginResult, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.BeginCheckout")
	defer span.End()

	start := time.Now()
	defer func() {
		checkoutDurationSeconds.WithLabelValues("begin").Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(ownerID) == "" {
		return BeginResult{}, &domain.ValidationError{Message: "missing owner identity"}
	}
	if err := cart.Validate(); err != nil {
		return BeginResult{}, err
	}
	if err := shipping.Validate(); err != nil {
		return BeginResult{}, err
	}

	items := o.resolveItems(ctx, cart)
	amounts := domain.ComputeAmounts(cart)

	order, err := o.orders.Create(ctx, domain.OrderDraft{
		OwnerID:       ownerID,
		Items:         items,
		Shipping:      shipping,
		PaymentMethod: "paypal",
		Amounts:       amounts,
	})
	if err != nil {
		return BeginResult{}, &Error{Kind: KindInternal, Detail: "creating order", Cause: err}
	}

	remote, gerr := o.openRemoteOrder(ctx, order)
	if gerr != nil {
		// The order must never be left in Created: park it in Failed so
		// the client knows to start over.
		if _, terr := o.orders.Transition(ctx, order.ID, domain.StatusCreated, domain.StatusFailed, store.Patch{}); terr != nil {
			log.Printf("orchestrator: failing order %s after gateway error: %v", order.ID, terr)
		}
		checkoutFailuresTotal.WithLabelValues("begin", string(KindGatewayUnavailable)).Inc()
		o.record(reporting.LogEntry{
			OrderID: order.ID, OwnerID: ownerID, Stage: reporting.StageBegin,
			Status: reporting.StatusFailure, ErrorKind: string(KindGatewayUnavailable),
		})
		return BeginResult{}, &Error{Kind: KindGatewayUnavailable, Detail: "creating remote payment order", Cause: gerr}
	}

	remoteID := remote.ID
	order, err = o.orders.Transition(ctx, order.ID, domain.StatusCreated, domain.StatusAwaitingCapture, store.Patch{RemoteOrderID: &remoteID})
	if err != nil {
		return BeginResult{}, &Error{Kind: KindInternal, Detail: "recording remote payment order", Cause: err}
	}

	checkoutsStartedTotal.Inc()
	o.record(reporting.LogEntry{
		OrderID: order.ID, OwnerID: ownerID, Stage: reporting.StageBegin,
		Status: reporting.StatusSuccess, Amount: amounts.GrandTotal, Currency: DefaultCurrency,
	})
	return BeginResult{OrderID: order.ID, RemoteOrderID: remote.ID, Amounts: amounts}, nil
}

func (o *Orchestrator) openRemoteOrder(ctx context.Context, order domain.Order) (gateway.RemoteOrder, error) {
	token, err := o.gateway.GetAccessToken(ctx)
	if err != nil {
		return gateway.RemoteOrder{}, err
	}
	return o.gateway.CreateOrder(ctx, token, order.Amounts.GrandTotal, DefaultCurrency, "order "+order.ID)
}

// CompleteCheckout captures the remote payment order and transitions the
// local order to Paid. Duplicate callbacks are reconciled by the store's
// compare-and-set: a second caller observes the already-paid order instead
// of writing a second payment record.
func (o *Orchestrator) CompleteCheckout(ctx context.Context, orderID, remoteOrderID string) (domain.Order, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.CompleteCheckout")
	defer span.End()

	start := time.Now()
	defer func() {
		checkoutDurationSeconds.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	}()

	order, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	switch order.PaymentStatus {
	case domain.StatusPaid:
		// Repeat callback after a successful capture: idempotent no-op.
		return order, nil
	case domain.StatusAwaitingCapture:
	default:
		return domain.Order{}, &Error{Kind: KindInvalidState, Detail: "order is " + string(order.PaymentStatus)}
	}

	if remoteOrderID == "" {
		remoteOrderID = order.RemoteOrderID
	}
	if remoteOrderID != order.RemoteOrderID {
		return domain.Order{}, &domain.ValidationError{Message: "remote order id does not match this order"}
	}

	token, err := o.gateway.GetAccessToken(ctx)
	if err != nil {
		checkoutFailuresTotal.WithLabelValues("capture", string(KindCaptureFailed)).Inc()
		o.record(reporting.LogEntry{
			OrderID: orderID, OwnerID: order.OwnerID, Stage: reporting.StageCapture,
			Status: reporting.StatusFailure, ErrorKind: string(KindCaptureFailed),
		})
		return domain.Order{}, &Error{Kind: KindCaptureFailed, Detail: "authenticating with gateway", Cause: err}
	}

	result, err := o.gateway.CaptureOrder(ctx, token, remoteOrderID)
	if err != nil {
		// Order stays AwaitingCapture; the client may retry the local
		// request re-using the same remote order id.
		checkoutFailuresTotal.WithLabelValues("capture", string(KindCaptureFailed)).Inc()
		o.record(reporting.LogEntry{
			OrderID: orderID, OwnerID: order.OwnerID, Stage: reporting.StageCapture,
			Status: reporting.StatusFailure, ErrorKind: string(KindCaptureFailed),
		})
		return domain.Order{}, &Error{Kind: KindCaptureFailed, Detail: "capturing remote payment order", Cause: err}
	}

	if result.Amount > 0 && !domain.AmountsEqual(result.Amount, order.Amounts.GrandTotal) {
		checkoutFailuresTotal.WithLabelValues("capture", string(KindAmountMismatch)).Inc()
		o.record(reporting.LogEntry{
			OrderID: orderID, OwnerID: order.OwnerID, Stage: reporting.StageCapture,
			Status: reporting.StatusFailure, ErrorKind: string(KindAmountMismatch),
		})
		return domain.Order{}, &Error{
			Kind:   KindAmountMismatch,
			Detail: "gateway captured a different amount than authorized",
			Cause:  &gateway.Error{Kind: gateway.KindAmountMismatch, Detail: "captured amount diverges from order total"},
		}
	}

	record := &domain.PaymentRecord{
		TransactionID: result.TransactionID,
		GatewayStatus: result.Status,
		SettledAt:     result.SettledAt,
		PayerEmail:    result.PayerEmail,
	}
	order, err = o.orders.Transition(ctx, orderID, domain.StatusAwaitingCapture, domain.StatusPaid, store.Patch{Payment: record})
	if errors.Is(err, store.ErrConflict) {
		// A concurrent capture callback won the compare-and-set. That is
		// success, not an error: return the order as it now stands.
		current, gerr := o.orders.Get(ctx, orderID)
		if gerr != nil {
			return domain.Order{}, gerr
		}
		return current, nil
	}
	if err != nil {
		return domain.Order{}, &Error{Kind: KindInternal, Detail: "marking order paid", Cause: err}
	}

	checkoutsPaidTotal.Inc()
	o.record(reporting.LogEntry{
		OrderID: orderID, OwnerID: order.OwnerID, Stage: reporting.StageCapture,
		Status: reporting.StatusSuccess, Amount: order.Amounts.GrandTotal, Currency: DefaultCurrency,
	})
	return order, nil
}

// GetOrder loads an order for the HTTP layer.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return o.orders.Get(ctx, orderID)
}
