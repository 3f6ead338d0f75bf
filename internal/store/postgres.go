package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/domain"
)

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	items              JSONB NOT NULL,
	shipping           JSONB NOT NULL,
	payment_method     TEXT NOT NULL DEFAULT 'paypal',
	items_total        NUMERIC(12,2) NOT NULL,
	tax                NUMERIC(12,2) NOT NULL,
	shipping_fee       NUMERIC(12,2) NOT NULL,
	grand_total        NUMERIC(12,2) NOT NULL,
	payment_status     TEXT NOT NULL,
	fulfillment_status TEXT NOT NULL DEFAULT 'PENDING',
	remote_order_id    TEXT NOT NULL DEFAULT '',
	payment            JSONB,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders (payment_status, updated_at);
`

const orderColumns = `id, owner_id, items, shipping, payment_method,
	items_total, tax, shipping_fee, grand_total,
	payment_status, fulfillment_status, remote_order_id, payment,
	created_at, updated_at`

// PostgresOrderStore implements OrderStore on postgres via the pgx stdlib
// driver. The compare-and-set in Transition is a guarded UPDATE: the WHERE
// clause pins the expected current status, so a lost race updates zero rows.
type PostgresOrderStore struct {
	db *sql.DB
}

var _ OrderStore = (*PostgresOrderStore)(nil)

// NewPostgresOrderStore opens the connection, pings it, and applies the
// orders schema (idempotent DDL).
func NewPostgresOrderStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresOrderStore, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ordersSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &PostgresOrderStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresOrderStore) Close() error { return s.db.Close() }

// Create inserts the draft with status Created.
func (s *PostgresOrderStore) Create(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	itemsJSON, err := json.Marshal(draft.Items)
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: marshal items: %w", err)
	}
	shippingJSON, err := json.Marshal(draft.Shipping)
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: marshal shipping: %w", err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:                domain.NewOrderID(),
		OwnerID:           draft.OwnerID,
		Items:             draft.Items,
		Shipping:          draft.Shipping,
		PaymentMethod:     draft.PaymentMethod,
		Amounts:           draft.Amounts,
		PaymentStatus:     domain.StatusCreated,
		FulfillmentStatus: domain.FulfillmentPending,
		RemoteOrderID:     draft.RemoteOrderID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	const query = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, $13, $14)`
	_, err = s.db.ExecContext(ctx, query,
		order.ID, order.OwnerID, itemsJSON, shippingJSON, order.PaymentMethod,
		order.Amounts.ItemsTotal, order.Amounts.Tax, order.Amounts.Shipping, order.Amounts.GrandTotal,
		order.PaymentStatus, order.FulfillmentStatus, order.RemoteOrderID,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: insert order: %w", err)
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order        domain.Order
		itemsJSON    []byte
		shippingJSON []byte
		paymentJSON  []byte
	)
	err := row.Scan(
		&order.ID, &order.OwnerID, &itemsJSON, &shippingJSON, &order.PaymentMethod,
		&order.Amounts.ItemsTotal, &order.Amounts.Tax, &order.Amounts.Shipping, &order.Amounts.GrandTotal,
		&order.PaymentStatus, &order.FulfillmentStatus, &order.RemoteOrderID, &paymentJSON,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("store: unmarshal items: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &order.Shipping); err != nil {
		return domain.Order{}, fmt.Errorf("store: unmarshal shipping: %w", err)
	}
	if len(paymentJSON) > 0 {
		var record domain.PaymentRecord
		if err := json.Unmarshal(paymentJSON, &record); err != nil {
			return domain.Order{}, fmt.Errorf("store: unmarshal payment record: %w", err)
		}
		order.Payment = &record
	}
	return order, nil
}

// Get loads an order by id.
func (s *PostgresOrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: get order: %w", err)
	}
	return order, nil
}

// Transition runs the guarded UPDATE. Zero rows updated means either the
// order does not exist or the status moved underneath us; a follow-up SELECT
// tells the two apart.
func (s *PostgresOrderStore) Transition(ctx context.Context, id string, from, to domain.PaymentStatus, patch Patch) (domain.Order, error) {
	if !domain.CanTransition(from, to) {
		return domain.Order{}, ErrInvalidTransition
	}

	var paymentJSON []byte
	if patch.Payment != nil {
		var err error
		paymentJSON, err = json.Marshal(patch.Payment)
		if err != nil {
			return domain.Order{}, fmt.Errorf("store: marshal payment record: %w", err)
		}
	}

	const query = `
		UPDATE orders
		SET payment_status = $3,
		    remote_order_id = COALESCE($4, remote_order_id),
		    payment = COALESCE($5, payment),
		    updated_at = now()
		WHERE id = $1 AND payment_status = $2
		RETURNING ` + orderColumns
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id, from, to, patch.RemoteOrderID, paymentJSON))
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); errors.Is(gerr, ErrNotFound) {
			return domain.Order{}, ErrNotFound
		}
		return domain.Order{}, ErrConflict
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: transition order: %w", err)
	}
	return order, nil
}

// ListAwaitingCaptureBefore returns stale AwaitingCapture orders for the
// reconciliation worker.
func (s *PostgresOrderStore) ListAwaitingCaptureBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
		WHERE payment_status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	rows, err := s.db.QueryContext(ctx, query, domain.StatusAwaitingCapture, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list awaiting capture: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// Health pings the database.
func (s *PostgresOrderStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
