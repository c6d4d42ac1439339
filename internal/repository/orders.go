package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, hold_id, buyer, event_id, tier_id, quantity, unit_price, amount_due, currency,
	COALESCE(gateway_order_ref, ''), payment_ref, status, failure_reason, created_at, updated_at`

// OrderRepository handles persistence for orders.
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts a new order. A second order for the same hold is
// rejected with model.ErrDuplicate.
func (r *OrderRepository) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orders (id, hold_id, buyer, event_id, tier_id, quantity, unit_price, amount_due, currency,
		                     gateway_order_ref, payment_ref, status, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.HoldID, o.BuyerPrincipal, o.EventID, o.TierID, o.Quantity, o.UnitPrice, o.AmountDue, o.Currency,
		nullIfEmpty(o.GatewayOrderRef), o.PaymentRef, o.Status, o.FailureReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *OrderRepository) GetOrderByGatewayRef(ctx context.Context, ref string) (model.Order, error) {
	return r.getBy(ctx, "gateway_order_ref", ref)
}

func (r *OrderRepository) GetOrderByHoldID(ctx context.Context, holdID string) (model.Order, error) {
	return r.getBy(ctx, "hold_id", holdID)
}

// getBy looks an order up by one of its unique columns. column is never
// user input.
func (r *OrderRepository) getBy(ctx context.Context, column, value string) (model.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, model.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order by %s: %w", column, err)
	}
	return o, nil
}

// TransitionOrder moves the order to t.To only if its current status is
// one of t.From. The WHERE clause on status makes the update a
// compare-and-swap: of two racing transitions exactly one matches a row.
func (r *OrderRepository) TransitionOrder(ctx context.Context, id string, t model.Transition) (model.Order, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		if model.CanTransition(s, t.To) {
			from = append(from, string(s))
		}
	}
	if len(from) == 0 {
		return model.Order{}, model.ErrInvalidTransition
	}

	o, err := scanOrder(r.db.QueryRow(ctx,
		`UPDATE orders
		 SET status            = $2,
		     gateway_order_ref = COALESCE($3, gateway_order_ref),
		     payment_ref       = CASE WHEN $4 = '' THEN payment_ref ELSE $4 END,
		     failure_reason    = CASE WHEN $5 = '' THEN failure_reason ELSE $5 END,
		     updated_at        = $6
		 WHERE id = $1 AND status = ANY($7)
		 RETURNING `+orderColumns,
		id, t.To, nullIfEmpty(t.GatewayOrderRef), t.PaymentRef, t.FailureReason, t.At, from,
	))
	if err == nil {
		return o, nil
	}
	if isUniqueViolation(err) {
		return model.Order{}, model.ErrDuplicate
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, fmt.Errorf("transition order: %w", err)
	}

	current, getErr := r.GetOrder(ctx, id)
	if getErr != nil {
		return model.Order{}, getErr
	}
	return current, model.ErrInvalidTransition
}

// ListStaleOrders returns orders in one of statuses last updated before
// updatedBefore, oldest first.
func (r *OrderRepository) ListStaleOrders(ctx context.Context, statuses []model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error) {
	st := make([]string, len(statuses))
	for i, s := range statuses {
		st[i] = string(s)
	}
	return r.list(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = ANY($1) AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		st, updatedBefore, limit)
}

// ListUnissuedOrders returns paid orders holding fewer tickets than
// their quantity.
func (r *OrderRepository) ListUnissuedOrders(ctx context.Context, limit int) ([]model.Order, error) {
	return r.list(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.status = 'paid'
		   AND (SELECT COUNT(*) FROM tickets t WHERE t.order_id = o.id) < o.quantity
		 ORDER BY o.updated_at ASC
		 LIMIT $1`,
		limit)
}

func (r *OrderRepository) list(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.HoldID, &o.BuyerPrincipal, &o.EventID, &o.TierID, &o.Quantity,
		&o.UnitPrice, &o.AmountDue, &o.Currency, &o.GatewayOrderRef, &o.PaymentRef, &o.Status,
		&o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.CreatedAt = utc(o.CreatedAt)
	o.UpdatedAt = utc(o.UpdatedAt)
	return o, nil
}
