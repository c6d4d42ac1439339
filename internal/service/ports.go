// Package service implements the booking and settlement engine: the
// reservation manager, the settlement state machine, the ticket issuer
// and the background expiry and reconciliation loops.
package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
)

// Ledger is the authoritative inventory for every tier. All mutations of
// one tier's counters are serialised; different tiers proceed in parallel.
type Ledger interface {
	// TryHold reserves quantity units for ttl or fails with a
	// *model.CapacityError.
	TryHold(ctx context.Context, key model.TierKey, quantity int, ttl time.Duration) (model.Hold, error)
	// Convert turns an active, unexpired hold into sold units. The bool
	// reports whether this call performed the transition.
	Convert(ctx context.Context, holdID string) (model.Hold, bool, error)
	// Release returns an active hold's units. Releasing a hold that is
	// already terminal is a no-op.
	Release(ctx context.Context, holdID string) (model.Hold, bool, error)
	GetHold(ctx context.Context, holdID string) (model.Hold, error)
	Inventory(ctx context.Context, key model.TierKey) (model.Inventory, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
}

// OrderStore persists orders. TransitionOrder is a compare-and-swap on
// status and fails with model.ErrInvalidTransition when the order is not
// in one of t.From.
type OrderStore interface {
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	GetOrderByGatewayRef(ctx context.Context, ref string) (model.Order, error)
	GetOrderByHoldID(ctx context.Context, holdID string) (model.Order, error)
	TransitionOrder(ctx context.Context, id string, t model.Transition) (model.Order, error)
	ListStaleOrders(ctx context.Context, statuses []model.OrderStatus, updatedBefore time.Time, limit int) ([]model.Order, error)
	ListUnissuedOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// TicketStore persists ticket records. CreateTickets inserts the lines
// not yet present for the order and returns the full persisted set in
// line order.
type TicketStore interface {
	CreateTickets(ctx context.Context, orderID string, tickets []model.TicketRecord) ([]model.TicketRecord, error)
	ListTickets(ctx context.Context, orderID string) ([]model.TicketRecord, error)
}

// Catalog supplies the price and capacity snapshot for a tier.
type Catalog interface {
	GetTier(ctx context.Context, key model.TierKey) (model.Tier, error)
}

// PaymentGateway is the settlement engine's view of the payment provider.
type PaymentGateway interface {
	CreatePayableOrder(ctx context.Context, order model.Order) (string, error)
	VerifyOutcome(ctx context.Context, gatewayOrderRef, paymentRef, signature string) bool
}

// EventPublisher announces terminal order transitions.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.SettlementEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.SettlementEvent) error { return nil }
