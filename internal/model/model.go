// Package model defines the core domain types for the booking and
// settlement engine.
package model

import "time"

// TierKey identifies one (event, ticket tier) pair.
type TierKey struct {
	EventID string `json:"event_id"`
	TierID  string `json:"tier_id"`
}

func (k TierKey) String() string {
	return k.EventID + "/" + k.TierID
}

// Tier is a priced ticket category as published by the catalogue.
// Price is expressed in the smallest currency unit.
type Tier struct {
	EventID  string `json:"event_id" yaml:"-"`
	TierID   string `json:"tier_id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Price    int64  `json:"price" yaml:"price"`
	Currency string `json:"currency" yaml:"currency"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// Key returns the tier's inventory key.
func (t Tier) Key() TierKey {
	return TierKey{EventID: t.EventID, TierID: t.TierID}
}

// Inventory is the authoritative ticket count for one tier.
type Inventory struct {
	EventID       string `json:"event_id"`
	TierID        string `json:"tier_id"`
	TotalCapacity int    `json:"total_capacity"`
	SoldCount     int    `json:"sold_count"`
	HeldCount     int    `json:"held_count"`
}

// Remaining returns the number of units neither sold nor held.
func (i *Inventory) Remaining() int {
	return i.TotalCapacity - i.SoldCount - i.HeldCount
}

// CanHold reports whether quantity more units fit under capacity.
func (i *Inventory) CanHold(quantity int) bool {
	return i.SoldCount+i.HeldCount+quantity <= i.TotalCapacity
}

// HoldStatus is the lifecycle state of a Hold.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConverted HoldStatus = "converted"
	HoldReleased  HoldStatus = "released"
)

// Hold reserves Quantity units of one tier for exactly one Order.
type Hold struct {
	ID        string     `json:"id"`
	EventID   string     `json:"event_id"`
	TierID    string     `json:"tier_id"`
	Quantity  int        `json:"quantity"`
	Status    HoldStatus `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Key returns the inventory key the hold counts against.
func (h *Hold) Key() TierKey {
	return TierKey{EventID: h.EventID, TierID: h.TierID}
}

// Expired reports whether the hold's TTL has elapsed at now.
func (h *Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// OrderStatus is the settlement state of an Order.
type OrderStatus string

const (
	OrderCreated         OrderStatus = "created"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderFailed          OrderStatus = "failed"
	OrderExpired         OrderStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed || s == OrderExpired
}

// CanTransition reports whether from -> to is an edge of the
// settlement state machine.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderCreated:
		return to == OrderAwaitingPayment || to == OrderFailed || to == OrderExpired
	case OrderAwaitingPayment:
		return to == OrderPaid || to == OrderFailed || to == OrderExpired
	}
	return false
}

// Order is the unit of payment. AmountDue is fixed at creation.
type Order struct {
	ID              string      `json:"id"`
	HoldID          string      `json:"hold_id"`
	BuyerPrincipal  string      `json:"buyer"`
	EventID         string      `json:"event_id"`
	TierID          string      `json:"tier_id"`
	Quantity        int         `json:"quantity"`
	UnitPrice       int64       `json:"unit_price"`
	AmountDue       int64       `json:"amount_due"`
	Currency        string      `json:"currency"`
	GatewayOrderRef string      `json:"gateway_order_ref,omitempty"`
	PaymentRef      string      `json:"payment_ref,omitempty"`
	Status          OrderStatus `json:"status"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TicketRecord is one redeemable ticket bound to a settled order line.
type TicketRecord struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	LineNo          int       `json:"line_no"`
	EventID         string    `json:"event_id"`
	TierID          string    `json:"tier_id"`
	RedemptionToken string    `json:"redemption_token"`
	IssuedAt        time.Time `json:"issued_at"`
	Redeemed        bool      `json:"redeemed"`
}

// Transition describes a conditional order status change. Fields left
// empty are not written.
type Transition struct {
	From            []OrderStatus
	To              OrderStatus
	GatewayOrderRef string
	PaymentRef      string
	FailureReason   string
	At              time.Time
}
