package model

// ReserveRequest is the payload for creating an order.
type ReserveRequest struct {
	EventID  string `json:"event_id"`
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
}

// PaymentCallback is the signed outcome reported by the payment gateway.
type PaymentCallback struct {
	GatewayOrderRef string `json:"gateway_order_ref"`
	PaymentRef      string `json:"payment_ref"`
	Signature       string `json:"signature"`
}

// Availability summarises a tier's inventory for display.
type Availability struct {
	EventID   string `json:"event_id"`
	TierID    string `json:"tier_id"`
	Total     int    `json:"total"`
	Sold      int    `json:"sold"`
	Held      int    `json:"held"`
	Remaining int    `json:"remaining"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SettlementEvent is published on every terminal order transition.
type SettlementEvent struct {
	Event      string      `json:"event"`
	Version    int         `json:"version"`
	OccurredAt string      `json:"occurred_at"`
	OrderID    string      `json:"order_id"`
	Buyer      string      `json:"buyer"`
	EventID    string      `json:"event_id"`
	TierID     string      `json:"tier_id"`
	Quantity   int         `json:"quantity"`
	AmountDue  int64       `json:"amount_due"`
	Currency   string      `json:"currency"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
}
