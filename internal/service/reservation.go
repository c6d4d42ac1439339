package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHoldTTL     = 15 * time.Minute
	defaultMaxPerOrder = 10
)

// ReservationManager turns a ticket selection into a hold and a priced order.
type ReservationManager struct {
	ledger      Ledger
	orders      OrderStore
	catalog     Catalog
	clock       clock.Clock
	log         *zap.Logger
	holdTTL     time.Duration
	maxPerOrder int
}

// ReservationOption customises a ReservationManager.
type ReservationOption func(*ReservationManager)

// WithHoldTTL overrides the default hold lifetime.
func WithHoldTTL(d time.Duration) ReservationOption {
	return func(m *ReservationManager) {
		if d > 0 {
			m.holdTTL = d
		}
	}
}

// WithMaxPerOrder overrides the per-order ticket limit.
func WithMaxPerOrder(n int) ReservationOption {
	return func(m *ReservationManager) {
		if n > 0 {
			m.maxPerOrder = n
		}
	}
}

// NewReservationManager constructs a ReservationManager.
func NewReservationManager(ledger Ledger, orders OrderStore, catalog Catalog, clk clock.Clock, log *zap.Logger, opts ...ReservationOption) *ReservationManager {
	m := &ReservationManager{
		ledger:      ledger,
		orders:      orders,
		catalog:     catalog,
		clock:       clk,
		log:         log,
		holdTTL:     defaultHoldTTL,
		maxPerOrder: defaultMaxPerOrder,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HoldTTL returns the lifetime given to new holds.
func (m *ReservationManager) HoldTTL() time.Duration {
	return m.holdTTL
}

// Reserve holds quantity units of the tier for buyer and creates an
// order in status created. The amount due is computed from the
// catalogue price at this moment and never recomputed.
//
// A sold-out tier yields an error matching model.ErrSoldOut. If the
// order cannot be stored the hold is released before returning.
func (m *ReservationManager) Reserve(ctx context.Context, buyer string, key model.TierKey, quantity int) (model.Order, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return model.Order{}, model.ErrMissingBuyer
	}
	if quantity < 1 || quantity > m.maxPerOrder {
		return model.Order{}, fmt.Errorf("%w: must be between 1 and %d", model.ErrInvalidQuantity, m.maxPerOrder)
	}

	tier, err := m.catalog.GetTier(ctx, key)
	if err != nil {
		return model.Order{}, err
	}

	hold, err := m.ledger.TryHold(ctx, key, quantity, m.holdTTL)
	if err != nil {
		return model.Order{}, err
	}

	now := m.clock.Now()
	order := model.Order{
		ID:             uuid.NewString(),
		HoldID:         hold.ID,
		BuyerPrincipal: buyer,
		EventID:        key.EventID,
		TierID:         key.TierID,
		Quantity:       quantity,
		UnitPrice:      tier.Price,
		AmountDue:      tier.Price * int64(quantity),
		Currency:       tier.Currency,
		Status:         model.OrderCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.orders.CreateOrder(ctx, order); err != nil {
		if _, _, relErr := m.ledger.Release(ctx, hold.ID); relErr != nil {
			m.log.Error("release hold after failed order create",
				zap.String("hold_id", hold.ID), zap.Error(relErr))
		}
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	m.log.Info("order reserved",
		zap.String("order_id", order.ID),
		zap.String("hold_id", hold.ID),
		zap.String("tier", key.String()),
		zap.Int("quantity", quantity),
		zap.Int64("amount_due", order.AmountDue))
	return order, nil
}
