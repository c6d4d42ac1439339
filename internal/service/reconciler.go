package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"go.uber.org/zap"
)

const reconcileBatch = 100

// Reconciler repairs orders left behind by partial failures: paid orders
// without tickets, and open orders whose hold has already settled or
// lapsed but whose own status never followed.
type Reconciler struct {
	orders     OrderStore
	settlement *Settlement
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	log        *zap.Logger
}

// NewReconciler constructs a Reconciler. Open orders untouched for
// staleAfter are re-examined.
func NewReconciler(orders OrderStore, settlement *Settlement, clk clock.Clock, interval, staleAfter time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		orders:     orders,
		settlement: settlement,
		clock:      clk,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log,
	}
}

// Run reconciles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error("reconcile", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce performs one repair pass. Stale orders are settled first
// so an order that becomes paid here gets its tickets in the same pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	stale, err := r.orders.ListStaleOrders(ctx,
		[]model.OrderStatus{model.OrderCreated, model.OrderAwaitingPayment},
		r.clock.Now().Add(-r.staleAfter), reconcileBatch)
	if err != nil {
		return fmt.Errorf("list stale orders: %w", err)
	}
	for _, o := range stale {
		updated, err := r.settlement.Refresh(ctx, o)
		if err != nil {
			r.log.Error("refresh stale order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if updated.Status != o.Status {
			r.log.Info("stale order reconciled",
				zap.String("order_id", o.ID),
				zap.String("from", string(o.Status)),
				zap.String("to", string(updated.Status)))
		}
	}

	unissued, err := r.orders.ListUnissuedOrders(ctx, reconcileBatch)
	if err != nil {
		return fmt.Errorf("list unissued orders: %w", err)
	}
	for _, o := range unissued {
		if _, err := r.settlement.Finalize(ctx, o); err != nil {
			r.log.Error("reissue tickets", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		r.log.Info("tickets reissued", zap.String("order_id", o.ID))
	}
	return nil
}
