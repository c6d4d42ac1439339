package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceLeavesLiveHolds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	stale := h.reserveOrder(t, "student-1", 2)
	h.clock.Advance(holdTTL / 2)
	live := h.reserveOrder(t, "student-2", 3)
	h.clock.Advance(holdTTL / 2)

	n, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.store.GetOrder(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderExpired, got.Status)

	got, err = h.store.GetOrder(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderAwaitingPayment, got.Status)
	assert.Equal(t, 3, h.inventory(t).HeldCount)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sweeper.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestReconcilerReissuesMissingTickets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-1", 2)

	h.tickets.failures = defaultIssueAttempts
	paid, err := h.pay(ctx, order, "pay_1")
	require.Error(t, err)
	assert.Equal(t, model.OrderPaid, paid.Status)

	tickets, err := h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets)

	require.NoError(t, h.reconciler.ReconcileOnce(ctx))
	tickets, err = h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	unissued, err := h.store.ListUnissuedOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unissued)
}

func TestReconcilerSettlesConvertedHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-1", 2)

	// The hold converted but the order update never happened.
	_, changed, err := h.store.Convert(ctx, order.HoldID)
	require.NoError(t, err)
	require.True(t, changed)

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.reconciler.ReconcileOnce(ctx))

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, got.Status)

	tickets, err := h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestReconcilerExpiresLapsedOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-1", 2)

	h.clock.Advance(holdTTL + time.Minute)
	require.NoError(t, h.reconciler.ReconcileOnce(ctx))

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderExpired, got.Status)
	assert.Equal(t, 0, h.inventory(t).HeldCount)
}

func TestReconcilerIgnoresFreshOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-1", 2)

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.reconciler.ReconcileOnce(ctx))

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderAwaitingPayment, got.Status)
}

func TestIssueTicketsConcurrentlyYieldsOneSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-1", 4)
	_, err := h.pay(ctx, order, "pay_1")
	require.NoError(t, err)
	paid, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	first, err := h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	sets := make([][]model.TicketRecord, 6)
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sets[i], _ = h.issuer.IssueTickets(ctx, paid)
		}(i)
	}
	wg.Wait()
	for _, s := range sets {
		assert.Equal(t, first, s)
	}
}

func TestIssueTicketsCompletesPartialSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := model.Order{ID: "ord-partial", Quantity: 3, Status: model.OrderPaid, EventID: general.EventID, TierID: general.TierID}

	_, err := h.store.CreateTickets(ctx, order.ID, []model.TicketRecord{
		{ID: "t-1", OrderID: order.ID, LineNo: 1, RedemptionToken: "EXISTING"},
	})
	require.NoError(t, err)

	tickets, err := h.issuer.IssueTickets(ctx, order)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, "EXISTING", tickets[0].RedemptionToken)
	assert.Len(t, tickets[1].RedemptionToken, 32)
}

func TestIssueTicketsRejectsUnpaidOrder(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.issuer.IssueTickets(context.Background(), model.Order{ID: "o", Quantity: 1, Status: model.OrderAwaitingPayment})
	assert.ErrorIs(t, err, model.ErrNotPaid)
}
