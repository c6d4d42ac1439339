package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentConfirmedIssuesTickets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	order := h.reserveOrder(t, "student-42", 2)
	assert.Equal(t, int64(500), order.AmountDue)
	assert.Equal(t, "gw_1", order.GatewayOrderRef)
	assert.Equal(t, 2, h.inventory(t).HeldCount)

	paid, err := h.pay(ctx, order, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, paid.Status)
	assert.Equal(t, "pay_1", paid.PaymentRef)

	inv := h.inventory(t)
	assert.Equal(t, 2, inv.SoldCount)
	assert.Equal(t, 0, inv.HeldCount)

	tickets, err := h.booking.GetTickets(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.NotEqual(t, tickets[0].RedemptionToken, tickets[1].RedemptionToken)
	assert.Equal(t, []int{1, 2}, []int{tickets[0].LineNo, tickets[1].LineNo})

	// A duplicate callback changes nothing.
	again, err := h.pay(ctx, order, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, again.Status)

	tickets2, err := h.booking.GetTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets, tickets2)
	assert.Equal(t, 2, h.inventory(t).SoldCount)
	assert.Equal(t, []string{"order.paid"}, h.publisher.names())
}

func TestConcurrentDuplicateCallbacks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 3)

	var wg sync.WaitGroup
	results := make([]model.Order, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.pay(ctx, order, "pay_1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, model.OrderPaid, results[i].Status)
	}
	assert.Equal(t, []string{"order.paid"}, h.publisher.names())
	assert.Equal(t, 3, h.inventory(t).SoldCount)

	tickets, err := h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
}

func TestHoldExpiresBeforePayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 2)

	h.clock.Advance(holdTTL)
	n, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderExpired, got.Status)
	assert.Equal(t, 0, h.inventory(t).HeldCount)

	late, err := h.pay(ctx, order, "pay_late")
	assert.ErrorIs(t, err, model.ErrOrderExpired)
	assert.Equal(t, model.OrderExpired, late.Status)
	assert.Equal(t, 0, h.inventory(t).SoldCount)
	assert.Equal(t, []string{"order.expired"}, h.publisher.names())
}

func TestPaymentAfterTTLBeforeSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 2)

	h.clock.Advance(holdTTL)
	got, err := h.pay(ctx, order, "pay_late")
	assert.ErrorIs(t, err, model.ErrOrderExpired)
	assert.Equal(t, model.OrderExpired, got.Status)

	inv := h.inventory(t)
	assert.Equal(t, 0, inv.SoldCount)
	assert.Equal(t, 0, inv.HeldCount)

	n, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForgedSignatureFailsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 2)

	got, err := h.booking.ConfirmPayment(ctx, model.PaymentCallback{
		GatewayOrderRef: order.GatewayOrderRef,
		PaymentRef:      "pay_1",
		Signature:       "forged",
	})
	assert.ErrorIs(t, err, model.ErrVerificationFailed)
	assert.Equal(t, model.OrderFailed, got.Status)
	assert.Equal(t, 0, h.inventory(t).HeldCount)

	// The failure is permanent; a valid outcome afterwards cannot revive it.
	_, err = h.pay(ctx, order, "pay_1")
	assert.ErrorIs(t, err, model.ErrOrderClosed)
	assert.Equal(t, 0, h.inventory(t).SoldCount)

	_, err = h.booking.ConfirmPayment(ctx, model.PaymentCallback{GatewayOrderRef: order.GatewayOrderRef, Signature: "forged"})
	assert.ErrorIs(t, err, model.ErrVerificationFailed)
	assert.Equal(t, []string{"order.failed"}, h.publisher.names())
}

func TestForgedSignatureOnPaidOrderIsRejectedWithoutChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 1)
	_, err := h.pay(ctx, order, "pay_1")
	require.NoError(t, err)

	got, err := h.booking.ConfirmPayment(ctx, model.PaymentCallback{GatewayOrderRef: order.GatewayOrderRef, Signature: "forged"})
	assert.ErrorIs(t, err, model.ErrVerificationFailed)
	assert.Equal(t, model.OrderPaid, got.Status)
	assert.Equal(t, 1, h.inventory(t).SoldCount)
}

func TestConfirmUnknownGatewayRef(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.booking.ConfirmPayment(context.Background(), model.PaymentCallback{GatewayOrderRef: "gw_missing"})
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestConfirmationRacingExpiry(t *testing.T) {
	for i := 0; i < 50; i++ {
		t.Run(fmt.Sprintf("round-%d", i), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, 4)
			order := h.reserveOrder(t, "student-42", 2)
			hold, err := h.store.GetHold(ctx, order.HoldID)
			require.NoError(t, err)

			var wg sync.WaitGroup
			var payErr, expireErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, payErr = h.pay(ctx, order, "pay_1")
			}()
			go func() {
				defer wg.Done()
				expireErr = h.settlement.ExpireHold(ctx, hold)
			}()
			wg.Wait()
			require.NoError(t, expireErr)

			final, err := h.store.GetOrder(ctx, order.ID)
			require.NoError(t, err)
			inv := h.inventory(t)
			assert.Equal(t, 0, inv.HeldCount)

			switch final.Status {
			case model.OrderPaid:
				require.NoError(t, payErr)
				assert.Equal(t, 2, inv.SoldCount)
				tickets, err := h.store.ListTickets(ctx, order.ID)
				require.NoError(t, err)
				assert.Len(t, tickets, 2)
			case model.OrderExpired:
				assert.ErrorIs(t, payErr, model.ErrOrderExpired)
				assert.Equal(t, 0, inv.SoldCount)
			default:
				t.Fatalf("unexpected final status %s", final.Status)
			}
			assert.Len(t, h.publisher.names(), 1)
		})
	}
}

func TestGatewayExhaustionFailsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.gateway.createErr = fmt.Errorf("create payable order: %w", model.ErrGatewayUnavailable)

	order, err := h.booking.Reserve(ctx, "student-42", model.ReserveRequest{
		EventID: general.EventID, TierID: general.TierID, Quantity: 2,
	})
	assert.ErrorIs(t, err, model.ErrGatewayUnavailable)
	assert.Equal(t, model.OrderFailed, order.Status)
	assert.Contains(t, order.FailureReason, "gateway")

	stored, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, stored.Status)
	assert.Equal(t, 0, h.inventory(t).HeldCount)
	assert.Equal(t, []string{"order.failed"}, h.publisher.names())
}

func TestFinalizeRequiresPaidOrder(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.settlement.Finalize(context.Background(), model.Order{Status: model.OrderAwaitingPayment})
	assert.ErrorIs(t, err, model.ErrNotPaid)
}

func TestLazyExpiryOnStatusRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 3)

	h.clock.Advance(holdTTL - 1)
	got, err := h.booking.GetOrderStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderAwaitingPayment, got.Status)

	h.clock.Advance(1)
	got, err = h.booking.GetOrderStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderExpired, got.Status)
	assert.Equal(t, 0, h.inventory(t).HeldCount)

	_, err = h.booking.GetTickets(ctx, order.ID)
	assert.ErrorIs(t, err, model.ErrNotPaid)
}

func TestGetTicketsBeforePayment(t *testing.T) {
	h := newHarness(t, 10)
	order := h.reserveOrder(t, "student-42", 1)

	_, err := h.booking.GetTickets(context.Background(), order.ID)
	assert.ErrorIs(t, err, model.ErrNotPaid)
}

func TestTwoUnitsAtFiveHundred(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	vip := model.TierKey{EventID: general.EventID, TierID: "vip"}
	require.NoError(t, h.store.UpsertTier(ctx, model.Tier{
		EventID: vip.EventID, TierID: vip.TierID, Name: "VIP", Price: 500, Currency: "inr", Capacity: 10,
	}))

	order, err := h.booking.Reserve(ctx, "student-7", model.ReserveRequest{EventID: vip.EventID, TierID: vip.TierID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(500), order.UnitPrice)
	assert.Equal(t, int64(1000), order.AmountDue)

	before, err := h.store.Inventory(ctx, vip)
	require.NoError(t, err)
	assert.Equal(t, 2, before.HeldCount)
	assert.Equal(t, 0, before.SoldCount)

	paid, err := h.pay(ctx, order, "pay_vip")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, paid.Status)

	after, err := h.store.Inventory(ctx, vip)
	require.NoError(t, err)
	assert.Equal(t, 2, after.SoldCount)
	assert.Equal(t, 0, after.HeldCount)

	tickets, err := h.store.ListTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}
