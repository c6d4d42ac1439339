package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/repository/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	t0      = time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	general = model.TierKey{EventID: "techfest", TierID: "general"}
)

const holdTTL = 10 * time.Minute

// fakeGateway issues sequential refs and accepts signatures of the form
// "ok:<ref>:<paymentRef>".
type fakeGateway struct {
	mu        sync.Mutex
	n         int
	createErr error
	calls     int
}

func (g *fakeGateway) CreatePayableOrder(_ context.Context, order model.Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.createErr != nil {
		return "", g.createErr
	}
	g.n++
	return fmt.Sprintf("gw_%d", g.n), nil
}

func (g *fakeGateway) VerifyOutcome(_ context.Context, ref, paymentRef, signature string) bool {
	return signature == sign(ref, paymentRef)
}

func sign(ref, paymentRef string) string {
	return "ok:" + ref + ":" + paymentRef
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SettlementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

// flakyTickets fails the first failures calls to CreateTickets.
type flakyTickets struct {
	TicketStore
	mu       sync.Mutex
	failures int
}

func (f *flakyTickets) CreateTickets(ctx context.Context, orderID string, tickets []model.TicketRecord) ([]model.TicketRecord, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("ticket store unavailable")
	}
	f.mu.Unlock()
	return f.TicketStore.CreateTickets(ctx, orderID, tickets)
}

// failingOrders refuses to create orders.
type failingOrders struct {
	OrderStore
}

func (failingOrders) CreateOrder(context.Context, model.Order) error {
	return errors.New("orders table unavailable")
}

type harness struct {
	store      *memstore.Store
	clock      *clock.Fake
	gateway    *fakeGateway
	publisher  *recordingPublisher
	tickets    *flakyTickets
	reserve    *ReservationManager
	settlement *Settlement
	issuer     *TicketIssuer
	booking    *BookingService
	sweeper    *Sweeper
	reconciler *Reconciler
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewFake(t0),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
	}
	h.store = memstore.New(h.clock)
	require.NoError(t, h.store.UpsertTier(context.Background(), model.Tier{
		EventID: general.EventID, TierID: general.TierID, Name: "General", Price: 250, Currency: "inr", Capacity: capacity,
	}))

	log := zap.NewNop()
	h.tickets = &flakyTickets{TicketStore: h.store}
	h.issuer = NewTicketIssuer(h.tickets, h.clock)
	h.reserve = NewReservationManager(h.store, h.store, h.store, h.clock, log, WithHoldTTL(holdTTL), WithMaxPerOrder(6))
	h.settlement = NewSettlement(h.store, h.store, h.issuer, h.gateway, h.publisher, h.clock, log)
	h.booking = NewBookingService(h.reserve, h.settlement, h.issuer, h.store, h.store)
	h.sweeper = NewSweeper(h.store, h.settlement, h.clock, time.Second, log)
	h.reconciler = NewReconciler(h.store, h.settlement, h.clock, time.Second, time.Minute, log)
	return h
}

func (h *harness) reserveOrder(t *testing.T, buyer string, quantity int) model.Order {
	t.Helper()
	order, err := h.booking.Reserve(context.Background(), buyer, model.ReserveRequest{
		EventID: general.EventID, TierID: general.TierID, Quantity: quantity,
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderAwaitingPayment, order.Status)
	return order
}

func (h *harness) pay(ctx context.Context, order model.Order, paymentRef string) (model.Order, error) {
	return h.booking.ConfirmPayment(ctx, model.PaymentCallback{
		GatewayOrderRef: order.GatewayOrderRef,
		PaymentRef:      paymentRef,
		Signature:       sign(order.GatewayOrderRef, paymentRef),
	})
}

func (h *harness) inventory(t *testing.T) model.Inventory {
	t.Helper()
	inv, err := h.store.Inventory(context.Background(), general)
	require.NoError(t, err)
	require.LessOrEqual(t, inv.SoldCount+inv.HeldCount, inv.TotalCapacity)
	return inv
}
