package service

import (
	"context"
	"strings"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("booking/service")

// BookingService exposes the engine's operations to the API layer.
type BookingService struct {
	reservations *ReservationManager
	settlement   *Settlement
	issuer       *TicketIssuer
	orders       OrderStore
	ledger       Ledger
}

// NewBookingService constructs a BookingService.
func NewBookingService(reservations *ReservationManager, settlement *Settlement, issuer *TicketIssuer, orders OrderStore, ledger Ledger) *BookingService {
	return &BookingService{
		reservations: reservations,
		settlement:   settlement,
		issuer:       issuer,
		orders:       orders,
		ledger:       ledger,
	}
}

// Reserve holds inventory for buyer, creates the order and opens payment
// at the gateway. The returned order is awaiting_payment on success.
func (s *BookingService) Reserve(ctx context.Context, buyer string, req model.ReserveRequest) (model.Order, error) {
	ctx, span := tracer.Start(ctx, "booking.Reserve", trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("tier.id", req.TierID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	key := model.TierKey{EventID: strings.TrimSpace(req.EventID), TierID: strings.TrimSpace(req.TierID)}
	order, err := s.reservations.Reserve(ctx, buyer, key, req.Quantity)
	if err != nil {
		recordErr(span, err)
		return model.Order{}, err
	}
	order, err = s.settlement.BeginPayment(ctx, order)
	recordErr(span, err)
	return order, err
}

// ConfirmPayment applies a gateway-reported payment outcome.
func (s *BookingService) ConfirmPayment(ctx context.Context, cb model.PaymentCallback) (model.Order, error) {
	ctx, span := tracer.Start(ctx, "booking.ConfirmPayment", trace.WithAttributes(
		attribute.String("gateway.order_ref", cb.GatewayOrderRef),
	))
	defer span.End()

	order, err := s.settlement.ConfirmPayment(ctx, cb)
	recordErr(span, err)
	return order, err
}

// GetOrderStatus returns the order, expiring it first if its hold lapsed.
func (s *BookingService) GetOrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	return s.settlement.Refresh(ctx, order)
}

// GetTickets returns the tickets of a paid order, completing issuance if
// an earlier attempt did not finish.
func (s *BookingService) GetTickets(ctx context.Context, orderID string) ([]model.TicketRecord, error) {
	order, err := s.GetOrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderPaid {
		return nil, model.ErrNotPaid
	}
	return s.issuer.IssueTickets(ctx, order)
}

// Availability reports a tier's inventory counters.
func (s *BookingService) Availability(ctx context.Context, key model.TierKey) (model.Availability, error) {
	inv, err := s.ledger.Inventory(ctx, key)
	if err != nil {
		return model.Availability{}, err
	}
	return model.Availability{
		EventID:   inv.EventID,
		TierID:    inv.TierID,
		Total:     inv.TotalCapacity,
		Sold:      inv.SoldCount,
		Held:      inv.HeldCount,
		Remaining: inv.Remaining(),
	}, nil
}

func recordErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
