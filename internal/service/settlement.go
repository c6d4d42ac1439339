package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/clock"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"go.uber.org/zap"
)

const defaultIssueAttempts = 3

// Settlement drives orders through the settlement state machine:
//
//	created          -> awaiting_payment  payable order created at the gateway
//	created          -> failed            gateway retries exhausted
//	awaiting_payment -> paid              verified outcome; hold converted, tickets issued
//	awaiting_payment -> failed            signature mismatch; hold released
//	awaiting_payment -> expired           hold TTL elapsed; hold released
//
// The hold's single terminal transition decides every race: an order only
// becomes paid after its hold converted, and only fails or expires after
// its hold was released.
type Settlement struct {
	ledger        Ledger
	orders        OrderStore
	issuer        *TicketIssuer
	gateway       PaymentGateway
	publisher     EventPublisher
	clock         clock.Clock
	log           *zap.Logger
	issueAttempts int
}

// NewSettlement constructs a Settlement. A nil publisher discards events.
func NewSettlement(ledger Ledger, orders OrderStore, issuer *TicketIssuer, gateway PaymentGateway, publisher EventPublisher, clk clock.Clock, log *zap.Logger) *Settlement {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Settlement{
		ledger:        ledger,
		orders:        orders,
		issuer:        issuer,
		gateway:       gateway,
		publisher:     publisher,
		clock:         clk,
		log:           log,
		issueAttempts: defaultIssueAttempts,
	}
}

// BeginPayment creates the payable order at the gateway and moves the
// order to awaiting_payment. When the gateway stays unavailable the order
// fails and its hold is released.
func (s *Settlement) BeginPayment(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Status != model.OrderCreated {
		return order, model.ErrOrderClosed
	}

	ref, err := s.gateway.CreatePayableOrder(ctx, order)
	if err != nil {
		failed, failErr := s.fail(ctx, order, "gateway: "+err.Error())
		if failErr != nil {
			return order, fmt.Errorf("fail order after gateway error: %w", failErr)
		}
		return failed, err
	}

	updated, err := s.orders.TransitionOrder(ctx, order.ID, model.Transition{
		From:            []model.OrderStatus{model.OrderCreated},
		To:              model.OrderAwaitingPayment,
		GatewayOrderRef: ref,
		At:              s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			current, getErr := s.orders.GetOrder(ctx, order.ID)
			if getErr != nil {
				return order, getErr
			}
			return current, closedErr(current)
		}
		return order, fmt.Errorf("await payment: %w", err)
	}
	s.logTransition(updated, model.OrderCreated)
	return updated, nil
}

// ConfirmPayment handles a payment outcome reported by the gateway.
// A signature mismatch permanently fails the order and is never retried.
// Confirming an already paid order re-runs ticket issuance only.
func (s *Settlement) ConfirmPayment(ctx context.Context, cb model.PaymentCallback) (model.Order, error) {
	order, err := s.orders.GetOrderByGatewayRef(ctx, cb.GatewayOrderRef)
	if err != nil {
		return model.Order{}, err
	}

	if !s.gateway.VerifyOutcome(ctx, cb.GatewayOrderRef, cb.PaymentRef, cb.Signature) {
		s.log.Warn("payment outcome failed verification",
			zap.String("order_id", order.ID),
			zap.String("gateway_order_ref", cb.GatewayOrderRef))
		if order.Status.Terminal() {
			return order, model.ErrVerificationFailed
		}
		failed, err := s.fail(ctx, order, "signature verification failed")
		if err != nil {
			return order, err
		}
		return failed, model.ErrVerificationFailed
	}

	switch order.Status {
	case model.OrderPaid:
		return s.Finalize(ctx, order)
	case model.OrderFailed:
		return order, model.ErrOrderClosed
	case model.OrderExpired:
		return order, model.ErrOrderExpired
	case model.OrderAwaitingPayment:
	default:
		return order, fmt.Errorf("order %s in %s: %w", order.ID, order.Status, model.ErrInvalidTransition)
	}

	hold, _, err := s.ledger.Convert(ctx, order.HoldID)
	if err != nil {
		if errors.Is(err, model.ErrHoldExpired) || errors.Is(err, model.ErrHoldReleased) {
			s.log.Warn("verified payment arrived after hold lapsed",
				zap.String("order_id", order.ID),
				zap.String("payment_ref", cb.PaymentRef))
			expired, expErr := s.expire(ctx, order)
			if expErr != nil {
				return order, expErr
			}
			if expired.Status == model.OrderPaid {
				return s.Finalize(ctx, expired)
			}
			return expired, closedErr(expired)
		}
		return order, fmt.Errorf("convert hold: %w", err)
	}
	if hold.Status != model.HoldConverted {
		return order, fmt.Errorf("hold %s in %s after convert: %w", hold.ID, hold.Status, model.ErrInvalidTransition)
	}

	paid, err := s.markPaid(ctx, order, cb.PaymentRef)
	if err != nil {
		return order, err
	}
	return s.Finalize(ctx, paid)
}

// markPaid moves an order whose hold has converted into paid. A
// concurrent confirmation that already did so is not an error.
func (s *Settlement) markPaid(ctx context.Context, order model.Order, paymentRef string) (model.Order, error) {
	paid, err := s.orders.TransitionOrder(ctx, order.ID, model.Transition{
		From:       []model.OrderStatus{model.OrderAwaitingPayment},
		To:         model.OrderPaid,
		PaymentRef: paymentRef,
		At:         s.clock.Now(),
	})
	if err != nil {
		if !errors.Is(err, model.ErrInvalidTransition) {
			return order, fmt.Errorf("mark paid: %w", err)
		}
		current, getErr := s.orders.GetOrder(ctx, order.ID)
		if getErr != nil {
			return order, getErr
		}
		if current.Status != model.OrderPaid {
			return current, fmt.Errorf("order %s in %s with converted hold: %w", current.ID, current.Status, model.ErrInvalidTransition)
		}
		return current, nil
	}
	s.logTransition(paid, order.Status)
	s.publish(ctx, paid, "order.paid")
	return paid, nil
}

// Finalize completes the side effects of a paid order. Ticket issuance is
// idempotent so it is retried here rather than re-verifying the payment.
func (s *Settlement) Finalize(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Status != model.OrderPaid {
		return order, model.ErrNotPaid
	}

	var lastErr error
	for attempt := 1; attempt <= s.issueAttempts; attempt++ {
		if _, err := s.issuer.IssueTickets(ctx, order); err != nil {
			lastErr = err
			s.log.Warn("ticket issuance failed",
				zap.String("order_id", order.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		return order, nil
	}
	return order, fmt.Errorf("issue tickets: %w", lastErr)
}

// Refresh applies lazy expiry: a non-terminal order whose hold TTL has
// elapsed is expired before being returned.
func (s *Settlement) Refresh(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Status.Terminal() {
		return order, nil
	}
	hold, err := s.ledger.GetHold(ctx, order.HoldID)
	if err != nil {
		return order, err
	}
	if hold.Status == model.HoldActive && !hold.Expired(s.clock.Now()) {
		return order, nil
	}
	if hold.Status == model.HoldConverted {
		return s.markPaid(ctx, order, "")
	}
	return s.expire(ctx, order)
}

// ExpireHold releases an expired hold and expires the order that owns it.
// It is the sweeper's entry point.
func (s *Settlement) ExpireHold(ctx context.Context, hold model.Hold) error {
	released, changed, err := s.ledger.Release(ctx, hold.ID)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if released.Status != model.HoldReleased {
		return nil
	}
	if !changed {
		s.log.Debug("hold already released", zap.String("hold_id", hold.ID))
	}

	order, err := s.orders.GetOrderByHoldID(ctx, hold.ID)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	_, err = s.closeOrder(ctx, order, model.OrderExpired, "hold expired")
	return err
}

// fail releases the order's hold and marks it failed.
func (s *Settlement) fail(ctx context.Context, order model.Order, reason string) (model.Order, error) {
	return s.releaseAndClose(ctx, order, model.OrderFailed, reason)
}

// expire releases the order's hold and marks it expired.
func (s *Settlement) expire(ctx context.Context, order model.Order) (model.Order, error) {
	return s.releaseAndClose(ctx, order, model.OrderExpired, "hold expired")
}

func (s *Settlement) releaseAndClose(ctx context.Context, order model.Order, to model.OrderStatus, reason string) (model.Order, error) {
	hold, _, err := s.ledger.Release(ctx, order.HoldID)
	if err != nil {
		return order, fmt.Errorf("release hold: %w", err)
	}
	if hold.Status == model.HoldConverted {
		// A concurrent confirmation won; the order is paid, not closed.
		return s.markPaid(ctx, order, "")
	}
	return s.closeOrder(ctx, order, to, reason)
}

func (s *Settlement) closeOrder(ctx context.Context, order model.Order, to model.OrderStatus, reason string) (model.Order, error) {
	closed, err := s.orders.TransitionOrder(ctx, order.ID, model.Transition{
		From:          []model.OrderStatus{model.OrderCreated, model.OrderAwaitingPayment},
		To:            to,
		FailureReason: reason,
		At:            s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return s.orders.GetOrder(ctx, order.ID)
		}
		return order, fmt.Errorf("close order: %w", err)
	}
	s.logTransition(closed, order.Status)
	s.publish(ctx, closed, "order."+string(to))
	return closed, nil
}

func (s *Settlement) publish(ctx context.Context, order model.Order, name string) {
	evt := model.SettlementEvent{
		Event:      name,
		Version:    1,
		OccurredAt: s.clock.Now().Format(time.RFC3339),
		OrderID:    order.ID,
		Buyer:      order.BuyerPrincipal,
		EventID:    order.EventID,
		TierID:     order.TierID,
		Quantity:   order.Quantity,
		AmountDue:  order.AmountDue,
		Currency:   order.Currency,
		Status:     order.Status,
		Reason:     order.FailureReason,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Error("publish settlement event",
			zap.String("event", name),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *Settlement) logTransition(order model.Order, from model.OrderStatus) {
	s.log.Info("order transition",
		zap.String("order_id", order.ID),
		zap.String("hold_id", order.HoldID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)))
}

func closedErr(order model.Order) error {
	switch order.Status {
	case model.OrderExpired:
		return model.ErrOrderExpired
	case model.OrderPaid:
		return nil
	}
	return model.ErrOrderClosed
}
