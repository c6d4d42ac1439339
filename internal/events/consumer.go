package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// CallbackRoutingKey is the binding key for queued payment callbacks.
const CallbackRoutingKey = "payment.callback"

const defaultPrefetch = 8

// Confirmer applies a payment outcome.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, cb model.PaymentCallback) (model.Order, error)
}

// Consumer drives payment confirmation from queued gateway callbacks.
type Consumer struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queue     string
	confirmer Confirmer
	log       *zap.Logger
}

// NewConsumer dials url, declares the exchange and a durable queue bound
// to CallbackRoutingKey.
func NewConsumer(url, exchange, queue string, confirmer Confirmer, log *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		return fail(err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("declare queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, CallbackRoutingKey, exchange, false, nil); err != nil {
		return fail(fmt.Errorf("bind %s: %w", CallbackRoutingKey, err))
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		return fail(fmt.Errorf("set qos: %w", err))
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, confirmer: confirmer, log: log}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return consume(ctx, msgs, c.confirmer, c.log)
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, confirmer Confirmer, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			handleDelivery(ctx, d, confirmer, log)
		}
	}
}

// handleDelivery acks callbacks that were applied or permanently
// rejected, drops undecodable messages, and requeues transient failures.
func handleDelivery(ctx context.Context, d amqp.Delivery, confirmer Confirmer, log *zap.Logger) {
	var cb model.PaymentCallback
	if err := json.Unmarshal(d.Body, &cb); err != nil || cb.GatewayOrderRef == "" {
		log.Error("drop malformed payment callback",
			zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	order, err := confirmer.ConfirmPayment(ctx, cb)
	switch {
	case err == nil:
		log.Info("queued payment callback applied",
			zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
		_ = d.Ack(false)
	case permanent(err):
		log.Warn("queued payment callback rejected",
			zap.String("gateway_order_ref", cb.GatewayOrderRef), zap.Error(err))
		_ = d.Ack(false)
	default:
		log.Error("queued payment callback failed; requeueing",
			zap.String("gateway_order_ref", cb.GatewayOrderRef), zap.Error(err))
		_ = d.Nack(false, true)
	}
}

func permanent(err error) bool {
	return errors.Is(err, model.ErrVerificationFailed) ||
		errors.Is(err, model.ErrOrderExpired) ||
		errors.Is(err, model.ErrOrderClosed) ||
		errors.Is(err, model.ErrOrderNotFound)
}
