// Package events connects the settlement engine to RabbitMQ: settlement
// events are published to a topic exchange, and payment callbacks can be
// delivered through a queue instead of the HTTP endpoint.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends settlement events to a durable topic exchange. The
// routing key is the event name, e.g. "order.paid".
type Publisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

// NewPublisher dials url and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish implements service.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, evt model.SettlementEvent) error {
	msg, err := newPublishing(evt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, evt.Event, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Event, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func newPublishing(evt model.SettlementEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s: %w", evt.Event, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.OrderID + ":" + evt.Event,
		Type:         evt.Event,
		Body:         body,
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}
