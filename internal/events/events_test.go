package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outcome string

const (
	acked    outcome = "ack"
	requeued outcome = "requeue"
	dropped  outcome = "drop"
)

type recordingAck struct {
	mu  sync.Mutex
	got []outcome
}

func (a *recordingAck) record(o outcome) {
	a.mu.Lock()
	a.got = append(a.got, o)
	a.mu.Unlock()
}

func (a *recordingAck) Ack(uint64, bool) error { a.record(acked); return nil }

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.record(requeued)
	} else {
		a.record(dropped)
	}
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type stubConfirmer struct {
	err  error
	seen []model.PaymentCallback
}

func (s *stubConfirmer) ConfirmPayment(_ context.Context, cb model.PaymentCallback) (model.Order, error) {
	s.seen = append(s.seen, cb)
	return model.Order{ID: "ord-1", Status: model.OrderPaid}, s.err
}

func delivery(t *testing.T, ack amqp.Acknowledger, body any) amqp.Delivery {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw, RoutingKey: CallbackRoutingKey}
}

func TestHandleDelivery(t *testing.T) {
	valid := model.PaymentCallback{GatewayOrderRef: "src_1", PaymentRef: "chrg_1", Signature: "ab12"}
	tests := []struct {
		name string
		body any
		err  error
		want outcome
	}{
		{"applied", valid, nil, acked},
		{"verification failed", valid, model.ErrVerificationFailed, acked},
		{"order expired", valid, model.ErrOrderExpired, acked},
		{"order closed", valid, fmt.Errorf("confirm: %w", model.ErrOrderClosed), acked},
		{"unknown order", valid, model.ErrOrderNotFound, acked},
		{"storage fault", valid, errors.New("connection reset"), requeued},
		{"malformed json", "{not json", nil, dropped},
		{"missing ref", model.PaymentCallback{PaymentRef: "chrg_1"}, nil, dropped},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ack := &recordingAck{}
			conf := &stubConfirmer{err: tc.err}
			handleDelivery(context.Background(), delivery(t, ack, tc.body), conf, zap.NewNop())
			assert.Equal(t, []outcome{tc.want}, ack.got)
			if tc.want == dropped {
				assert.Empty(t, conf.seen)
			}
		})
	}
}

func TestConsumeStopsWhenChannelCloses(t *testing.T) {
	ack := &recordingAck{}
	conf := &stubConfirmer{}
	msgs := make(chan amqp.Delivery, 2)
	msgs <- delivery(t, ack, model.PaymentCallback{GatewayOrderRef: "src_1"})
	msgs <- delivery(t, ack, model.PaymentCallback{GatewayOrderRef: "src_2"})
	close(msgs)

	require.NoError(t, consume(context.Background(), msgs, conf, zap.NewNop()))
	assert.Equal(t, []outcome{acked, acked}, ack.got)
	require.Len(t, conf.seen, 2)
	assert.Equal(t, "src_2", conf.seen[1].GatewayOrderRef)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consume(ctx, make(chan amqp.Delivery), &stubConfirmer{}, zap.NewNop()) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestNewPublishing(t *testing.T) {
	evt := model.SettlementEvent{
		Event: "order.paid", Version: 1, OrderID: "ord-1", Buyer: "student-9",
		EventID: "techfest", TierID: "vip", Quantity: 2, AmountDue: 1000, Currency: "inr", Status: model.OrderPaid,
	}
	msg, err := newPublishing(evt)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "ord-1:order.paid", msg.MessageId)

	var decoded model.SettlementEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, evt, decoded)
	assert.NotContains(t, string(msg.Body), "reason")
}
