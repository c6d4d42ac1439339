package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownOrder is returned by the sandbox for references it did not issue.
var ErrUnknownOrder = errors.New("unknown gateway order")

// Sandbox is an in-process provider for local development. It issues
// order references and can produce correctly signed callbacks for them.
type Sandbox struct {
	verifier *Verifier

	mu     sync.Mutex
	orders map[string]sandboxOrder
}

type sandboxOrder struct {
	reference string
	amount    int64
	currency  string
}

// NewSandbox returns a Sandbox that signs callbacks with verifier.
func NewSandbox(verifier *Verifier) *Sandbox {
	return &Sandbox{verifier: verifier, orders: make(map[string]sandboxOrder)}
}

func (s *Sandbox) CreatePayableOrder(ctx context.Context, amount int64, currency, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "sbx_order_" + uuid.NewString()
	s.mu.Lock()
	s.orders[ref] = sandboxOrder{reference: reference, amount: amount, currency: currency}
	s.mu.Unlock()
	return ref, nil
}

// Pay simulates a completed payment for gatewayOrderRef and returns the
// payment reference and signature the provider would send back.
func (s *Sandbox) Pay(gatewayOrderRef string) (paymentRef, signature string, err error) {
	s.mu.Lock()
	_, ok := s.orders[gatewayOrderRef]
	s.mu.Unlock()
	if !ok {
		return "", "", ErrUnknownOrder
	}
	paymentRef = "sbx_pay_" + uuid.NewString()
	return paymentRef, s.verifier.Sign(gatewayOrderRef, paymentRef), nil
}
