package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Provider creates payable orders at the external payment provider.
type Provider interface {
	CreatePayableOrder(ctx context.Context, amount int64, currency, reference string) (string, error)
}

// PermanentError marks a provider failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Options tunes the Adapter's retry policy.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Adapter wraps a Provider with per-call timeouts and bounded retries,
// and verifies inbound payment outcomes.
type Adapter struct {
	provider Provider
	verifier *Verifier
	opts     Options
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewAdapter constructs an Adapter.
func NewAdapter(provider Provider, verifier *Verifier, opts Options, log *zap.Logger) *Adapter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{provider: provider, verifier: verifier, opts: opts, log: log, sleep: sleepCtx}
}

// CreatePayableOrder asks the provider for a payable order covering the
// order's amount. Transient failures are retried with exponential
// backoff; exhaustion returns an error wrapping model.ErrGatewayUnavailable.
func (a *Adapter) CreatePayableOrder(ctx context.Context, order model.Order) (string, error) {
	ctx, span := otel.Tracer("booking/gateway").Start(ctx, "gateway.CreatePayableOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.amount", order.AmountDue))

	var lastErr error
	backoff := a.opts.Backoff
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		ref, err := a.provider.CreatePayableOrder(callCtx, order.AmountDue, order.Currency, order.ID)
		cancel()
		if err == nil {
			if ref == "" {
				return "", fmt.Errorf("create payable order: empty reference: %w", model.ErrGatewayUnavailable)
			}
			return ref, nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			break
		}
		a.log.Warn("payable order attempt failed",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.opts.MaxAttempts),
			zap.Error(err))

		if attempt == a.opts.MaxAttempts {
			break
		}
		if err := a.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}
	span.RecordError(lastErr)
	return "", fmt.Errorf("create payable order: %w: %w", model.ErrGatewayUnavailable, lastErr)
}

// VerifyOutcome checks the signature of a reported payment outcome.
func (a *Adapter) VerifyOutcome(_ context.Context, gatewayOrderRef, paymentRef, signature string) bool {
	return a.verifier.Verify(gatewayOrderRef, paymentRef, signature)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
