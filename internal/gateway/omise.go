package gateway

import (
	"context"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Omise creates payable sources through the Omise API. The source id is
// used as the gateway order reference.
type Omise struct {
	client     *omise.Client
	sourceType string
}

// NewOmise builds an Omise provider from API keys.
func NewOmise(publicKey, secretKey, sourceType string) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)
	return &Omise{client: c, sourceType: sourceType}, nil
}

func (o *Omise) CreatePayableOrder(ctx context.Context, amount int64, currency, reference string) (string, error) {
	if amount <= 0 {
		return "", &PermanentError{Err: fmt.Errorf("order %s: non-positive amount %d", reference, amount)}
	}

	type result struct {
		src *omise.Source
		err error
	}
	done := make(chan result, 1)
	go func() {
		src := &omise.Source{}
		err := o.client.Do(src, &operations.CreateSource{
			Type:     o.sourceType,
			Amount:   amount,
			Currency: currency,
		})
		done <- result{src: src, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("omise create source: %w", r.err)
		}
		return r.src.ID, nil
	}
}
