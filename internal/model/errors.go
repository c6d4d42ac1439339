package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSoldOut is returned when a tier cannot cover the requested quantity.
	ErrSoldOut = errors.New("sold out")

	// ErrInvalidQuantity is returned for quantities outside the per-order range.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrMissingBuyer is returned when no authenticated principal is supplied.
	ErrMissingBuyer = errors.New("buyer principal is required")

	// ErrTierNotFound is returned for an unknown (event, tier) pair.
	ErrTierNotFound = errors.New("ticket tier not found")

	ErrHoldNotFound  = errors.New("hold not found")
	ErrHoldExpired   = errors.New("hold expired")
	ErrHoldReleased  = errors.New("hold already released")
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicate is returned when a record with the same identity exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidTransition is returned when a conditional status update
	// finds the record outside the expected source states.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrVerificationFailed is a permanent rejection of a payment outcome.
	ErrVerificationFailed = errors.New("payment verification failed")

	ErrOrderExpired = errors.New("order expired")
	ErrOrderClosed  = errors.New("order is closed")
	ErrNotPaid      = errors.New("order is not paid")

	// ErrGatewayUnavailable is returned once gateway retries are exhausted.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// CapacityError reports a hold that does not fit under capacity.
type CapacityError struct {
	Key       TierKey
	Requested int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("tier %s: requested %d, remaining %d", e.Key, e.Requested, e.Remaining)
}

// Is makes a CapacityError match ErrSoldOut.
func (e *CapacityError) Is(target error) bool {
	return target == ErrSoldOut
}
