package handler

import (
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
)

type errorMapping struct {
	target error
	status int
	code   string
	// msg replaces the error text when set.
	msg string
}

var errorMappings = []errorMapping{
	{model.ErrSoldOut, http.StatusConflict, "sold_out", ""},
	{model.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", ""},
	{model.ErrMissingBuyer, http.StatusUnauthorized, "unauthorized", ""},
	{model.ErrTierNotFound, http.StatusNotFound, "tier_not_found", ""},
	{model.ErrOrderNotFound, http.StatusNotFound, "order_not_found", "order not found"},
	{model.ErrVerificationFailed, http.StatusPaymentRequired, "verification_failed", "payment verification failed"},
	{model.ErrOrderExpired, http.StatusGone, "order_expired", "order expired"},
	{model.ErrOrderClosed, http.StatusConflict, "order_closed", "order is closed"},
	{model.ErrNotPaid, http.StatusConflict, "not_paid", "order is not paid"},
	{model.ErrGatewayUnavailable, http.StatusBadGateway, "payment_unavailable", "payment gateway unavailable"},
}

var internalError = errorMapping{status: http.StatusInternalServerError, code: "internal_error", msg: "internal error"}

func mapError(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m
		}
	}
	return internalError
}

func (m errorMapping) message(err error) string {
	if m.msg != "" {
		return m.msg
	}
	return err.Error()
}
