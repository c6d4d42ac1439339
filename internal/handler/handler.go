// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the booking service.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/campus-ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SandboxPayer produces signed payment outcomes for local development.
type SandboxPayer interface {
	Pay(gatewayOrderRef string) (paymentRef, signature string, err error)
}

// OrderHandler holds all HTTP handlers for the booking API.
type OrderHandler struct {
	svc     *service.BookingService
	log     *zap.Logger
	sandbox SandboxPayer
}

// NewOrderHandler constructs an OrderHandler. sandbox may be nil; when
// set, a route that simulates a completed payment is mounted.
func NewOrderHandler(svc *service.BookingService, log *zap.Logger, sandbox SandboxPayer) *OrderHandler {
	return &OrderHandler{svc: svc, log: log, sandbox: sandbox}
}

// Routes mounts the API on r. authn guards the buyer endpoints.
func (h *OrderHandler) Routes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Get("/health", HealthCheck)

	r.Route("/orders", func(r chi.Router) {
		r.Use(authn)
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/tickets", h.GetTickets)
	})

	r.Post("/payments/callback", h.PaymentCallback)
	r.Get("/events/{eventID}/tiers/{tierID}/availability", h.Availability)

	if h.sandbox != nil {
		r.Post("/sandbox/payments/{ref}", h.SandboxPay)
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respondErr writes the mapped status for a service error. Unmapped
// errors are logged and reported as internal errors.
func (h *OrderHandler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	m := mapError(err)
	if m.status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, m.status, m.code, m.message(err))
}

// ownedOrder loads the order and checks it belongs to the caller. Other
// buyers' orders are reported as not found.
func (h *OrderHandler) ownedOrder(w http.ResponseWriter, r *http.Request) (model.Order, bool) {
	order, err := h.svc.GetOrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return model.Order{}, false
	}
	if principal, _ := PrincipalFrom(r.Context()); principal != order.BuyerPrincipal {
		h.respondErr(w, r, model.ErrOrderNotFound)
		return model.Order{}, false
	}
	return order, true
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateOrder handles POST /orders
// Holds inventory for the caller and opens payment at the gateway.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req model.ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	principal, _ := PrincipalFrom(r.Context())
	order, err := h.svc.Reserve(r.Context(), principal, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetTickets handles GET /orders/{id}/tickets
// Returns the redeemable tickets of a paid order.
func (h *OrderHandler) GetTickets(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	tickets, err := h.svc.GetTickets(r.Context(), order.ID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// PaymentCallback handles POST /payments/callback
// Applies a signed payment outcome reported by the gateway.
func (h *OrderHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb model.PaymentCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if cb.GatewayOrderRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "gateway_order_ref is required")
		return
	}

	order, err := h.svc.ConfirmPayment(r.Context(), cb)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Availability handles GET /events/{eventID}/tiers/{tierID}/availability
func (h *OrderHandler) Availability(w http.ResponseWriter, r *http.Request) {
	key := model.TierKey{EventID: chi.URLParam(r, "eventID"), TierID: chi.URLParam(r, "tierID")}
	avail, err := h.svc.Availability(r.Context(), key)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// SandboxPay handles POST /sandbox/payments/{ref}
// Simulates the provider completing a payment and delivering its callback.
func (h *OrderHandler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	paymentRef, signature, err := h.sandbox.Pay(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
		return
	}
	order, err := h.svc.ConfirmPayment(r.Context(), model.PaymentCallback{
		GatewayOrderRef: ref,
		PaymentRef:      paymentRef,
		Signature:       signature,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
