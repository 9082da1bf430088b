package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/leafsense-cart/internal/api"
)

// ValidateCoupon handles POST /coupons/validate. A coupon that cannot be
// used is a 200 with valid=false and the reason as message.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderAmount.IsNegative() {
		respondError(w, http.StatusBadRequest, "order_amount must not be negative")
		return
	}

	ev, err := h.coupons.Evaluate(r.Context(), req.Code, req.OrderAmount, customerID(r))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	h.validated.Add(r.Context(), 1, metric.WithAttributes(attribute.Bool("valid", ev.Valid)))
	respond(w, http.StatusOK, api.ValidateResponseFrom(ev, req.OrderAmount))
}

// AvailableCoupons handles GET /coupons/available. Without order_amount no
// minimum order reasons are reported.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	var amount decimal.NullDecimal
	if s := r.URL.Query().Get("order_amount"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || d.IsNegative() {
			respondError(w, http.StatusBadRequest, "order_amount must be a non-negative number")
			return
		}
		amount = decimal.NewNullDecimal(d)
	}

	offers, err := h.coupons.Available(r.Context(), amount, customerID(r))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(w, http.StatusOK, api.AvailableListFrom(offers))
}
