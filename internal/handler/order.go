package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/leafsense-cart/internal/api"
)

// PlaceOrder handles POST /orders. A repeated Idempotency-Key returns the
// order placed first with 200 and the replay header set.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body api.OrderCreate
	if err := decode(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), body.Request(customerID(r), r.Header.Get(api.HeaderIdempotencyKey)))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set(api.HeaderIdempotentReplayed, "true")
		status = http.StatusOK
	}
	respond(w, status, api.OrderFrom(res.Order))
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), customerID(r))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(w, http.StatusOK, api.OrderListFrom(orders))
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), customerID(r), chi.URLParam(r, "id"))
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	respond(w, http.StatusOK, api.OrderFrom(o))
}
