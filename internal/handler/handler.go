// Package handler implements the shop backend routes consumed by the cart
// engine.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/api"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/order"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Coupons evaluates coupon rules.
type Coupons interface {
	Evaluate(ctx context.Context, code string, amount decimal.Decimal, customerID string) (*coupon.Evaluation, error)
	Available(ctx context.Context, amount decimal.NullDecimal, customerID string) ([]coupon.Offer, error)
}

// Orders places and lists orders.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	ListOrders(ctx context.Context, customerID string) ([]order.Order, error)
	GetOrder(ctx context.Context, customerID, id string) (*order.Order, error)
}

var (
	_ Coupons = (*coupon.RuleValidator)(nil)
	_ Orders  = (*order.Service)(nil)
)

// Option configures a Handler.
type Option func(*Handler)

// WithMeterProvider sets the meter provider for the validation counter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Handler) { h.mp = mp }
}

// Handler serves the coupon and order routes.
type Handler struct {
	coupons   Coupons
	orders    Orders
	mp        metric.MeterProvider
	validated metric.Int64Counter
}

// NewHandler constructs a Handler.
func NewHandler(coupons Coupons, orders Orders, opts ...Option) (*Handler, error) {
	h := &Handler{
		coupons: coupons,
		orders:  orders,
		mp:      noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(h)
	}
	validated, err := h.mp.Meter("leafsense/handler").Int64Counter("leafsense.coupons.validated",
		metric.WithDescription("Coupon validations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validated counter")
	}
	h.validated = validated
	return h, nil
}

// Routes registers the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post(api.PathValidateCoupon, h.ValidateCoupon)
	r.Get(api.PathAvailableCoupons, h.AvailableCoupons)
	r.Post(api.PathOrders, h.PlaceOrder)
	r.Get(api.PathOrders, h.ListOrders)
	r.Get(api.PathOrders+"/{id}", h.GetOrder)
}

func customerID(r *http.Request) string {
	return r.Header.Get(api.HeaderCustomerID)
}

func decode(r *http.Request, v api.Decoder) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	return api.Unmarshal(data, v)
}

func respond(w http.ResponseWriter, status int, v api.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(api.Marshal(v))
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, &api.Error{Code: status, Message: msg})
}

// fail maps err to a status and writes it. Unknown errors are logged and
// reported as 500 without details.
func fail(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		qtyErr    *order.InvalidQuantityError
		priceErr  *order.InvalidPriceError
		couponErr *order.CouponRejectedError
		reqErr    *order.RequestError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.As(err, &reqErr):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrCustomerRequired):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &couponErr):
		respondError(w, http.StatusUnprocessableEntity, couponErr.Reason)
	case errors.As(err, &qtyErr), errors.As(err, &priceErr), errors.Is(err, order.ErrTotalMismatch):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
