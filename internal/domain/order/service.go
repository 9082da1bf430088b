package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

// Sentinel errors for order placement.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrNotFound         = errors.New("order not found")
	ErrTotalMismatch    = errors.New("total amount does not match")
	ErrInFlight         = errors.New("order with this idempotency key is being placed")
	ErrCustomerRequired = errors.New("customer id required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidPriceError indicates a line item has a negative price.
type InvalidPriceError struct {
	ProductID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("price must not be negative for product %s", e.ProductID)
}

// CouponRejectedError carries the reason a coupon cannot be redeemed.
type CouponRejectedError struct {
	Code   string
	Reason string
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// RequestError lists request fields that failed validation.
type RequestError struct {
	Fields []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid fields: %v", e.Fields)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID     string
	IdempotencyKey string
	Items          []Item        `validate:"dive"`
	CouponCode     string
	PaymentMethod  PaymentMethod `validate:"required,oneof=COD MoMo"`
	Shipping       Shipping
	Email          string `validate:"omitempty,email"`
	Note           string
	// TotalAmount is the total the client computed. When set it must match
	// the server figure.
	TotalAmount decimal.NullDecimal `validate:"-"`
}

// PlaceOrderResult holds the output of a placed order.
type PlaceOrderResult struct {
	Order *Order
	// Replayed is set when the idempotency key matched an existing order.
	Replayed bool
}

// Service encapsulates order placement business logic.
type Service struct {
	orders   Repository
	coupons  CouponEvaluator
	guard    Guard
	validate *validator.Validate
	tracer   trace.Tracer
	placed   metric.Int64Counter
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGuard enables idempotency key reservation.
func WithGuard(g Guard) Option {
	return func(s *Service) { s.guard = g }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("leafsense/order") }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		c, err := mp.Meter("leafsense/order").Int64Counter("leafsense.orders.placed",
			metric.WithDescription("Orders placed"),
		)
		if err == nil {
			s.placed = c
		}
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(orders Repository, coupons CouponEvaluator, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		coupons:  coupons,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		now:      time.Now,
	}
	s.placed, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter("")
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder validates the request, prices it, redeems the coupon and
// persists the order. A repeated idempotency key returns the order placed
// with it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Place", trace.WithAttributes(
		attribute.Int("order.items", len(req.Items)),
		attribute.String("order.coupon", req.CouponCode),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := s.check(ctx, &req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if o, err := s.replay(ctx, req); err != nil || o != nil {
			if err != nil {
				return nil, err
			}
			return &PlaceOrderResult{Order: o, Replayed: true}, nil
		}
		if s.guard != nil {
			key := guardKey(req)
			ok, err := s.guard.Reserve(ctx, key)
			if err != nil {
				return nil, errors.Wrap(err, "reserve idempotency key")
			}
			if !ok {
				return nil, ErrInFlight
			}
			defer func() { _ = s.guard.Release(context.WithoutCancel(ctx), key) }()

			// The holder may have finished between the lookup and the reservation.
			if o, err := s.replay(ctx, req); err != nil || o != nil {
				if err != nil {
					return nil, err
				}
				return &PlaceOrderResult{Order: o, Replayed: true}, nil
			}
		}
	}

	lines := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
	}
	subtotal := pricing.Subtotal(lines)

	o := &Order{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		Items:          req.Items,
		OriginalAmount: subtotal.Round(2),
		DiscountAmount: decimal.Zero,
		Status:         StatusPending,
		PaymentMethod:  req.PaymentMethod,
		Shipping:       req.Shipping,
		Email:          req.Email,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	var usage *coupon.Usage
	if code := coupon.Canonical(req.CouponCode); code != "" {
		ev, err := s.coupons.Evaluate(ctx, code, subtotal, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "evaluate coupon")
		}
		if !ev.Valid {
			return nil, &CouponRejectedError{Code: code, Reason: ev.Message}
		}
		o.CouponID = ev.Rule.ID
		o.CouponCode = ev.Rule.Code
		o.DiscountAmount = ev.Quote.Discount
		usage = &coupon.Usage{
			CouponID:       ev.Rule.ID,
			CustomerID:     req.CustomerID,
			OrderID:        o.ID,
			DiscountAmount: ev.Quote.Discount,
			OrderAmount:    o.OriginalAmount,
			UsedAt:         o.CreatedAt,
		}
	}
	o.TotalAmount = pricing.Total(subtotal, o.DiscountAmount, pricing.ShippingFee)

	if req.TotalAmount.Valid && !req.TotalAmount.Decimal.Round(2).Equal(o.TotalAmount) {
		return nil, errors.Wrapf(ErrTotalMismatch, "client %s, server %s",
			req.TotalAmount.Decimal.StringFixed(2), o.TotalAmount.StringFixed(2))
	}

	if err := s.orders.Create(ctx, o, usage); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(o.PaymentMethod)),
		attribute.Bool("coupon", usage != nil),
	))
	span.SetAttributes(attribute.String("order.id", o.ID))

	return &PlaceOrderResult{Order: o}, nil
}

func (s *Service) check(ctx context.Context, req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID}
		}
		if it.Price.IsNegative() {
			return &InvalidPriceError{ProductID: it.ProductID}
		}
	}
	if req.CustomerID == "" && coupon.Canonical(req.CouponCode) != "" {
		return ErrCustomerRequired
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentCOD
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Namespace()
			}
			return &RequestError{Fields: fields}
		}
		return errors.Wrap(err, "validate request")
	}
	return nil
}

// guardKey scopes the idempotency key to the customer, like the stored key.
func guardKey(req PlaceOrderRequest) string {
	return req.CustomerID + ":" + req.IdempotencyKey
}

func (s *Service) replay(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	o, err := s.orders.FindByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
	switch {
	case err == nil:
		if o.CustomerID != req.CustomerID {
			return nil, ErrInFlight
		}
		return o, nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	default:
		return nil, errors.Wrap(err, "find order by idempotency key")
	}
}

// ListOrders returns the customer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, customerID string) ([]Order, error) {
	if customerID == "" {
		return nil, ErrCustomerRequired
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// GetOrder returns one of the customer's orders.
func (s *Service) GetOrder(ctx context.Context, customerID, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, ErrNotFound
	}
	return o, nil
}
