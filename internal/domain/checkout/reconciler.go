package checkout

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
)

// DefaultTimeout bounds a single order submission.
const DefaultTimeout = 10 * time.Second

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeout sets the submission timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(r *Reconciler) { r.lg = lg }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) { r.tracer = tp.Tracer("leafsense/checkout") }
}

// WithKeyGenerator overrides how idempotency keys are made.
func WithKeyGenerator(fn func() string) Option {
	return func(r *Reconciler) { r.newKey = fn }
}

// Reconciler drives one checkout through
// Idle → Reviewing → Submitting → Confirmed | Rejected.
type Reconciler struct {
	cart      Cart
	coupons   Coupons
	submitter Submitter
	validate  *validator.Validate
	timeout   time.Duration
	tracer    trace.Tracer
	newKey    func() string
	lg        *zap.Logger

	mu       sync.Mutex
	state    State
	reviewed *Review
	// key is reused for retries while the cart stays at keyVersion.
	key        string
	keyVersion uint64
}

// New creates a Reconciler in the Idle state.
func New(c Cart, coupons Coupons, s Submitter, opts ...Option) *Reconciler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	r := &Reconciler{
		cart:      c,
		coupons:   coupons,
		submitter: s,
		validate:  v,
		timeout:   DefaultTimeout,
		tracer:    tracenoop.NewTracerProvider().Tracer(""),
		newKey:    uuid.NewString,
		lg:        zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Review prices the cart for confirmation, revalidating the coupon when the
// amount changed since it was applied. A coupon the backend no longer honors
// is removed and reported in CouponDropped.
func (r *Reconciler) Review(ctx context.Context) (*Review, error) {
	r.mu.Lock()
	if r.state == StateSubmitting {
		r.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	r.mu.Unlock()

	rv, err := r.price(ctx)
	if reason, rejected := remote.Reason(err); rejected && rv != nil {
		rv.CouponDropped = reason
		err = nil
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateSubmitting {
		return nil, ErrSubmitInFlight
	}
	r.state = StateReviewing
	r.reviewed = rv
	return rv, nil
}

// price computes the review of the current cart. On a coupon rejection it
// returns the review without the coupon together with the rejection.
func (r *Reconciler) price(ctx context.Context) (*Review, error) {
	items := r.cart.Items()
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	lines := cart.Lines(items)
	subtotal := pricing.Subtotal(lines)

	applied := r.coupons.Current()
	var rejection error
	if applied != nil && r.coupons.NeedsRevalidation(subtotal) {
		var err error
		applied, err = r.coupons.Revalidate(ctx, subtotal)
		if err != nil {
			if _, rejected := remote.Reason(err); !rejected {
				return nil, errors.Wrap(err, "revalidate coupon")
			}
			applied, rejection = nil, err
		}
	}

	discount := decimal.Zero
	if applied != nil {
		discount = applied.Discount
	}
	return &Review{
		Items:    items,
		Snapshot: pricing.Calculate(lines, discount),
		Coupon:   applied,
	}, rejection
}

// Submit validates the contact, reprices the cart and places the order.
// Submitting a populated cart from Idle passes through Reviewing, so local
// failures leave the state Reviewing (Idle for an empty cart, Rejected when
// already rejected); backend failures move to Rejected. Cart and coupon are
// cleared only on Confirmed.
func (r *Reconciler) Submit(ctx context.Context, contact Contact, method PaymentMethod) (_ *Receipt, rerr error) {
	r.mu.Lock()
	if r.state == StateSubmitting {
		r.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	prev := r.state
	reviewed := r.reviewed
	r.state = StateSubmitting
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "checkout.Submit")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	// Until the request is sent, failures are local.
	sent := false
	defer func() {
		if rerr == nil {
			return
		}
		r.mu.Lock()
		if sent {
			r.state = StateRejected
		} else {
			r.state = prev
		}
		r.mu.Unlock()
	}()

	if len(r.cart.Items()) == 0 {
		return nil, ErrEmptyCart
	}
	// A populated cart submitted from Idle is reviewed by the pricing below.
	if prev == StateIdle {
		prev = StateReviewing
	}
	if err := r.checkContact(contact); err != nil {
		return nil, err
	}
	if method == "" {
		method = PaymentCOD
	}

	version := r.cart.Version()
	rv, err := r.price(ctx)
	if err != nil {
		return nil, err
	}
	if reviewed != nil && !reviewed.Snapshot.Total.Equal(rv.Snapshot.Total) {
		return nil, errors.Wrapf(ErrTotalMismatch, "reviewed %s, now %s",
			reviewed.Snapshot.Total.StringFixed(2), rv.Snapshot.Total.StringFixed(2))
	}

	p := &Payload{
		IdempotencyKey: r.keyFor(version),
		Contact:        contact,
		PaymentMethod:  method,
		Lines:          make([]Line, len(rv.Items)),
		Pricing:        rv.Snapshot,
	}
	for i, it := range rv.Items {
		p.Lines[i] = Line{ProductID: it.ID, Quantity: it.Quantity, Price: it.UnitPrice}
	}
	if rv.Coupon != nil {
		p.CouponCode = rv.Coupon.Code
	}
	if err := consistent(p); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("checkout.lines", len(p.Lines)),
		attribute.String("checkout.total", p.Pricing.Total.String()),
		attribute.String("checkout.coupon", p.CouponCode),
	)

	sent = true
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	receipt, err := r.submitter.PlaceOrder(callCtx, p)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !remote.Retryable(err) {
			err = errors.Wrapf(remote.ErrUnavailable, "order submission timed out after %s", r.timeout)
		}
		r.lg.Warn("Order submission failed",
			zap.String("idempotency_key", p.IdempotencyKey),
			zap.Bool("retryable", remote.Retryable(err)),
			zap.Error(err),
		)
		return nil, err
	}
	if receipt == nil {
		// The order may exist; a retry with the same key replays it.
		err := errors.Wrap(remote.ErrUnavailable, "order service returned no receipt")
		r.lg.Warn("Order submission failed",
			zap.String("idempotency_key", p.IdempotencyKey),
			zap.Error(err),
		)
		return nil, err
	}

	if r.cart.Version() != version {
		receipt.StaleCart = true
		r.lg.Info("Cart changed during submission, keeping it",
			zap.String("order_id", receipt.OrderID))
	} else {
		if err := r.cart.Clear(ctx); err != nil {
			r.lg.Warn("Clear cart after order", zap.Error(err))
		}
		if err := r.coupons.Remove(ctx); err != nil {
			r.lg.Warn("Remove coupon after order", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.state = StateConfirmed
	r.reviewed = nil
	r.key = ""
	r.mu.Unlock()

	span.SetAttributes(attribute.String("order.id", receipt.OrderID))
	return receipt, nil
}

// Reset returns a finished checkout to Idle.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateSubmitting {
		r.state = StateIdle
		r.reviewed = nil
	}
}

// IdempotencyKey returns the key the next submission of the current cart
// will carry, or empty if none was issued yet.
func (r *Reconciler) IdempotencyKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keyVersion != r.cart.Version() {
		return ""
	}
	return r.key
}

func (r *Reconciler) keyFor(version uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == "" || r.keyVersion != version {
		r.key = r.newKey()
		r.keyVersion = version
	}
	return r.key
}

func (r *Reconciler) checkContact(c Contact) error {
	err := r.validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate contact")
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fe.Field()
	}
	return &ValidationError{Fields: fields}
}

// consistent checks the payload totals against its own lines.
func consistent(p *Payload) error {
	lines := make([]pricing.Line, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = pricing.Line{UnitPrice: l.Price, Quantity: l.Quantity}
	}
	sum := pricing.Subtotal(lines)
	want := pricing.Total(sum, p.Pricing.Discount, p.Pricing.ShippingFee)
	if !sum.Equal(p.Pricing.Subtotal) || !want.Equal(p.Pricing.Total) {
		return errors.Wrapf(ErrTotalMismatch, "lines sum to %s, total %s", want.StringFixed(2), p.Pricing.Total.StringFixed(2))
	}
	return nil
}
