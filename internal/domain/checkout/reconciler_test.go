package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/kv"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
	"github.com/xenking/leafsense-cart/internal/domain/session"
	"github.com/xenking/leafsense-cart/internal/storage/memory"
)

// --- Fakes ---

// validatorFunc adapts a function to coupon.Validator.
type validatorFunc func(ctx context.Context, code string, amount decimal.Decimal) (*coupon.Applied, error)

func (f validatorFunc) Validate(ctx context.Context, code string, amount decimal.Decimal) (*coupon.Applied, error) {
	return f(ctx, code, amount)
}

// percentOff validates any code as a percentage discount computed the way
// the backend does.
func percentOff(pct int64) validatorFunc {
	return func(_ context.Context, code string, amount decimal.Decimal) (*coupon.Applied, error) {
		terms := &pricing.Terms{Kind: pricing.KindPercentage, Value: decimal.NewFromInt(pct)}
		d := pricing.DiscountAmount(terms, amount)
		return &coupon.Applied{Code: code, Kind: terms.Kind, Value: terms.Value, Discount: d}, nil
	}
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []*Payload
	err      error
	hook     func(ctx context.Context) error
	// noReceipt answers (nil, nil).
	noReceipt bool
}

func (f *fakeSubmitter) PlaceOrder(ctx context.Context, p *Payload) (*Receipt, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	hook, err := f.hook, f.err
	f.mu.Unlock()

	if hook != nil {
		if hErr := hook(ctx); hErr != nil {
			return nil, hErr
		}
	}
	if err != nil {
		return nil, err
	}
	if f.noReceipt {
		return nil, nil
	}
	return &Receipt{OrderID: "order-1", Status: "pending", TotalAmount: p.Pricing.Total}, nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() *Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

type fixture struct {
	slots     *memory.Store
	cart      *cart.Store
	coupons   *coupon.Selection
	submitter *fakeSubmitter
	r         *Reconciler
}

func newFixture(t *testing.T, v coupon.Validator, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	slots := memory.NewStore()
	if v == nil {
		v = percentOff(10)
	}
	sel, err := coupon.OpenSelection(ctx, slots, v)
	require.NoError(t, err)
	c, err := cart.Open(ctx, slots, cart.WithLinked(sel))
	require.NoError(t, err)

	keys := 0
	sub := &fakeSubmitter{}
	opts = append([]Option{WithKeyGenerator(func() string {
		keys++
		return "key-" + string(rune('0'+keys))
	})}, opts...)
	return &fixture{
		slots:     slots,
		cart:      c,
		coupons:   sel,
		submitter: sub,
		r:         New(c, sel, sub, opts...),
	}
}

func (f *fixture) fill(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.cart.AddItem(ctx, cart.LineItem{ID: "p1", Name: "Basil", UnitPrice: decimal.NewFromInt(15)}, 2))
	require.NoError(t, f.cart.AddItem(ctx, cart.LineItem{ID: "p2", Name: "Mint", UnitPrice: decimal.NewFromInt(30)}, 1))
}

func contact() Contact {
	return Contact{
		FullName: "Nguyen Van A",
		Email:    "a@example.com",
		Phone:    "0900000000",
		Address:  "1 Le Loi, HCMC",
	}
}

// --- Tests ---

func TestSubmit_EmptyCartMakesNoCall(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.r.Submit(context.Background(), contact(), PaymentCOD)
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.submitter.calls())
	assert.Equal(t, StateIdle, f.r.State())

	_, err = f.r.Review(context.Background())
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.r.Submit(context.Background(), Contact{}, PaymentCOD)
	require.ErrorIs(t, err, ErrEmptyCart, "empty cart is reported before contact fields")
	assert.Zero(t, f.submitter.calls())
}

func TestSubmit_ConfirmedClearsCartAndCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)
	_, err := f.coupons.Apply(ctx, "LEAFSENSE10", decimal.NewFromInt(60))
	require.NoError(t, err)

	rv, err := f.r.Review(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReviewing, f.r.State())
	assert.Equal(t, "54", rv.Snapshot.Total.String())

	receipt, err := f.r.Submit(ctx, contact(), "")
	require.NoError(t, err)
	assert.Equal(t, "order-1", receipt.OrderID)
	assert.False(t, receipt.StaleCart)
	assert.Equal(t, StateConfirmed, f.r.State())

	p := f.submitter.last()
	assert.Equal(t, PaymentCOD, p.PaymentMethod)
	assert.Equal(t, "LEAFSENSE10", p.CouponCode)
	assert.Equal(t, "60", p.Pricing.Subtotal.String())
	assert.Equal(t, "6", p.Pricing.Discount.String())
	assert.Equal(t, "54", p.Pricing.Total.String())
	require.Len(t, p.Lines, 2)
	assert.Equal(t, Line{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(15)}, p.Lines[0])
	assert.Equal(t, "key-1", p.IdempotencyKey)

	assert.Zero(t, f.cart.Len())
	assert.Nil(t, f.coupons.Current())
	_, err = f.slots.Get(ctx, kv.KeyCart)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = f.slots.Get(ctx, kv.KeyCoupon)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSubmit_RejectedPreservesStateAndReusesKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)
	_, err := f.coupons.Apply(ctx, "LEAFSENSE10", decimal.NewFromInt(60))
	require.NoError(t, err)

	f.submitter.err = &remote.RejectedError{Status: 400, Reason: "Coupon usage limit has been reached"}
	_, err = f.r.Submit(ctx, contact(), PaymentMoMo)
	reason, ok := remote.Reason(err)
	require.True(t, ok)
	assert.Equal(t, "Coupon usage limit has been reached", reason)
	assert.Equal(t, StateRejected, f.r.State())
	assert.Equal(t, 2, f.cart.Len())
	require.NotNil(t, f.coupons.Current())
	assert.Equal(t, "key-1", f.r.IdempotencyKey())

	f.submitter.err = nil
	_, err = f.r.Submit(ctx, contact(), PaymentMoMo)
	require.NoError(t, err)
	assert.Equal(t, "key-1", f.submitter.last().IdempotencyKey)
	assert.Equal(t, PaymentMoMo, f.submitter.last().PaymentMethod)
}

func TestSubmit_KeyRotatesWhenCartChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)

	f.submitter.err = errors.Wrap(remote.ErrUnavailable, "connection refused")
	_, err := f.r.Submit(ctx, contact(), PaymentCOD)
	require.True(t, remote.Retryable(err))
	assert.Equal(t, "key-1", f.submitter.last().IdempotencyKey)

	require.NoError(t, f.cart.Increment(ctx, "p2"))
	assert.Empty(t, f.r.IdempotencyKey())

	f.submitter.err = nil
	_, err = f.r.Submit(ctx, contact(), PaymentCOD)
	require.NoError(t, err)
	assert.Equal(t, "key-2", f.submitter.last().IdempotencyKey)
}

func TestSubmit_DuplicateWhileInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.submitter.hook = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.r.Submit(ctx, contact(), PaymentCOD)
		done <- err
	}()
	<-entered

	assert.Equal(t, StateSubmitting, f.r.State())
	_, err := f.r.Submit(ctx, contact(), PaymentCOD)
	require.ErrorIs(t, err, ErrSubmitInFlight)
	_, err = f.r.Review(ctx)
	require.ErrorIs(t, err, ErrSubmitInFlight)
	f.r.Reset()
	assert.Equal(t, StateSubmitting, f.r.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.submitter.calls())
	assert.Equal(t, StateConfirmed, f.r.State())
}

func TestSubmit_FromIdlePassesThroughReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)
	require.Equal(t, StateIdle, f.r.State())

	c := contact()
	c.Phone = ""
	_, err := f.r.Submit(ctx, c, PaymentCOD)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StateReviewing, f.r.State())

	receipt, err := f.r.Submit(ctx, contact(), PaymentCOD)
	require.NoError(t, err)
	assert.Equal(t, "60", receipt.TotalAmount.String())
	assert.Equal(t, StateConfirmed, f.r.State())
}

func TestSubmit_MissingReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)
	f.submitter.noReceipt = true

	var receipt *Receipt
	var err error
	require.NotPanics(t, func() { receipt, err = f.r.Submit(ctx, contact(), PaymentCOD) })
	assert.Nil(t, receipt)
	require.ErrorIs(t, err, remote.ErrUnavailable)
	assert.True(t, remote.Retryable(err))
	assert.Equal(t, StateRejected, f.r.State())
	assert.Equal(t, 2, f.cart.Len())
	assert.Equal(t, "key-1", f.r.IdempotencyKey())

	f.submitter.noReceipt = false
	_, err = f.r.Submit(ctx, contact(), PaymentCOD)
	require.NoError(t, err)
	assert.Equal(t, "key-1", f.submitter.last().IdempotencyKey)
}

func TestSubmit_ContactValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Contact)
		fields []string
	}{
		{
			name:   "missing name and phone",
			mutate: func(c *Contact) { c.FullName, c.Phone = "", "" },
			fields: []string{"full_name", "phone"},
		},
		{
			name:   "malformed email",
			mutate: func(c *Contact) { c.Email = "not-an-email" },
			fields: []string{"email"},
		},
		{
			name:   "missing address",
			mutate: func(c *Contact) { c.Address = "" },
			fields: []string{"address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.fill(t)
			c := contact()
			tt.mutate(&c)

			_, err := f.r.Submit(context.Background(), c, PaymentCOD)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields)
			assert.Zero(t, f.submitter.calls())
			assert.Equal(t, StateReviewing, f.r.State())
			assert.Equal(t, 2, f.cart.Len())
		})
	}
}

func TestSubmit_NoteIsOptional(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t)
	c := contact()
	c.Note = ""

	_, err := f.r.Submit(context.Background(), c, PaymentCOD)
	require.NoError(t, err)
}

func TestSubmit_TimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, nil, WithTimeout(20*time.Millisecond))
	f.fill(t)
	f.submitter.hook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.r.Submit(context.Background(), contact(), PaymentCOD)
	require.Error(t, err)
	assert.True(t, remote.Retryable(err))
	assert.Equal(t, StateRejected, f.r.State())
	assert.Equal(t, 2, f.cart.Len())
}

func TestSubmit_StaleReplyKeepsNewerCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)
	f.submitter.hook = func(context.Context) error {
		return f.cart.Add(ctx, cart.LineItem{ID: "p3", Name: "Aloe", UnitPrice: decimal.NewFromInt(5)})
	}

	receipt, err := f.r.Submit(ctx, contact(), PaymentCOD)
	require.NoError(t, err)
	assert.True(t, receipt.StaleCart)
	assert.Equal(t, StateConfirmed, f.r.State())
	assert.Equal(t, 3, f.cart.Len())
}

func TestSubmit_TotalChangedSinceReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.fill(t)

	_, err := f.r.Review(ctx)
	require.NoError(t, err)
	require.NoError(t, f.cart.Increment(ctx, "p1"))

	_, err = f.r.Submit(ctx, contact(), PaymentCOD)
	require.ErrorIs(t, err, ErrTotalMismatch)
	assert.Zero(t, f.submitter.calls())
	assert.Equal(t, StateReviewing, f.r.State())

	_, err = f.r.Review(ctx)
	require.NoError(t, err)
	_, err = f.r.Submit(ctx, contact(), PaymentCOD)
	require.NoError(t, err)
}

func TestCouponRevalidation(t *testing.T) {
	ctx := context.Background()
	honored := true
	var validations int
	v := validatorFunc(func(ctx context.Context, code string, amount decimal.Decimal) (*coupon.Applied, error) {
		validations++
		if !honored {
			return nil, &remote.RejectedError{Status: 400, Reason: "Minimum order amount is 100.00"}
		}
		return percentOff(50)(ctx, code, amount)
	})

	t.Run("changed amount is revalidated at review", func(t *testing.T) {
		honored, validations = true, 0
		f := newFixture(t, v)
		f.fill(t)
		_, err := f.coupons.Apply(ctx, "HALF", decimal.NewFromInt(60))
		require.NoError(t, err)

		require.NoError(t, f.cart.Increment(ctx, "p2"))
		rv, err := f.r.Review(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, validations)
		assert.Equal(t, "45", rv.Snapshot.Discount.String())
		assert.Equal(t, "45", rv.Snapshot.Total.String())
	})

	t.Run("rejection drops the coupon at review", func(t *testing.T) {
		honored, validations = true, 0
		f := newFixture(t, v)
		f.fill(t)
		_, err := f.coupons.Apply(ctx, "HALF", decimal.NewFromInt(60))
		require.NoError(t, err)

		honored = false
		require.NoError(t, f.cart.RemoveItem(ctx, "p2"))
		rv, err := f.r.Review(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Minimum order amount is 100.00", rv.CouponDropped)
		assert.Nil(t, rv.Coupon)
		assert.Equal(t, "30", rv.Snapshot.Total.String())
		assert.Nil(t, f.coupons.Current())
	})

	t.Run("rejection blocks submit", func(t *testing.T) {
		honored, validations = true, 0
		f := newFixture(t, v)
		f.fill(t)
		_, err := f.coupons.Apply(ctx, "HALF", decimal.NewFromInt(60))
		require.NoError(t, err)

		honored = false
		require.NoError(t, f.cart.RemoveItem(ctx, "p2"))
		_, err = f.r.Submit(ctx, contact(), PaymentCOD)
		_, rejected := remote.Reason(err)
		assert.True(t, rejected)
		assert.Zero(t, f.submitter.calls())
		assert.Equal(t, 1, f.cart.Len())
	})
}

func TestPrefill(t *testing.T) {
	c := Prefill(session.Identity{CustomerID: "1", FullName: "A", Email: "a@b.c", Phone: "1", Address: "x"})
	assert.Equal(t, Contact{FullName: "A", Email: "a@b.c", Phone: "1", Address: "x"}, c)
}

func TestReset(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t)
	_, err := f.r.Submit(context.Background(), contact(), PaymentCOD)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, f.r.State())

	f.r.Reset()
	assert.Equal(t, StateIdle, f.r.State())
	assert.Equal(t, "idle", f.r.State().String())
}
