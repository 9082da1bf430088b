// Package features runs the cart acceptance scenarios against the engine
// wired to an in-process backend.
package features

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cucumber/godog"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/client"
	"github.com/xenking/leafsense-cart/internal/domain/cart"
	"github.com/xenking/leafsense-cart/internal/domain/checkout"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/order"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/handler"
	"github.com/xenking/leafsense-cart/internal/storage/memory"
)

type shopper struct {
	shop    *memory.Shop
	srv     *httptest.Server
	hits    atomic.Int64
	cart    *cart.Store
	coupons *coupon.Selection
	co      *checkout.Reconciler

	applyErr    error
	checkoutErr error
	review      *checkout.Review
	receipt     *checkout.Receipt
}

func (s *shopper) start(ctx context.Context) error {
	s.shop = memory.NewShop()
	validator := coupon.NewRuleValidator(s.shop)
	svc := order.NewService(memory.NewOrders(s.shop), validator, order.WithGuard(memory.NewGuard()))
	h, err := handler.NewHandler(validator, svc)
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	h.Routes(r)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.hits.Add(1)
		r.ServeHTTP(w, req)
	}))

	c, err := client.New(s.srv.URL, client.WithCustomer("42"))
	if err != nil {
		return err
	}
	slots := memory.NewStore()
	if s.coupons, err = coupon.OpenSelection(ctx, slots, c); err != nil {
		return err
	}
	if s.cart, err = cart.Open(ctx, slots, cart.WithLinked(s.coupons)); err != nil {
		return err
	}
	s.co = checkout.New(s.cart, s.coupons, c)
	return nil
}

func (s *shopper) stop() {
	if s.srv != nil {
		s.srv.Close()
	}
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *shopper) snapshot() pricing.Snapshot {
	if s.review != nil {
		return s.review.Snapshot
	}
	return pricing.Calculate(cart.Lines(s.cart.Items()), s.coupons.Discount())
}

func (s *shopper) anEmptyCart(ctx context.Context) error {
	return s.cart.Clear(ctx)
}

func (s *shopper) cartHolds(ctx context.Context, id, amount string, qty int) error {
	return s.cart.AddItem(ctx, cart.LineItem{ID: id, Name: id, UnitPrice: money(amount)}, qty)
}

func (s *shopper) iAdd(ctx context.Context, id, amount string) error {
	return s.cart.Add(ctx, cart.LineItem{ID: id, Name: id, UnitPrice: money(amount)})
}

func (s *shopper) iDecrementAndConfirm(ctx context.Context, id string) error {
	return s.cart.Decrement(ctx, id, func(cart.LineItem) bool { return true })
}

func (s *shopper) percentageCoupon(code, value string) error {
	s.shop.Put(coupon.Rule{
		Code: code, Kind: pricing.KindPercentage, Value: money(value),
		Status: coupon.StatusActive, Active: true,
	})
	return nil
}

func (s *shopper) cappedCoupon(code, value, limit string) error {
	s.shop.Put(coupon.Rule{
		Code: code, Kind: pricing.KindPercentage, Value: money(value),
		MaxDiscount: decimal.NewNullDecimal(money(limit)),
		Status:      coupon.StatusActive, Active: true,
	})
	return nil
}

func (s *shopper) fixedCoupon(code, value string) error {
	s.shop.Put(coupon.Rule{
		Code: code, Kind: pricing.KindFixed, Value: money(value),
		Status: coupon.StatusActive, Active: true,
	})
	return nil
}

func (s *shopper) iApplyCoupon(ctx context.Context, code string) error {
	subtotal := pricing.Subtotal(cart.Lines(s.cart.Items()))
	_, s.applyErr = s.coupons.Apply(ctx, code, subtotal)
	return nil
}

func (s *shopper) applyingFails(msg string) error {
	if s.applyErr == nil {
		return errors.New("coupon was applied")
	}
	if !strings.Contains(s.applyErr.Error(), msg) {
		return errors.Errorf("apply failed with %q, want %q", s.applyErr, msg)
	}
	return nil
}

func (s *shopper) iReview(ctx context.Context) error {
	rv, err := s.co.Review(ctx)
	if err != nil {
		return err
	}
	s.review = rv
	return nil
}

func (s *shopper) iSubmit(ctx context.Context) error {
	s.receipt, s.checkoutErr = s.co.Submit(ctx, checkout.Contact{
		FullName: "Tran Thi Lan",
		Email:    "lan@example.com",
		Phone:    "0900000000",
		Address:  "12 Nguyen Hue, HCMC",
	}, checkout.PaymentCOD)
	return nil
}

func (s *shopper) checkoutFails(msg string) error {
	if s.checkoutErr == nil {
		return errors.New("checkout succeeded")
	}
	if !strings.Contains(s.checkoutErr.Error(), msg) {
		return errors.Errorf("checkout failed with %q, want %q", s.checkoutErr, msg)
	}
	return nil
}

func (s *shopper) noRequests() error {
	if n := s.hits.Load(); n != 0 {
		return errors.Errorf("backend received %d requests", n)
	}
	return nil
}

func (s *shopper) orderConfirmed(total string) error {
	if s.checkoutErr != nil {
		return s.checkoutErr
	}
	if s.co.State() != checkout.StateConfirmed {
		return errors.Errorf("checkout is %s", s.co.State())
	}
	if !s.receipt.TotalAmount.Equal(money(total)) {
		return errors.Errorf("order total %s, want %s", s.receipt.TotalAmount, total)
	}
	return nil
}

func (s *shopper) noCoupon() error {
	if c := s.coupons.Current(); c != nil {
		return errors.Errorf("coupon %s still applied", c.Code)
	}
	return nil
}

func amountIs(name string, get func(pricing.Snapshot) decimal.Decimal, s *shopper) func(string) error {
	return func(want string) error {
		if got := get(s.snapshot()); !got.Equal(money(want)) {
			return errors.Errorf("%s is %s, want %s", name, got, want)
		}
		return nil
	}
}

func (s *shopper) cartHasLines(n int) error {
	if got := s.cart.Len(); got != n {
		return errors.Errorf("cart has %d line items, want %d", got, n)
	}
	return nil
}

func (s *shopper) lineIs(pos int, id string, qty int) error {
	items := s.cart.Items()
	if pos < 1 || pos > len(items) {
		return errors.Errorf("no line %d in %d items", pos, len(items))
	}
	it := items[pos-1]
	if it.ID != id || it.Quantity != qty {
		return errors.Errorf("line %d is %s x%d, want %s x%d", pos, it.ID, it.Quantity, id, qty)
	}
	return nil
}

const price = `(\d+(?:\.\d+)?)`

// InitializeScenario is called once per scenario, so every scenario gets
// its own backend and cart.
func InitializeScenario(sc *godog.ScenarioContext) {
	s := &shopper{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, s.start(ctx)
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		s.stop()
		return ctx, err
	})

	sc.Given(`^an empty cart$`, s.anEmptyCart)
	sc.Given(`^the cart holds "([^"]*)" priced `+price+` with quantity (\d+)$`, s.cartHolds)
	sc.Given(`^a percentage coupon "([^"]*)" worth `+price+`$`, s.percentageCoupon)
	sc.Given(`^a percentage coupon "([^"]*)" worth `+price+` capped at `+price+`$`, s.cappedCoupon)
	sc.Given(`^a fixed coupon "([^"]*)" worth `+price+`$`, s.fixedCoupon)

	sc.When(`^I add "([^"]*)" priced `+price+`$`, s.iAdd)
	sc.When(`^I add "([^"]*)" priced `+price+` with quantity (\d+)$`, s.cartHolds)
	sc.When(`^I decrement "([^"]*)" and confirm$`, s.iDecrementAndConfirm)
	sc.When(`^I apply coupon "([^"]*)"$`, s.iApplyCoupon)
	sc.When(`^I review the order$`, s.iReview)
	sc.When(`^I submit the order$`, s.iSubmit)

	sc.Then(`^the subtotal is `+price+`$`, amountIs("subtotal", func(p pricing.Snapshot) decimal.Decimal { return p.Subtotal }, s))
	sc.Then(`^the discount is `+price+`$`, amountIs("discount", func(p pricing.Snapshot) decimal.Decimal { return p.Discount }, s))
	sc.Then(`^the total is `+price+`$`, amountIs("total", func(p pricing.Snapshot) decimal.Decimal { return p.Total }, s))
	sc.Then(`^applying fails with "([^"]*)"$`, s.applyingFails)
	sc.Then(`^checkout fails with "([^"]*)"$`, s.checkoutFails)
	sc.Then(`^the backend received no requests$`, s.noRequests)
	sc.Then(`^the order is confirmed with total `+price+`$`, s.orderConfirmed)
	sc.Then(`^no coupon is applied$`, s.noCoupon)
	sc.Then(`^the cart has (\d+) line items?$`, s.cartHasLines)
	sc.Then(`^line (\d+) is "([^"]*)" with quantity (\d+)$`, s.lineIs)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"."},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
