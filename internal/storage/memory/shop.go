package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/order"
)

var (
	_ coupon.Repository = (*Shop)(nil)
	_ order.Repository  = (*Orders)(nil)
	_ order.Guard       = (*Guard)(nil)
)

// Shop holds coupon rules and their usage.
type Shop struct {
	mu     sync.RWMutex
	rules  map[int64]*coupon.Rule
	usages []coupon.Usage
}

// NewShop returns a Shop with rules. Rules without an id get one.
func NewShop(rules ...coupon.Rule) *Shop {
	s := &Shop{rules: map[int64]*coupon.Rule{}}
	for _, r := range rules {
		s.Put(r)
	}
	return s
}

// Put adds or replaces a rule.
func (s *Shop) Put(r coupon.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = int64(len(s.rules) + 1)
	}
	s.rules[r.ID] = &r
}

// FindByCode implements coupon.Repository.
func (s *Shop) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.Active && strings.EqualFold(r.Code, code) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, coupon.ErrNotFound
}

// ListActive implements coupon.Repository.
func (s *Shop) ListActive(_ context.Context, now time.Time) ([]coupon.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []coupon.Rule
	for _, r := range s.rules {
		if !r.Active || r.Status != coupon.StatusActive {
			continue
		}
		if (r.StartsAt != nil && now.Before(*r.StartsAt)) || (r.EndsAt != nil && now.After(*r.EndsAt)) {
			continue
		}
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b coupon.Rule) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// CountUsage implements coupon.Repository.
func (s *Shop) CountUsage(_ context.Context, couponID int64, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.usages {
		if u.CouponID == couponID && u.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// redeem records u unless it would exceed the coupon's limits.
func (s *Shop) redeem(code string, u coupon.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[u.CouponID]
	if !ok {
		return &order.CouponRejectedError{Code: code, Reason: coupon.ReasonNotFound}
	}
	used := 0
	for _, prev := range s.usages {
		if prev.CouponID == u.CouponID && prev.CustomerID == u.CustomerID {
			used++
		}
	}
	if reason := r.RedeemReason(used); reason != "" {
		return &order.CouponRejectedError{Code: code, Reason: reason}
	}
	s.usages = append(s.usages, u)
	r.UsageCount++
	return nil
}

// Orders stores orders and redeems coupons on the Shop.
type Orders struct {
	shop   *Shop
	mu     sync.RWMutex
	orders []order.Order
}

// NewOrders returns an empty order store backed by shop.
func NewOrders(shop *Shop) *Orders {
	return &Orders{shop: shop}
}

// Create implements order.Repository.
func (o *Orders) Create(_ context.Context, ord *order.Order, usage *coupon.Usage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ord.IdempotencyKey != "" {
		for i := range o.orders {
			if o.orders[i].CustomerID == ord.CustomerID && o.orders[i].IdempotencyKey == ord.IdempotencyKey {
				return order.ErrInFlight
			}
		}
	}
	if usage != nil && o.shop != nil {
		if err := o.shop.redeem(ord.CouponCode, *usage); err != nil {
			return err
		}
	}
	cp := *ord
	cp.Items = slices.Clone(ord.Items)
	o.orders = append(o.orders, cp)
	return nil
}

func (o *Orders) find(match func(*order.Order) bool) (*order.Order, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for i := range o.orders {
		if match(&o.orders[i]) {
			cp := o.orders[i]
			cp.Items = slices.Clone(cp.Items)
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

// FindByIdempotencyKey implements order.Repository.
func (o *Orders) FindByIdempotencyKey(_ context.Context, customerID, key string) (*order.Order, error) {
	return o.find(func(ord *order.Order) bool {
		return ord.CustomerID == customerID && ord.IdempotencyKey == key
	})
}

// FindByID implements order.Repository.
func (o *Orders) FindByID(_ context.Context, id string) (*order.Order, error) {
	return o.find(func(ord *order.Order) bool { return ord.ID == id })
}

// ListByCustomer implements order.Repository.
func (o *Orders) ListByCustomer(_ context.Context, customerID string) ([]order.Order, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []order.Order
	for i := len(o.orders) - 1; i >= 0; i-- {
		if o.orders[i].CustomerID == customerID {
			out = append(out, o.orders[i])
		}
	}
	return out, nil
}

// Guard is an in-process order.Guard.
type Guard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewGuard returns a Guard with no reserved keys.
func NewGuard() *Guard {
	return &Guard{keys: map[string]struct{}{}}
}

// Reserve implements order.Guard.
func (g *Guard) Reserve(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return false, nil
	}
	g.keys[key] = struct{}{}
	return true, nil
}

// Release implements order.Guard.
func (g *Guard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}
