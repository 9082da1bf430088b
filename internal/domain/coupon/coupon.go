package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

// Status is the administrative state of a coupon.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

var (
	// ErrNotFound is returned by repositories when no active coupon has the
	// requested code.
	ErrNotFound = errors.New("coupon not found")
	// ErrEmptyCode is returned when a blank code is applied.
	ErrEmptyCode = errors.New("coupon code is empty")
	// ErrAlreadyApplied is returned when the applied coupon is applied again.
	ErrAlreadyApplied = errors.New("coupon already applied")
	// ErrCouponInUse is returned when another coupon is applied while one is
	// active. The current coupon has to be removed first.
	ErrCouponInUse = errors.New("another coupon is applied")
	// ErrStale is returned when a validation reply arrives after the coupon
	// state changed.
	ErrStale = errors.New("stale coupon validation")
)

// Rule is the server-side definition of a coupon.
type Rule struct {
	ID             int64
	Code           string
	Name           string
	Description    string
	Kind           pricing.Kind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	// MaxDiscount caps percentage discounts.
	MaxDiscount decimal.NullDecimal
	// TotalUsageLimit of zero means unlimited.
	TotalUsageLimit  int
	PerCustomerLimit int
	UsageCount       int
	StartsAt         *time.Time
	EndsAt           *time.Time
	Status           Status
	Active           bool
}

// Terms returns the pricing terms of the rule.
func (r *Rule) Terms() *pricing.Terms {
	return &pricing.Terms{Kind: r.Kind, Value: r.Value, MaxDiscount: r.MaxDiscount}
}

// Exhausted reports whether the global usage cap is reached.
func (r *Rule) Exhausted() bool {
	return r.TotalUsageLimit > 0 && r.UsageCount >= r.TotalUsageLimit
}

// Usage records one redemption of a coupon.
type Usage struct {
	CouponID       int64
	CustomerID     string
	OrderID        string
	DiscountAmount decimal.Decimal
	OrderAmount    decimal.Decimal
	UsedAt         time.Time
}

// Repository provides coupon rules and usage counts.
type Repository interface {
	// FindByCode returns the active coupon with code, compared
	// case-insensitively, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// ListActive returns active coupons whose window contains now.
	ListActive(ctx context.Context, now time.Time) ([]Rule, error)
	// CountUsage returns how often customerID redeemed the coupon.
	CountUsage(ctx context.Context, couponID int64, customerID string) (int, error)
}

// Applied is the coupon currently applied to a cart, as confirmed by the
// backend. Discount is the server figure and is never recomputed locally.
type Applied struct {
	Code           string
	Name           string
	Description    string
	Kind           pricing.Kind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxDiscount    decimal.NullDecimal
	StartsAt       *time.Time
	EndsAt         *time.Time

	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
	// OrderAmount is the amount the discount was validated against.
	OrderAmount decimal.Decimal
	Message     string
}

// Offer is a coupon listed for the customer with its usability.
type Offer struct {
	ID             int64
	Code           string
	Name           string
	Description    string
	Kind           pricing.Kind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxDiscount    decimal.NullDecimal
	CanUse         bool
	Reason         string
}

// Validator checks a code against an order amount. Implementations return a
// *remote.RejectedError carrying the backend reason for unusable codes and
// wrap remote.ErrUnavailable for transient failures.
type Validator interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*Applied, error)
}

// Catalog lists coupons available to the customer. A null amount skips the
// minimum order check.
type Catalog interface {
	Available(ctx context.Context, orderAmount decimal.NullDecimal) ([]Offer, error)
}

// Canonical normalizes a user supplied code.
func Canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
