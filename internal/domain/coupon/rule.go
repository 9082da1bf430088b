package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

// Customer-facing reasons. Clients display them verbatim.
const (
	ReasonNotFound         = "Coupon code does not exist"
	ReasonUnavailable      = "Coupon is not available"
	ReasonNotStarted       = "Coupon is not valid yet"
	ReasonExpired          = "Coupon has expired"
	ReasonExhausted        = "Coupon usage limit has been reached"
	ReasonCustomerUsedUp   = "You have used up this coupon"
	MessageApplied         = "Coupon applied successfully"
	reasonCustomerLimitFmt = "You have used this coupon the maximum number of times (%d)"
	reasonMinOrderFmt      = "Minimum order amount is %s"
)

// Check reports whether the coupon is usable at now, independent of the
// customer and the order. The returned reason is empty when usable.
func (r *Rule) Check(now time.Time) string {
	if !r.Active || r.Status != StatusActive {
		return ReasonUnavailable
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return ReasonNotStarted
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return ReasonExpired
	}
	if r.Exhausted() {
		return ReasonExhausted
	}
	return ""
}

// RedeemReason reports whether one more redemption by a customer who already
// used the coupon customerUsed times stays within the usage limits. The
// returned reason is empty when it does.
func (r *Rule) RedeemReason(customerUsed int) string {
	if r.Exhausted() {
		return ReasonExhausted
	}
	if r.PerCustomerLimit > 0 && customerUsed >= r.PerCustomerLimit {
		return customerLimitReason(r.PerCustomerLimit)
	}
	return ""
}

func customerLimitReason(limit int) string {
	return fmt.Sprintf(reasonCustomerLimitFmt, limit)
}

func minOrderReason(min decimal.Decimal) string {
	return fmt.Sprintf(reasonMinOrderFmt, min.StringFixed(2))
}

// Quote is the discount a rule grants on an order amount.
type Quote struct {
	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
}

// QuoteFor prices the rule against amount. It returns a non-empty reason
// when the amount is below the minimum order.
func QuoteFor(r *Rule, amount decimal.Decimal) (Quote, string) {
	if amount.LessThan(r.MinOrderAmount) {
		return Quote{}, minOrderReason(r.MinOrderAmount)
	}
	discount := pricing.DiscountAmount(r.Terms(), amount)
	return Quote{
		Discount:    discount,
		FinalAmount: pricing.Total(amount, discount, pricing.ShippingFee),
	}, ""
}

// AppliedFrom builds the client snapshot for a rule accepted at amount.
func AppliedFrom(r *Rule, q Quote, amount decimal.Decimal) *Applied {
	return &Applied{
		Code:           r.Code,
		Name:           r.Name,
		Description:    r.Description,
		Kind:           r.Kind,
		Value:          r.Value,
		MinOrderAmount: r.MinOrderAmount,
		MaxDiscount:    r.MaxDiscount,
		StartsAt:       r.StartsAt,
		EndsAt:         r.EndsAt,
		Discount:       q.Discount,
		FinalAmount:    q.FinalAmount,
		OrderAmount:    amount,
		Message:        MessageApplied,
	}
}
