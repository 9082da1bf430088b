// Package pricing computes cart subtotals, coupon discounts and order totals.
//
// Every view that shows a price calls into this package, so the cart page and
// checkout page can never disagree by a cent.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage off the subtotal, optionally capped.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount off, capped at the subtotal.
	KindFixed Kind = "fixed"
	// KindFreeShipping waives the shipping fee and leaves the subtotal untouched.
	KindFreeShipping Kind = "free_shipping"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPercentage, KindFixed, KindFreeShipping:
		return true
	default:
		return false
	}
}

// ShippingFee is the flat shipping fee. Shipping is free in this shop.
var ShippingFee = decimal.Zero

var hundred = decimal.NewFromInt(100)

// Line is the priced part of a cart line item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Terms describes how a coupon reduces the subtotal.
type Terms struct {
	Kind  Kind
	Value decimal.Decimal
	// MaxDiscount caps percentage discounts when valid and positive.
	MaxDiscount decimal.NullDecimal
}

// Snapshot is a consistent set of amounts for one cart state.
type Snapshot struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
}

// Subtotal returns the sum of unit price times quantity across lines.
// Lines with non-positive quantity contribute nothing.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// DiscountAmount returns the discount terms grant on subtotal. A nil terms
// value means no coupon. The result is rounded half-up to two places and is
// always within [0, subtotal].
func DiscountAmount(terms *Terms, subtotal decimal.Decimal) decimal.Decimal {
	if terms == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch terms.Kind {
	case KindPercentage:
		amount = subtotal.Mul(terms.Value).Div(hundred)
		// A cap of zero or less means uncapped.
		if terms.MaxDiscount.Valid && terms.MaxDiscount.Decimal.IsPositive() {
			amount = decimal.Min(amount, terms.MaxDiscount.Decimal)
		}
	case KindFixed:
		amount = decimal.Min(terms.Value, subtotal)
	default:
		// Free shipping is realized as a waived fee, not a subtotal reduction.
		return decimal.Zero
	}

	return clamp(amount.Round(2), subtotal)
}

// Total returns subtotal + shippingFee - discount, floored at zero.
func Total(subtotal, discount, shippingFee decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(shippingFee).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}

// Calculate prices lines with an already known discount, such as the amount
// returned by the coupon service. The discount is clamped into [0, subtotal].
func Calculate(lines []Line, discount decimal.Decimal) Snapshot {
	subtotal := Subtotal(lines)
	discount = clamp(discount, subtotal)
	return Snapshot{
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: ShippingFee,
		Total:       Total(subtotal, discount, ShippingFee),
	}
}

// Quote prices lines with coupon terms applied locally.
func Quote(lines []Line, terms *Terms) Snapshot {
	subtotal := Subtotal(lines)
	return Calculate(lines, DiscountAmount(terms, subtotal))
}

func clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if upper.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, upper)
}
