package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func capAt(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func sampleCart() []Line {
	return []Line{
		{UnitPrice: d("15"), Quantity: 2},
		{UnitPrice: d("30"), Quantity: 1},
	}
}

func TestSubtotal(t *testing.T) {
	tests := []struct {
		name  string
		lines []Line
		want  string
	}{
		{name: "empty", want: "0"},
		{name: "sample cart", lines: sampleCart(), want: "60"},
		{
			name: "cents",
			lines: []Line{
				{UnitPrice: d("0.10"), Quantity: 3},
				{UnitPrice: d("19.99"), Quantity: 1},
			},
			want: "20.29",
		},
		{
			name:  "zero quantity ignored",
			lines: []Line{{UnitPrice: d("10"), Quantity: 0}},
			want:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtotal(tt.lines)
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestSubtotal_OrderInvariant(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("1.25"), Quantity: 4},
		{UnitPrice: d("7.10"), Quantity: 3},
		{UnitPrice: d("0.99"), Quantity: 11},
	}
	reversed := []Line{lines[2], lines[1], lines[0]}

	assert.True(t, Subtotal(lines).Equal(Subtotal(reversed)))
}

func TestDiscountAmount(t *testing.T) {
	tests := []struct {
		name     string
		terms    *Terms
		subtotal string
		want     string
	}{
		{name: "no coupon", subtotal: "60", want: "0"},
		{
			name:     "percentage without cap",
			terms:    &Terms{Kind: KindPercentage, Value: d("10")},
			subtotal: "60",
			want:     "6",
		},
		{
			name:     "percentage capped",
			terms:    &Terms{Kind: KindPercentage, Value: d("50"), MaxDiscount: capAt("10")},
			subtotal: "60",
			want:     "10",
		},
		{
			name:     "zero cap means uncapped",
			terms:    &Terms{Kind: KindPercentage, Value: d("50"), MaxDiscount: capAt("0")},
			subtotal: "60",
			want:     "30",
		},
		{
			name:     "negative cap means uncapped",
			terms:    &Terms{Kind: KindPercentage, Value: d("10"), MaxDiscount: capAt("-5")},
			subtotal: "60",
			want:     "6",
		},
		{
			name:     "percentage below cap",
			terms:    &Terms{Kind: KindPercentage, Value: d("5"), MaxDiscount: capAt("10")},
			subtotal: "60",
			want:     "3",
		},
		{
			name:     "percentage rounds half up",
			terms:    &Terms{Kind: KindPercentage, Value: d("15")},
			subtotal: "0.30",
			want:     "0.05",
		},
		{
			name:     "percentage over 100 is bounded by subtotal",
			terms:    &Terms{Kind: KindPercentage, Value: d("150")},
			subtotal: "40",
			want:     "40",
		},
		{
			name:     "fixed below subtotal",
			terms:    &Terms{Kind: KindFixed, Value: d("9")},
			subtotal: "60",
			want:     "9",
		},
		{
			name:     "fixed capped at subtotal",
			terms:    &Terms{Kind: KindFixed, Value: d("100")},
			subtotal: "60",
			want:     "60",
		},
		{
			name:     "free shipping",
			terms:    &Terms{Kind: KindFreeShipping, Value: d("30000")},
			subtotal: "60",
			want:     "0",
		},
		{
			name:     "empty cart",
			terms:    &Terms{Kind: KindFixed, Value: d("5")},
			subtotal: "0",
			want:     "0",
		},
		{
			name:     "negative value never produces negative discount",
			terms:    &Terms{Kind: KindFixed, Value: d("-5")},
			subtotal: "60",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscountAmount(tt.terms, d(tt.subtotal))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.LessThanOrEqual(d(tt.subtotal)) || got.IsZero())
		})
	}
}

func TestTotal(t *testing.T) {
	assert.True(t, d("54").Equal(Total(d("60"), d("6"), decimal.Zero)))
	assert.True(t, decimal.Zero.Equal(Total(d("60"), d("75"), decimal.Zero)))
	assert.True(t, d("65").Equal(Total(d("60"), d("0"), d("5"))))
}

func TestQuote_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		terms        *Terms
		wantDiscount string
		wantTotal    string
	}{
		{
			name:         "ten percent",
			terms:        &Terms{Kind: KindPercentage, Value: d("10")},
			wantDiscount: "6",
			wantTotal:    "54",
		},
		{
			name:         "fixed exceeding subtotal",
			terms:        &Terms{Kind: KindFixed, Value: d("100")},
			wantDiscount: "60",
			wantTotal:    "0",
		},
		{
			name:         "fifty percent capped at ten",
			terms:        &Terms{Kind: KindPercentage, Value: d("50"), MaxDiscount: capAt("10")},
			wantDiscount: "10",
			wantTotal:    "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Quote(sampleCart(), tt.terms)
			assert.True(t, d("60").Equal(s.Subtotal))
			assert.True(t, d(tt.wantDiscount).Equal(s.Discount), "discount %s", s.Discount)
			assert.True(t, d(tt.wantTotal).Equal(s.Total), "total %s", s.Total)
			assert.True(t, s.ShippingFee.IsZero())
		})
	}
}

func TestCalculate_ClampsServerDiscount(t *testing.T) {
	s := Calculate(sampleCart(), d("80"))
	assert.True(t, d("60").Equal(s.Discount))
	assert.True(t, s.Total.IsZero())

	s = Calculate(sampleCart(), d("-3"))
	assert.True(t, s.Discount.IsZero())
	assert.True(t, d("60").Equal(s.Total))
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindPercentage.Valid())
	assert.True(t, KindFixed.Valid())
	assert.True(t, KindFreeShipping.Valid())
	assert.False(t, Kind("free_lowest").Valid())
}
