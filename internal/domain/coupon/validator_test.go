package coupon

import (
	"context"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/leafsense-cart/internal/domain/pricing"
)

type mockCouponRepo struct {
	rules    map[string]*Rule
	usage    map[int64]int
	err      error
	usageErr error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rules[code]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *mockCouponRepo) ListActive(_ context.Context, _ time.Time) ([]Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Rule, 0, len(m.rules))
	for _, code := range slices.Sorted(maps.Keys(m.rules)) {
		out = append(out, *m.rules[code])
	}
	return out, nil
}

func (m *mockCouponRepo) CountUsage(_ context.Context, couponID int64, _ string) (int, error) {
	return m.usage[couponID], m.usageErr
}

func activeRule(id int64, code string, kind pricing.Kind, value int64) *Rule {
	return &Rule{
		ID:     id,
		Code:   code,
		Name:   code,
		Kind:   kind,
		Value:  decimal.NewFromInt(value),
		Status: StatusActive,
		Active: true,
	}
}

func TestRuleValidator_Evaluate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	with := func(r *Rule, fn func(*Rule)) *Rule {
		fn(r)
		return r
	}

	tests := []struct {
		name         string
		rule         *Rule
		usage        int
		code         string
		amount       int64
		customer     string
		wantValid    bool
		wantMessage  string
		wantDiscount decimal.Decimal
		wantFinal    decimal.Decimal
	}{
		{
			name:         "percentage coupon",
			rule:         activeRule(1, "LEAFSENSE10", pricing.KindPercentage, 10),
			code:         "leafsense10",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.NewFromInt(6),
			wantFinal:    decimal.NewFromInt(54),
		},
		{
			name: "percentage capped by max discount",
			rule: with(activeRule(1, "HALF", pricing.KindPercentage, 50), func(r *Rule) {
				r.MaxDiscount = decimal.NewNullDecimal(decimal.NewFromInt(10))
			}),
			code:         "HALF",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.NewFromInt(10),
			wantFinal:    decimal.NewFromInt(50),
		},
		{
			name:         "fixed coupon larger than subtotal",
			rule:         activeRule(1, "FIXED100", pricing.KindFixed, 100),
			code:         "FIXED100",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.NewFromInt(60),
			wantFinal:    decimal.Zero,
		},
		{
			name:         "free shipping grants no discount",
			rule:         activeRule(1, "FREESHIP", pricing.KindFreeShipping, 0),
			code:         "FREESHIP",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.Zero,
			wantFinal:    decimal.NewFromInt(60),
		},
		{
			name:        "unknown code",
			code:        "BOGUS",
			amount:      60,
			wantMessage: ReasonNotFound,
		},
		{
			name:        "blank code",
			code:        "   ",
			amount:      60,
			wantMessage: ReasonNotFound,
		},
		{
			name: "inactive coupon",
			rule: with(activeRule(1, "OFF", pricing.KindFixed, 5), func(r *Rule) {
				r.Status = StatusInactive
			}),
			code:        "OFF",
			amount:      60,
			wantMessage: ReasonUnavailable,
		},
		{
			name: "not started",
			rule: with(activeRule(1, "SOON", pricing.KindFixed, 5), func(r *Rule) {
				r.StartsAt = &futureTime
			}),
			code:        "SOON",
			amount:      60,
			wantMessage: ReasonNotStarted,
		},
		{
			name: "expired",
			rule: with(activeRule(1, "OLD", pricing.KindFixed, 5), func(r *Rule) {
				r.EndsAt = &pastTime
			}),
			code:        "OLD",
			amount:      60,
			wantMessage: ReasonExpired,
		},
		{
			name: "within window",
			rule: with(activeRule(1, "NOW", pricing.KindFixed, 5), func(r *Rule) {
				r.StartsAt = &pastTime
				r.EndsAt = &futureTime
			}),
			code:         "NOW",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.NewFromInt(5),
			wantFinal:    decimal.NewFromInt(55),
		},
		{
			name: "global usage limit reached",
			rule: with(activeRule(1, "LIMITED", pricing.KindFixed, 5), func(r *Rule) {
				r.TotalUsageLimit = 100
				r.UsageCount = 100
			}),
			code:        "LIMITED",
			amount:      60,
			wantMessage: ReasonExhausted,
		},
		{
			name: "customer limit reached",
			rule: with(activeRule(1, "ONCE", pricing.KindFixed, 5), func(r *Rule) {
				r.PerCustomerLimit = 1
			}),
			usage:       1,
			code:        "ONCE",
			amount:      60,
			customer:    "42",
			wantMessage: "You have used this coupon the maximum number of times (1)",
		},
		{
			name: "customer limit ignored for anonymous callers",
			rule: with(activeRule(1, "ONCE", pricing.KindFixed, 5), func(r *Rule) {
				r.PerCustomerLimit = 1
			}),
			usage:        1,
			code:         "ONCE",
			amount:       60,
			wantValid:    true,
			wantMessage:  MessageApplied,
			wantDiscount: decimal.NewFromInt(5),
			wantFinal:    decimal.NewFromInt(55),
		},
		{
			name: "below minimum order",
			rule: with(activeRule(1, "BIG", pricing.KindPercentage, 10), func(r *Rule) {
				r.MinOrderAmount = decimal.NewFromInt(100000)
			}),
			code:        "BIG",
			amount:      60,
			wantMessage: "Minimum order amount is 100000.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCouponRepo{rules: map[string]*Rule{}, usage: map[int64]int{}}
			if tt.rule != nil {
				repo.rules[tt.rule.Code] = tt.rule
				repo.usage[tt.rule.ID] = tt.usage
			}
			v := NewRuleValidator(repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Evaluate(context.Background(), tt.code, decimal.NewFromInt(tt.amount), tt.customer)
			require.NoError(t, err)
			require.NotNil(t, got)

			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantMessage, got.Message)
			if !tt.wantValid {
				assert.Nil(t, got.Rule)
				return
			}
			assert.True(t, tt.wantDiscount.Equal(got.Quote.Discount),
				"expected discount %s, got %s", tt.wantDiscount, got.Quote.Discount)
			assert.True(t, tt.wantFinal.Equal(got.Quote.FinalAmount),
				"expected final %s, got %s", tt.wantFinal, got.Quote.FinalAmount)
		})
	}
}

func TestRuleValidator_EvaluateRepositoryError(t *testing.T) {
	v := NewRuleValidator(&mockCouponRepo{err: errors.New("db down")})

	got, err := v.Evaluate(context.Background(), "ANY", decimal.NewFromInt(10), "")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestRuleValidator_EvaluateUsageError(t *testing.T) {
	repo := &mockCouponRepo{
		rules:    map[string]*Rule{"X": activeRule(1, "X", pricing.KindFixed, 1)},
		usageErr: errors.New("db down"),
	}
	v := NewRuleValidator(repo)

	_, err := v.Evaluate(context.Background(), "X", decimal.NewFromInt(10), "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count coupon usage")
}

func TestRuleValidator_Available(t *testing.T) {
	limited := activeRule(1, "A_LIMITED", pricing.KindFixed, 5)
	limited.TotalUsageLimit = 10
	limited.UsageCount = 10
	limited.MinOrderAmount = decimal.NewFromInt(1000)

	once := activeRule(2, "B_ONCE", pricing.KindFixed, 5)
	once.PerCustomerLimit = 1
	once.MinOrderAmount = decimal.NewFromInt(1000)

	big := activeRule(3, "C_BIG", pricing.KindPercentage, 10)
	big.MinOrderAmount = decimal.NewFromInt(100)

	open := activeRule(4, "D_OPEN", pricing.KindFreeShipping, 0)

	repo := &mockCouponRepo{
		rules: map[string]*Rule{
			limited.Code: limited,
			once.Code:    once,
			big.Code:     big,
			open.Code:    open,
		},
		usage: map[int64]int{2: 1},
	}
	v := NewRuleValidator(repo)

	tests := []struct {
		name     string
		amount   decimal.NullDecimal
		customer string
		want     map[string]string
	}{
		{
			name:     "reasons in priority order",
			amount:   decimal.NewNullDecimal(decimal.NewFromInt(50)),
			customer: "42",
			want: map[string]string{
				"A_LIMITED": ReasonExhausted,
				"B_ONCE":    ReasonCustomerUsedUp,
				"C_BIG":     "Minimum order amount is 100.00",
				"D_OPEN":    "",
			},
		},
		{
			name:   "anonymous caller sees minimum order",
			amount: decimal.NewNullDecimal(decimal.NewFromInt(50)),
			want: map[string]string{
				"A_LIMITED": ReasonExhausted,
				"B_ONCE":    "Minimum order amount is 1000.00",
				"C_BIG":     "Minimum order amount is 100.00",
				"D_OPEN":    "",
			},
		},
		{
			name: "no amount skips minimum order",
			want: map[string]string{
				"A_LIMITED": ReasonExhausted,
				"B_ONCE":    "",
				"C_BIG":     "",
				"D_OPEN":    "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offers, err := v.Available(context.Background(), tt.amount, tt.customer)
			require.NoError(t, err)
			require.Len(t, offers, len(tt.want))

			for _, o := range offers {
				reason, ok := tt.want[o.Code]
				require.True(t, ok, "unexpected offer %s", o.Code)
				assert.Equal(t, reason, o.Reason, o.Code)
				assert.Equal(t, reason == "", o.CanUse, o.Code)
			}
		})
	}
}

func TestRule_RedeemReason(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		used int
		want string
	}{
		{name: "unlimited", rule: Rule{}, used: 5},
		{name: "below total", rule: Rule{TotalUsageLimit: 2, UsageCount: 1}},
		{name: "total reached", rule: Rule{TotalUsageLimit: 2, UsageCount: 2}, want: ReasonExhausted},
		{name: "customer below limit", rule: Rule{PerCustomerLimit: 2}, used: 1},
		{name: "customer reached limit", rule: Rule{PerCustomerLimit: 2}, used: 2, want: customerLimitReason(2)},
		{
			name: "total wins over customer",
			rule: Rule{TotalUsageLimit: 1, UsageCount: 1, PerCustomerLimit: 1}, used: 1,
			want: ReasonExhausted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.RedeemReason(tt.used))
		})
	}
}
