package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Evaluation is the outcome of checking a code for a customer and amount.
// Valid is false for business rejections, in which case Message says why.
type Evaluation struct {
	Valid   bool
	Message string
	Rule    *Rule
	Quote   Quote
}

// RuleValidator evaluates coupon codes against rules from a Repository. It
// is the authority clients defer to; it never records usage.
type RuleValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRuleValidator creates a RuleValidator backed by the given Repository.
func NewRuleValidator(repo Repository) *RuleValidator {
	return &RuleValidator{repo: repo, now: time.Now}
}

// Evaluate looks up the coupon for code, checks its window, status and usage
// caps, the customer's usage and the minimum order, and quotes the discount.
// An empty customerID skips the per-customer check.
func (v *RuleValidator) Evaluate(ctx context.Context, code string, amount decimal.Decimal, customerID string) (*Evaluation, error) {
	code = Canonical(code)
	if code == "" {
		return reject(ReasonNotFound), nil
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ReasonNotFound), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if reason := rule.Check(v.now()); reason != "" {
		return reject(reason), nil
	}

	if customerID != "" {
		used, err := v.repo.CountUsage(ctx, rule.ID, customerID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon usage")
		}
		if rule.PerCustomerLimit > 0 && used >= rule.PerCustomerLimit {
			return reject(customerLimitReason(rule.PerCustomerLimit)), nil
		}
	}

	q, reason := QuoteFor(rule, amount)
	if reason != "" {
		return reject(reason), nil
	}

	return &Evaluation{
		Valid:   true,
		Message: MessageApplied,
		Rule:    rule,
		Quote:   q,
	}, nil
}

// Available lists coupons live at the current time with whether the customer
// can use them. Reasons are checked in order: global cap, customer cap,
// minimum order.
func (v *RuleValidator) Available(ctx context.Context, amount decimal.NullDecimal, customerID string) ([]Offer, error) {
	rules, err := v.repo.ListActive(ctx, v.now())
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	offers := make([]Offer, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		o := Offer{
			ID:             r.ID,
			Code:           r.Code,
			Name:           r.Name,
			Description:    r.Description,
			Kind:           r.Kind,
			Value:          r.Value,
			MinOrderAmount: r.MinOrderAmount,
			MaxDiscount:    r.MaxDiscount,
			CanUse:         true,
		}

		switch {
		case r.Exhausted():
			o.CanUse, o.Reason = false, ReasonExhausted
		case customerID != "":
			used, err := v.repo.CountUsage(ctx, r.ID, customerID)
			if err != nil {
				return nil, errors.Wrapf(err, "count usage of %s", r.Code)
			}
			if r.PerCustomerLimit > 0 && used >= r.PerCustomerLimit {
				o.CanUse, o.Reason = false, ReasonCustomerUsedUp
				break
			}
			fallthrough
		default:
			if amount.Valid && amount.Decimal.LessThan(r.MinOrderAmount) {
				o.CanUse, o.Reason = false, minOrderReason(r.MinOrderAmount)
			}
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func reject(reason string) *Evaluation {
	return &Evaluation{Message: reason}
}
