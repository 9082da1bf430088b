package api

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/jsonx"
)

// ValidateRequest is the body of POST /coupons/validate.
type ValidateRequest struct {
	Code        string
	OrderAmount decimal.Decimal
}

func (r *ValidateRequest) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("coupon_code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("order_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, r.OrderAmount) })
	})
}

// Decode accepts both "coupon_code" and "code".
func (r *ValidateRequest) Decode(d *jx.Decoder) error {
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "coupon_code", "code":
			r.Code, err = jsonx.Text(d)
		case "order_amount":
			r.OrderAmount, err = jsonx.Decimal(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	}); err != nil {
		return errors.Wrap(err, "decode validate request")
	}
	return nil
}

// CouponInfo describes a coupon in responses.
type CouponInfo struct {
	ID                    int64
	Code                  string
	Name                  string
	Description           string
	Type                  pricing.Kind
	Value                 decimal.Decimal
	MinimumOrderAmount    decimal.Decimal
	MaximumDiscountAmount decimal.NullDecimal
	StartDate             *time.Time
	EndDate               *time.Time
}

func (c *CouponInfo) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("coupon_type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, c.Value) })
		e.Field("minimum_order_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, c.MinimumOrderAmount) })
		e.Field("maximum_discount_amount", func(e *jx.Encoder) { jsonx.EncodeNullDecimal(e, c.MaximumDiscountAmount) })
		e.Field("start_date", func(e *jx.Encoder) { jsonx.EncodeTime(e, c.StartDate) })
		e.Field("end_date", func(e *jx.Encoder) { jsonx.EncodeTime(e, c.EndDate) })
	})
}

func (c *CouponInfo) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			var n int
			n, err = jsonx.Int(d)
			c.ID = int64(n)
		case "code":
			c.Code, err = jsonx.Text(d)
		case "name":
			c.Name, err = jsonx.Text(d)
		case "description":
			c.Description, err = jsonx.Text(d)
		case "coupon_type", "type":
			var k string
			k, err = jsonx.Text(d)
			c.Type = pricing.Kind(k)
		case "value", "discount_value":
			c.Value, err = jsonx.Decimal(d)
		case "minimum_order_amount":
			c.MinimumOrderAmount, err = jsonx.Decimal(d)
		case "maximum_discount_amount":
			c.MaximumDiscountAmount, err = jsonx.NullDecimal(d)
		case "start_date":
			c.StartDate, err = jsonx.Time(d)
		case "end_date":
			c.EndDate, err = jsonx.Time(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	})
}

// CouponInfoFromRule describes r.
func CouponInfoFromRule(r *coupon.Rule) *CouponInfo {
	return &CouponInfo{
		ID:                    r.ID,
		Code:                  r.Code,
		Name:                  r.Name,
		Description:           r.Description,
		Type:                  r.Kind,
		Value:                 r.Value,
		MinimumOrderAmount:    r.MinOrderAmount,
		MaximumDiscountAmount: r.MaxDiscount,
		StartDate:             r.StartsAt,
		EndDate:               r.EndsAt,
	}
}

// ValidateResponse is the reply of POST /coupons/validate. Business
// rejections are Valid=false with Message set, not HTTP errors.
type ValidateResponse struct {
	Valid          bool
	Message        string
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Coupon         *CouponInfo
}

func (r *ValidateResponse) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(r.Valid) })
		e.Field("message", func(e *jx.Encoder) { e.Str(r.Message) })
		e.Field("discount_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, r.DiscountAmount) })
		e.Field("final_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, r.FinalAmount) })
		e.Field("coupon", func(e *jx.Encoder) {
			if r.Coupon == nil {
				e.Null()
				return
			}
			r.Coupon.Encode(e)
		})
	})
}

func (r *ValidateResponse) Decode(d *jx.Decoder) error {
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "valid":
			r.Valid, err = jsonx.Bool(d)
		case "message":
			r.Message, err = jsonx.Text(d)
		case "discount_amount":
			r.DiscountAmount, err = jsonx.Decimal(d)
		case "final_amount":
			r.FinalAmount, err = jsonx.Decimal(d)
		case "coupon":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r.Coupon = new(CouponInfo)
			err = r.Coupon.Decode(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	}); err != nil {
		return errors.Wrap(err, "decode validate response")
	}
	return nil
}

// ValidateResponseFrom builds the reply for an evaluation at amount.
func ValidateResponseFrom(ev *coupon.Evaluation, amount decimal.Decimal) *ValidateResponse {
	if !ev.Valid {
		return &ValidateResponse{Message: ev.Message, FinalAmount: amount}
	}
	return &ValidateResponse{
		Valid:          true,
		Message:        ev.Message,
		DiscountAmount: ev.Quote.Discount,
		FinalAmount:    ev.Quote.FinalAmount,
		Coupon:         CouponInfoFromRule(ev.Rule),
	}
}

// Applied converts a valid reply into the client snapshot for code. The
// discount is taken as returned.
func (r *ValidateResponse) Applied(code string, orderAmount decimal.Decimal) *coupon.Applied {
	a := &coupon.Applied{
		Code:        code,
		Discount:    r.DiscountAmount,
		FinalAmount: r.FinalAmount,
		OrderAmount: orderAmount,
		Message:     r.Message,
	}
	if c := r.Coupon; c != nil {
		if c.Code != "" {
			a.Code = c.Code
		}
		a.Name = c.Name
		a.Description = c.Description
		a.Kind = c.Type
		a.Value = c.Value
		a.MinOrderAmount = c.MinimumOrderAmount
		a.MaxDiscount = c.MaximumDiscountAmount
		a.StartsAt = c.StartDate
		a.EndsAt = c.EndDate
	}
	return a
}

// AvailableCoupon is one entry of GET /coupons/available.
type AvailableCoupon struct {
	CouponInfo
	CanUse bool
	Reason string
}

func (a *AvailableCoupon) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(a.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(a.Description) })
		e.Field("coupon_type", func(e *jx.Encoder) { e.Str(string(a.Type)) })
		e.Field("value", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.Value) })
		e.Field("minimum_order_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.MinimumOrderAmount) })
		e.Field("maximum_discount_amount", func(e *jx.Encoder) { jsonx.EncodeNullDecimal(e, a.MaximumDiscountAmount) })
		e.Field("can_use", func(e *jx.Encoder) { e.Bool(a.CanUse) })
		e.Field("reason", func(e *jx.Encoder) {
			if a.Reason == "" {
				e.Null()
				return
			}
			e.Str(a.Reason)
		})
	})
}

func (a *AvailableCoupon) Decode(d *jx.Decoder) error {
	return d.Obj(a.decodeField)
}

func (a *AvailableCoupon) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "id":
		var n int
		n, err = jsonx.Int(d)
		a.ID = int64(n)
	case "code":
		a.Code, err = jsonx.Text(d)
	case "name":
		a.Name, err = jsonx.Text(d)
	case "description":
		a.Description, err = jsonx.Text(d)
	case "coupon_type":
		var k string
		k, err = jsonx.Text(d)
		a.Type = pricing.Kind(k)
	case "value":
		a.Value, err = jsonx.Decimal(d)
	case "minimum_order_amount":
		a.MinimumOrderAmount, err = jsonx.Decimal(d)
	case "maximum_discount_amount":
		a.MaximumDiscountAmount, err = jsonx.NullDecimal(d)
	case "can_use":
		a.CanUse, err = jsonx.Bool(d)
	case "reason":
		a.Reason, err = jsonx.Text(d)
	default:
		return d.Skip()
	}
	return jsonx.Field(key, err)
}

// Offer converts the entry to the domain type.
func (a *AvailableCoupon) Offer() coupon.Offer {
	return coupon.Offer{
		ID:             a.ID,
		Code:           a.Code,
		Name:           a.Name,
		Description:    a.Description,
		Kind:           a.Type,
		Value:          a.Value,
		MinOrderAmount: a.MinimumOrderAmount,
		MaxDiscount:    a.MaximumDiscountAmount,
		CanUse:         a.CanUse,
		Reason:         a.Reason,
	}
}

// AvailableList is the reply of GET /coupons/available.
type AvailableList []AvailableCoupon

func (l AvailableList) Encode(e *jx.Encoder) {
	e.Arr(func(e *jx.Encoder) {
		for i := range l {
			l[i].Encode(e)
		}
	})
}

func (l *AvailableList) Decode(d *jx.Decoder) error {
	if err := d.Arr(func(d *jx.Decoder) error {
		var a AvailableCoupon
		if err := a.Decode(d); err != nil {
			return err
		}
		*l = append(*l, a)
		return nil
	}); err != nil {
		return errors.Wrap(err, "decode available coupons")
	}
	return nil
}

// AvailableListFrom converts offers.
func AvailableListFrom(offers []coupon.Offer) AvailableList {
	l := make(AvailableList, len(offers))
	for i, o := range offers {
		l[i] = AvailableCoupon{
			CouponInfo: CouponInfo{
				ID:                    o.ID,
				Code:                  o.Code,
				Name:                  o.Name,
				Description:           o.Description,
				Type:                  o.Kind,
				Value:                 o.Value,
				MinimumOrderAmount:    o.MinOrderAmount,
				MaximumDiscountAmount: o.MaxDiscount,
			},
			CanUse: o.CanUse,
			Reason: o.Reason,
		}
	}
	return l
}
