package coupon

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/leafsense-cart/internal/domain/pricing"
	"github.com/xenking/leafsense-cart/internal/jsonx"
)

func encodeApplied(a *Applied) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(a.Description) })
		e.Field("coupon_type", func(e *jx.Encoder) { e.Str(string(a.Kind)) })
		e.Field("value", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.Value) })
		e.Field("minimum_order_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.MinOrderAmount) })
		e.Field("maximum_discount_amount", func(e *jx.Encoder) { jsonx.EncodeNullDecimal(e, a.MaxDiscount) })
		e.Field("start_date", func(e *jx.Encoder) { jsonx.EncodeTime(e, a.StartsAt) })
		e.Field("end_date", func(e *jx.Encoder) { jsonx.EncodeTime(e, a.EndsAt) })
		e.Field("discount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.Discount) })
		e.Field("final_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.FinalAmount) })
		e.Field("order_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, a.OrderAmount) })
		if a.Message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(a.Message) })
		}
	})
	return e.Bytes()
}

func decodeApplied(data []byte) (*Applied, error) {
	var a Applied
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			a.Code, err = jsonx.Text(d)
		case "name":
			a.Name, err = jsonx.Text(d)
		case "description":
			a.Description, err = jsonx.Text(d)
		case "coupon_type":
			var k string
			k, err = jsonx.Text(d)
			a.Kind = pricing.Kind(k)
		case "value":
			a.Value, err = jsonx.Decimal(d)
		case "minimum_order_amount":
			a.MinOrderAmount, err = jsonx.Decimal(d)
		case "maximum_discount_amount":
			a.MaxDiscount, err = jsonx.NullDecimal(d)
		case "start_date":
			a.StartsAt, err = jsonx.Time(d)
		case "end_date":
			a.EndsAt, err = jsonx.Time(d)
		case "discount":
			a.Discount, err = jsonx.Decimal(d)
		case "final_amount":
			a.FinalAmount, err = jsonx.Decimal(d)
		case "order_amount":
			a.OrderAmount, err = jsonx.Decimal(d)
		case "message":
			a.Message, err = jsonx.Text(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	}); err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	if a.Code == "" {
		return nil, errors.New("decode coupon: missing code")
	}
	return &a, nil
}
