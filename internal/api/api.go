// Package api holds the JSON documents exchanged between the cart engine and
// the shop backend, encoded with jx.
package api

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/leafsense-cart/internal/jsonx"
)

// Routes.
const (
	PathValidateCoupon   = "/coupons/validate"
	PathAvailableCoupons = "/coupons/available"
	PathOrders           = "/orders"
)

// Headers.
const (
	HeaderCustomerID     = "X-Customer-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-ID"

	// HeaderIdempotentReplayed is "true" when POST /orders returned an order
	// placed earlier with the same key.
	HeaderIdempotentReplayed = "Idempotency-Replayed"
)

// Encoder is a document that can write itself.
type Encoder interface {
	Encode(e *jx.Encoder)
}

// Decoder is a document that can read itself.
type Decoder interface {
	Decode(d *jx.Decoder) error
}

// Marshal encodes v.
func Marshal(v Encoder) []byte {
	var e jx.Encoder
	v.Encode(&e)
	return e.Bytes()
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v Decoder) error {
	return v.Decode(jx.DecodeBytes(data))
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("code", func(enc *jx.Encoder) { enc.Int(e.Code) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
	})
}

func (e *Error) Decode(d *jx.Decoder) error {
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			e.Code, err = jsonx.Int(d)
		case "message", "detail":
			e.Message, err = jsonx.Text(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	}); err != nil {
		return errors.Wrap(err, "decode error")
	}
	return nil
}
