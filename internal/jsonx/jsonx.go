// Package jsonx holds jx helpers for the value types that appear in every
// document: money, lenient ids and timestamps.
package jsonx

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Text reads a string, accepting numbers (web client ids are numeric) and
// null as empty.
func Text(d *jx.Decoder) (string, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s", tt)
	}
}

// Decimal reads a number or numeric string. Null reads as zero.
func Decimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := Text(d)
	if err != nil || s == "" {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %q", s)
	}
	return v, nil
}

// NullDecimal reads a number, numeric string or null.
func NullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := Decimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// Int reads an integer, tolerating a fractional representation like 2.0.
func Int(d *jx.Decoder) (int, error) {
	v, err := Decimal(d)
	if err != nil {
		return 0, err
	}
	return int(v.IntPart()), nil
}

// Bool reads a boolean. Null reads as false.
func Bool(d *jx.Decoder) (bool, error) {
	if d.Next() == jx.Null {
		return false, d.Null()
	}
	return d.Bool()
}

// Time reads an RFC 3339 timestamp. Null or empty reads as nil.
func Time(d *jx.Decoder) (*time.Time, error) {
	s, err := Text(d)
	if err != nil || s == "" {
		return nil, err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.Errorf("parse time %q", s)
}

// EncodeDecimal writes v as a JSON number.
func EncodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

// EncodeNullDecimal writes v as a JSON number or null.
func EncodeNullDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	EncodeDecimal(e, v.Decimal)
}

// EncodeTime writes t in RFC 3339 or null.
func EncodeTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// Field wraps a decode error with the field it occurred in.
func Field(key string, err error) error {
	if err != nil {
		return errors.Wrap(err, key)
	}
	return nil
}
