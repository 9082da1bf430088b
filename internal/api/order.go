package api

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/domain/checkout"
	"github.com/xenking/leafsense-cart/internal/domain/order"
	"github.com/xenking/leafsense-cart/internal/jsonx"
)

// OrderItem is an order line with the price at the time of ordering.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (it *OrderItem) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("price", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, it.Price) })
	})
}

func (it *OrderItem) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			it.ProductID, err = jsonx.Text(d)
		case "quantity":
			it.Quantity, err = jsonx.Int(d)
		case "price":
			it.Price, err = jsonx.Decimal(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	})
}

func encodeItems(e *jx.Encoder, items []OrderItem) {
	e.Arr(func(e *jx.Encoder) {
		for i := range items {
			items[i].Encode(e)
		}
	})
}

func decodeItems(d *jx.Decoder) ([]OrderItem, error) {
	var items []OrderItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it OrderItem
		if err := it.Decode(d); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// Customer is the contact block of an order request.
type Customer struct {
	FullName string
	Email    string
	Phone    string
	Address  string
	Note     string
}

func (c *Customer) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("full_name", func(e *jx.Encoder) { e.Str(c.FullName) })
		e.Field("email", func(e *jx.Encoder) { e.Str(c.Email) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(c.Phone) })
		e.Field("address", func(e *jx.Encoder) { e.Str(c.Address) })
		if c.Note != "" {
			e.Field("note", func(e *jx.Encoder) { e.Str(c.Note) })
		}
	})
}

func (c *Customer) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "full_name":
			c.FullName, err = jsonx.Text(d)
		case "email":
			c.Email, err = jsonx.Text(d)
		case "phone":
			c.Phone, err = jsonx.Text(d)
		case "address":
			c.Address, err = jsonx.Text(d)
		case "note":
			c.Note, err = jsonx.Text(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	})
}

// OrderCreate is the body of POST /orders.
type OrderCreate struct {
	Customer        Customer
	PaymentMethod   string
	ShippingName    string
	ShippingPhone   string
	ShippingAddress string
	CouponCode      string
	TotalAmount     decimal.NullDecimal
	Items           []OrderItem
}

func (c *OrderCreate) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("customer", c.Customer.Encode)
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(c.PaymentMethod) })
		e.Field("shipping_name", func(e *jx.Encoder) { e.Str(c.ShippingName) })
		e.Field("shipping_phone", func(e *jx.Encoder) { e.Str(c.ShippingPhone) })
		e.Field("shipping_address", func(e *jx.Encoder) { e.Str(c.ShippingAddress) })
		if c.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(c.CouponCode) })
		}
		if c.TotalAmount.Valid {
			e.Field("total_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, c.TotalAmount.Decimal) })
		}
		e.Field("order_items", func(e *jx.Encoder) { encodeItems(e, c.Items) })
	})
}

func (c *OrderCreate) Decode(d *jx.Decoder) error {
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer":
			err = c.Customer.Decode(d)
		case "payment_method":
			c.PaymentMethod, err = jsonx.Text(d)
		case "shipping_name":
			c.ShippingName, err = jsonx.Text(d)
		case "shipping_phone":
			c.ShippingPhone, err = jsonx.Text(d)
		case "shipping_address":
			c.ShippingAddress, err = jsonx.Text(d)
		case "coupon_code":
			c.CouponCode, err = jsonx.Text(d)
		case "total_amount":
			c.TotalAmount, err = jsonx.NullDecimal(d)
		case "order_items", "items":
			c.Items, err = decodeItems(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	}); err != nil {
		return errors.Wrap(err, "decode order request")
	}
	return nil
}

// OrderCreateFromPayload builds the request for a checkout submission.
// Shipping fields default to the contact.
func OrderCreateFromPayload(p *checkout.Payload) *OrderCreate {
	c := &OrderCreate{
		Customer: Customer{
			FullName: p.Contact.FullName,
			Email:    p.Contact.Email,
			Phone:    p.Contact.Phone,
			Address:  p.Contact.Address,
			Note:     p.Contact.Note,
		},
		PaymentMethod:   string(p.PaymentMethod),
		ShippingName:    p.Contact.FullName,
		ShippingPhone:   p.Contact.Phone,
		ShippingAddress: p.Contact.Address,
		CouponCode:      p.CouponCode,
		TotalAmount:     decimal.NewNullDecimal(p.Pricing.Total),
		Items:           make([]OrderItem, len(p.Lines)),
	}
	for i, l := range p.Lines {
		c.Items[i] = OrderItem{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.Price}
	}
	return c
}

// Request converts the body to a placement request. Missing shipping
// fields fall back to the customer block.
func (c *OrderCreate) Request(customerID, idempotencyKey string) order.PlaceOrderRequest {
	req := order.PlaceOrderRequest{
		CustomerID:     customerID,
		IdempotencyKey: idempotencyKey,
		Items:          make([]order.Item, len(c.Items)),
		CouponCode:     c.CouponCode,
		PaymentMethod:  order.PaymentMethod(c.PaymentMethod),
		Shipping: order.Shipping{
			Name:    firstNonEmpty(c.ShippingName, c.Customer.FullName),
			Phone:   firstNonEmpty(c.ShippingPhone, c.Customer.Phone),
			Address: firstNonEmpty(c.ShippingAddress, c.Customer.Address),
		},
		Email:       c.Customer.Email,
		Note:        c.Customer.Note,
		TotalAmount: c.TotalAmount,
	}
	for i, it := range c.Items {
		req.Items[i] = order.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	return req
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// Order is an order in responses.
type Order struct {
	ID              string
	CustomerID      string
	Status          string
	PaymentMethod   string
	OriginalAmount  decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	CouponCode      string
	ShippingName    string
	ShippingPhone   string
	ShippingAddress string
	Email           string
	Note            string
	CreatedAt       time.Time
	Items           []OrderItem
}

func (o *Order) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("original_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, o.OriginalAmount) })
		e.Field("discount_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, o.DiscountAmount) })
		e.Field("total_amount", func(e *jx.Encoder) { jsonx.EncodeDecimal(e, o.TotalAmount) })
		e.Field("coupon_code", func(e *jx.Encoder) {
			if o.CouponCode == "" {
				e.Null()
				return
			}
			e.Str(o.CouponCode)
		})
		e.Field("shipping_name", func(e *jx.Encoder) { e.Str(o.ShippingName) })
		e.Field("shipping_phone", func(e *jx.Encoder) { e.Str(o.ShippingPhone) })
		e.Field("shipping_address", func(e *jx.Encoder) { e.Str(o.ShippingAddress) })
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Email) })
		e.Field("note", func(e *jx.Encoder) { e.Str(o.Note) })
		e.Field("created_at", func(e *jx.Encoder) { jsonx.EncodeTime(e, &o.CreatedAt) })
		e.Field("order_items", func(e *jx.Encoder) { encodeItems(e, o.Items) })
	})
}

func (o *Order) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = jsonx.Text(d)
		case "customer_id", "user_id":
			o.CustomerID, err = jsonx.Text(d)
		case "status":
			o.Status, err = jsonx.Text(d)
		case "payment_method":
			o.PaymentMethod, err = jsonx.Text(d)
		case "original_amount":
			o.OriginalAmount, err = jsonx.Decimal(d)
		case "discount_amount":
			o.DiscountAmount, err = jsonx.Decimal(d)
		case "total_amount":
			o.TotalAmount, err = jsonx.Decimal(d)
		case "coupon_code":
			o.CouponCode, err = jsonx.Text(d)
		case "shipping_name":
			o.ShippingName, err = jsonx.Text(d)
		case "shipping_phone":
			o.ShippingPhone, err = jsonx.Text(d)
		case "shipping_address":
			o.ShippingAddress, err = jsonx.Text(d)
		case "email":
			o.Email, err = jsonx.Text(d)
		case "note":
			o.Note, err = jsonx.Text(d)
		case "created_at":
			var t *time.Time
			t, err = jsonx.Time(d)
			if t != nil {
				o.CreatedAt = *t
			}
		case "order_items", "items":
			o.Items, err = decodeItems(d)
		default:
			return d.Skip()
		}
		return jsonx.Field(key, err)
	})
}

// OrderFrom converts a domain order.
func OrderFrom(o *order.Order) *Order {
	out := &Order{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		OriginalAmount:  o.OriginalAmount,
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		CouponCode:      o.CouponCode,
		ShippingName:    o.Shipping.Name,
		ShippingPhone:   o.Shipping.Phone,
		ShippingAddress: o.Shipping.Address,
		Email:           o.Email,
		Note:            o.Note,
		CreatedAt:       o.CreatedAt,
		Items:           make([]OrderItem, len(o.Items)),
	}
	for i, it := range o.Items {
		out.Items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
	}
	return out
}

// Receipt converts the reply of POST /orders for the checkout.
func (o *Order) Receipt() *checkout.Receipt {
	return &checkout.Receipt{
		OrderID:     o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
	}
}

// OrderList is the reply of GET /orders.
type OrderList []Order

func (l OrderList) Encode(e *jx.Encoder) {
	e.Arr(func(e *jx.Encoder) {
		for i := range l {
			l[i].Encode(e)
		}
	})
}

func (l *OrderList) Decode(d *jx.Decoder) error {
	if err := d.Arr(func(d *jx.Decoder) error {
		var o Order
		if err := o.Decode(d); err != nil {
			return err
		}
		*l = append(*l, o)
		return nil
	}); err != nil {
		return errors.Wrap(err, "decode orders")
	}
	return nil
}

// OrderListFrom converts domain orders.
func OrderListFrom(orders []order.Order) OrderList {
	l := make(OrderList, len(orders))
	for i := range orders {
		l[i] = *OrderFrom(&orders[i])
	}
	return l
}
