package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/leafsense-cart/internal/api"
	"github.com/xenking/leafsense-cart/internal/domain/checkout"
	"github.com/xenking/leafsense-cart/internal/domain/coupon"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
)

var (
	_ coupon.Validator   = (*Client)(nil)
	_ coupon.Catalog     = (*Client)(nil)
	_ checkout.Submitter = (*Client)(nil)
)

// Validate implements coupon.Validator.
func (c *Client) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (*coupon.Applied, error) {
	var resp api.ValidateResponse
	if _, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   api.PathValidateCoupon,
		body:   &api.ValidateRequest{Code: code, OrderAmount: orderAmount},
		out:    &resp,
	}); err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, remote.Reject(resp.Message)
	}
	return resp.Applied(code, orderAmount), nil
}

// Available implements coupon.Catalog.
func (c *Client) Available(ctx context.Context, orderAmount decimal.NullDecimal) ([]coupon.Offer, error) {
	key := ""
	q := url.Values{}
	if orderAmount.Valid {
		key = orderAmount.Decimal.String()
		q.Set("order_amount", key)
	}
	// The shared call outlives any single caller; do still bounds it with the
	// client timeout.
	shared := context.WithoutCancel(ctx)
	ch := c.catalog.DoChan(key, func() (any, error) {
		var l api.AvailableList
		if _, err := c.do(shared, call{
			method: http.MethodGet,
			path:   api.PathAvailableCoupons,
			query:  q,
			out:    &l,
		}); err != nil {
			return nil, err
		}
		offers := make([]coupon.Offer, len(l))
		for i := range l {
			offers[i] = l[i].Offer()
		}
		return offers, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]coupon.Offer), nil
	}
}

// PlaceOrder implements checkout.Submitter.
func (c *Client) PlaceOrder(ctx context.Context, p *checkout.Payload) (*checkout.Receipt, error) {
	h := http.Header{}
	if p.IdempotencyKey != "" {
		h.Set(api.HeaderIdempotencyKey, p.IdempotencyKey)
	}
	var o api.Order
	resp, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   api.PathOrders,
		header: h,
		body:   api.OrderCreateFromPayload(p),
		out:    &o,
	})
	if err != nil {
		return nil, err
	}
	r := o.Receipt()
	r.Replayed = strings.EqualFold(resp.Header.Get(api.HeaderIdempotentReplayed), "true")
	return r, nil
}

// Orders returns the customer's order history, newest first.
func (c *Client) Orders(ctx context.Context) (api.OrderList, error) {
	var l api.OrderList
	if _, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   api.PathOrders,
		out:    &l,
	}); err != nil {
		return nil, err
	}
	return l, nil
}
