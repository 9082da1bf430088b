// Package client talks to the shop backend over HTTP. It implements the
// remote collaborators of the cart engine: coupon validation, the coupon
// catalog and order submission.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/leafsense-cart/internal/api"
	"github.com/xenking/leafsense-cart/internal/domain/remote"
)

// DefaultTimeout bounds every call.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped
// with tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCustomer sets the customer id sent with every call.
func WithCustomer(id string) Option {
	return func(c *Client) { c.customer = id }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// WithTracerProvider sets the tracer provider of the transport.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// Client is a shop backend client.
type Client struct {
	base     *url.URL
	http     *http.Client
	timeout  time.Duration
	customer string
	tp       trace.TracerProvider
	lg       *zap.Logger

	// catalog collapses concurrent identical catalog requests.
	catalog singleflight.Group
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		lg:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}

	transport := c.http.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	var topts []otelhttp.Option
	if c.tp != nil {
		topts = append(topts, otelhttp.WithTracerProvider(c.tp))
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(transport, topts...)
	c.http = &hc
	return c, nil
}

// Customer returns the customer id sent with calls.
func (c *Client) Customer() string { return c.customer }

type call struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   api.Encoder
	out    api.Decoder
}

// do performs the call and maps failures: transport errors, timeouts, 429
// and 5xx wrap remote.ErrUnavailable, other non-2xx replies become a
// *remote.RejectedError with the backend message.
func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath(cl.path)
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(api.Marshal(cl.body))
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	for k, vs := range cl.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.customer != "" {
		req.Header.Set(api.HeaderCustomerID, c.customer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(remote.ErrUnavailable, "%s %s: %v", cl.method, cl.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrapf(remote.ErrUnavailable, "read %s %s: %v", cl.method, cl.path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.lg.Warn("Backend unavailable",
			zap.String("path", cl.path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, errors.Wrapf(remote.ErrUnavailable, "%s %s: status %d", cl.method, cl.path, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr api.Error
		reason := http.StatusText(resp.StatusCode)
		if err := api.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			reason = apiErr.Message
		}
		return nil, &remote.RejectedError{Status: resp.StatusCode, Reason: reason}
	}

	if cl.out != nil {
		if err := api.Unmarshal(data, cl.out); err != nil {
			return nil, errors.Wrapf(err, "decode %s %s", cl.method, cl.path)
		}
	}
	return resp, nil
}
