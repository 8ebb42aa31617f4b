// Package platform is a fasthttp client for the Lichess Bot API.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
)

// DialFunc opens a raw connection to addr.
type DialFunc func(addr string) (net.Conn, error)

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	dial    DialFunc
	caller  *resilience.Caller

	defaultTimeout    time.Duration
	streamReadTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithStreamReadTimeout bounds how long an NDJSON stream may stay open;
// the reconnect loop reopens it afterwards.
func WithStreamReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.streamReadTimeout = d }
}

func WithDial(d DialFunc) Option {
	return func(c *Client) {
		c.dial = d
		c.http.Dial = fasthttp.DialFunc(d)
	}
}

// WithCaller routes every request method through the given retry layer.
func WithCaller(rc *resilience.Caller) Option {
	return func(c *Client) { c.caller = rc }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(token),
		http:              &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 16},
		dial:              fasthttp.Dial,
		defaultTimeout:    15 * time.Second,
		streamReadTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.caller == nil {
		c.caller = resilience.NewCaller()
	}
	return c
}

// call runs one request through the retry layer.
func (c *Client) call(ctx context.Context, desc string, fn func(ctx context.Context) error) error {
	return c.caller.Do(ctx, desc, fn)
}

func (c *Client) authorize(req *fasthttp.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON performs a single attempt. form, when non-nil, is sent
// url-encoded; out, when non-nil, receives the decoded JSON body.
func (c *Client) doJSON(ctx context.Context, method, path string, form *fasthttp.Args, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	if form != nil {
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBody(form.QueryString())
	}

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return &APIError{
			Status: status,
			Body:   truncate(string(resp.Body()), 512),
			Wait:   parseRetryAfter(string(resp.Header.Peek("Retry-After")), time.Now()),
		}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}
