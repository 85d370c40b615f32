// Package gateway is the HTTP client for middleware hosts. Every request is
// authenticated with a freshly minted Care_Bearer token and never retried.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ohcnetwork/care-sub000/internal/platform/metrics"
)

const (
	// MutationTimeout bounds config sync calls and operator actions.
	MutationTimeout = 25 * time.Second
	// ProbeTimeout bounds availability probes.
	ProbeTimeout = 10 * time.Second

	AuthScheme = "Care_Bearer"
)

// TokenSigner mints the bearer token attached to each request.
type TokenSigner interface {
	Sign(extra map[string]interface{}) (string, error)
}

// Request describes one call to a middleware host.
type Request struct {
	Method string
	Host   string
	Path   string
	// Body is sent as JSON, or as query parameters for GET.
	Body interface{}
	// Probe selects the probe deadline instead of the mutation deadline.
	Probe  bool
	Claims map[string]interface{}
}

// Response is the outcome of a call. A non-empty Error means the call failed
// in transport or the body could not be decoded; StatusCode is then the
// upstream status if one was received, else 0.
type Response struct {
	StatusCode int
	Body       json.RawMessage
	Error      string
}

// OK reports a decoded 2xx response.
func (r *Response) OK() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Payload renders the response body, or {"error": reason} when the call failed.
func (r *Response) Payload() json.RawMessage {
	if r.Error != "" {
		raw, _ := json.Marshal(map[string]string{"error": r.Error})
		return raw
	}
	if len(r.Body) == 0 {
		return json.RawMessage("null")
	}
	return r.Body
}

// Decode unmarshals a successful body into v.
func (r *Response) Decode(v interface{}) error {
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return json.Unmarshal(r.Payload(), v)
}

// Caller is implemented by Client and by test doubles.
type Caller interface {
	Call(ctx context.Context, req Request) *Response
}

type Client struct {
	http            *resty.Client
	signer          TokenSigner
	logger          zerolog.Logger
	scheme          string
	mutationTimeout time.Duration
	probeTimeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeouts overrides the mutation and probe deadlines.
func WithTimeouts(mutation, probe time.Duration) Option {
	return func(c *Client) {
		c.mutationTimeout = mutation
		c.probeTimeout = probe
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = resty.NewWithClient(h) }
}

// WithScheme replaces https. Only tests talking to plain httptest servers
// use it.
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

func NewClient(signer TokenSigner, opts ...Option) *Client {
	c := &Client{
		http:            resty.New(),
		signer:          signer,
		logger:          zerolog.Nop(),
		scheme:          "https",
		mutationTimeout: MutationTimeout,
		probeTimeout:    ProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return c
}

// StatusBudget is the deadline a Probe request gets.
func (c *Client) StatusBudget() time.Duration { return c.probeTimeout }

// StatusBudget returns the probe deadline of caller, ProbeTimeout when it
// does not report one.
func StatusBudget(caller Caller) time.Duration {
	if b, ok := caller.(interface{ StatusBudget() time.Duration }); ok && b.StatusBudget() > 0 {
		return b.StatusBudget()
	}
	return ProbeTimeout
}

// URL returns the absolute URL of path on host.
func (c *Client) URL(host, path string) string {
	return fmt.Sprintf("%s://%s/%s", c.scheme, host, strings.TrimPrefix(path, "/"))
}

// Call performs req. It never returns nil and never panics on upstream
// failure.
func (c *Client) Call(ctx context.Context, req Request) *Response {
	timeout := c.mutationTimeout
	if req.Probe {
		timeout = c.probeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp := c.do(ctx, req)
	metrics.ObserveMiddlewareCall(req.Method, resp.StatusCode, time.Since(start))

	evt := c.logger.Debug()
	if resp.Error != "" {
		evt = c.logger.Warn().Str("error", resp.Error)
	}
	evt.Str("host", req.Host).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("middleware call")
	return resp
}

func (c *Client) do(ctx context.Context, req Request) *Response {
	token, err := c.signer.Sign(req.Claims)
	if err != nil {
		return &Response{Error: err.Error()}
	}

	r := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", AuthScheme+" "+token)
	if req.Body != nil {
		if req.Method == http.MethodGet {
			params, err := queryParams(req.Body)
			if err != nil {
				return &Response{Error: err.Error()}
			}
			r.SetQueryParams(params)
		} else {
			r.SetBody(req.Body)
		}
	}

	resp, err := r.Execute(req.Method, c.URL(req.Host, req.Path))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Response{Error: "middleware request timed out"}
		}
		return &Response{Error: err.Error()}
	}

	out := &Response{StatusCode: resp.StatusCode()}
	raw := resp.Body()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out
	}
	if !json.Valid(raw) {
		out.Error = fmt.Sprintf("invalid JSON response (status %d)", resp.StatusCode())
		return out
	}
	out.Body = json.RawMessage(raw)
	return out
}

func queryParams(body interface{}) (map[string]string, error) {
	switch v := body.(type) {
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, fmt.Errorf("GET payload must be a string map, got %T", body)
}
