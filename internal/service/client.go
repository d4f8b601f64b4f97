// Package service performs the outbound HTTP requests of service_call
// steps. Retries are not handled here: the step's on_error policy owns the
// retry budget so that attempts show up in the trace.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/corintai/corint/internal/ir"
	"github.com/corintai/corint/internal/logger"
	"github.com/corintai/corint/internal/runtime"
	"github.com/corintai/corint/internal/value"
)

// DefaultTimeout bounds calls whose step declares no timeout.
const DefaultTimeout = 5 * time.Second

// Client invokes service_call steps over HTTP.
type Client struct {
	http   *resty.Client
	logger logger.Logger
}

var _ runtime.ServiceInvoker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(lg logger.Logger) Option {
	return func(c *Client) { c.logger = lg }
}

// WithBaseURL prefixes relative call URLs.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.http.SetBaseURL(base) }
}

// NewClient builds an HTTP service client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:   resty.New().SetTimeout(DefaultTimeout),
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke performs one request and returns the decoded response body. The
// payload travels as a JSON body, or as query parameters for GET.
func (c *Client) Invoke(ctx context.Context, call *ir.ServiceCall, payload map[string]value.Value) (value.Value, error) {
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	req := c.http.R().SetContext(ctx)
	if call.Method == "GET" {
		for field, v := range payload {
			req.SetQueryParam(field, v.String())
		}
	} else {
		body := make(map[string]any, len(payload))
		for field, v := range payload {
			body[field] = v.Interface()
		}
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	started := time.Now()
	resp, err := req.Execute(call.Method, call.URL)
	if err != nil {
		return value.Null(), fmt.Errorf("service %q: %w", call.Name, err)
	}
	c.logger.Debug("service call finished",
		"service", call.Name, "status", resp.StatusCode(), "elapsed", time.Since(started))

	if resp.IsError() {
		return value.Null(), fmt.Errorf("service %q returned status %d", call.Name, resp.StatusCode())
	}
	return decodeBody(resp.Body()), nil
}

// decodeBody parses a JSON response into a value; non-JSON bodies surface
// as their raw string.
func decodeBody(body []byte) value.Value {
	if len(body) == 0 {
		return value.Null()
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return value.String(string(body))
	}
	return value.FromAny(decoded)
}
