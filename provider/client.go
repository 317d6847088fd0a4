package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client is the shared HTTP plumbing for REST adapters: a pooled
// http.Client, a token-bucket rate limiter, and classification of transport
// failures into the adapter error taxonomy.
type Client struct {
	HTTP      *http.Client
	Limiter   *rate.Limiter
	UserAgent string
}

// NewClient builds a Client with a bounded timeout and a per-minute rate
// limit. rpm <= 0 disables rate limiting.
func NewClient(timeout time.Duration, rpm, burst int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if rpm > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}

	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		Limiter:   limiter,
		UserAgent: "cryptolens/1.0",
	}
}

// GetJSON performs a rate-limited GET and decodes the body into out.
// Failures are always returned as *Error.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return NewTimeoutError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewMalformedError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return ClassifyHTTPStatus(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewMalformedError(fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewTimeoutError(err)
	}
	if errors.Is(err, context.Canceled) {
		return NewTimeoutError(err)
	}
	return &Error{Kind: ErrorKindHTTP, Retryable: true, Message: "transport error", Cause: err}
}
