// Package request provides the retrying JSON-over-HTTP client shared by
// every external API call.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/synkro/synkro/internal/resilience"
)

const bodySnippetLimit = 500

// APIError is returned when an upstream responds with a non-2xx status.
// For retriable statuses it is surfaced only after retries are exhausted.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client performs JSON requests with linear-backoff retries on transient
// failures and an optional rate limiter. The zero value is not usable;
// construct with New.
type Client struct {
	http      *http.Client
	retry     resilience.RetryConfig
	limiter   *rate.Limiter
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom *http.Client. Callers own timeout values.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the retry configuration (attempt cap, backoff).
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRateLimit throttles outgoing requests to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithUserAgent sets the User-Agent header for all requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a request client with the shared default retry policy.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:     resilience.DefaultRetryConfig(),
		userAgent: "synkro/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DoJSON performs an HTTP request with a JSON body (body may be nil) and
// decodes the JSON response into out (out may be nil to discard the body).
// Network errors and HTTP 408/425/429/500/502/503/504 are retried up to the
// configured attempt cap; other HTTP errors and malformed response bodies
// fail immediately.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "request: marshal body")
		}
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("http", method+" "+url)
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.attempt(ctx, method, url, headers, payload, out)
	})
}

func (c *Client) attempt(ctx context.Context, method, url string, headers map[string]string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "request: rate limit wait")
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return eris.Wrap(err, "request: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network-level failures are classified by resilience.IsTransient.
		return eris.Wrap(err, "request: execute")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "request: read body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: snippet(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "request: parse response")
	}
	return nil
}

func snippet(data []byte) string {
	if len(data) > bodySnippetLimit {
		return string(data[:bodySnippetLimit])
	}
	return string(data)
}
