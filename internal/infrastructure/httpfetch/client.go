// Package httpfetch is the HTTP layer shared by catalog adapters and the
// artifact downloader. Responses are classified through the rate-limit guard
// and errors carry a domain.Outcome.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"PECorpus/internal/domain"
	"PECorpus/internal/ratelimit"
)

const (
	DefaultUserAgent = "PECorpus/1.0"
	DefaultMaxBytes  = 512 << 20
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Response is a fully read HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL string
}

// Client performs GET requests with per-call timeouts, bounded retries on
// connection errors and 5xx responses, and rate-limit classification.
type Client struct {
	http      *http.Client
	guard     ratelimit.Guard
	userAgent string
	headers   http.Header
	maxBytes  int64
	retries   uint64
	initial   time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithGuard sets the source's rate-limit classification.
func WithGuard(g ratelimit.Guard) Option {
	return func(c *Client) { c.guard = g }
}

// WithUserAgent replaces DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithMaxBytes caps response bodies.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithRetry sets the retry budget for transient failures.
func WithRetry(retries uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		if initial > 0 {
			c.initial = initial
		}
	}
}

// New builds a Client with two retries starting at one second.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		guard:     ratelimit.NewGuard(),
		userAgent: DefaultUserAgent,
		headers:   http.Header{},
		maxBytes:  DefaultMaxBytes,
		retries:   2,
		initial:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url within timeout. Non-2xx responses return an error whose
// outcome is RateLimited, Transient (5xx, network) or Permanent (404, other 4xx).
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	var result *Response

	op := func() error {
		resp, err := c.do(ctx, url, timeout)
		if err != nil {
			var classified *domain.OutcomeError
			if errors.As(err, &classified) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(domain.WithOutcome(domain.OutcomeTransient, err))
			}
			return domain.WithOutcome(domain.OutcomeTransient, err)
		}

		status := &StatusError{URL: url, Status: resp.Status}
		switch c.guard.ClassifyResponse(&http.Response{StatusCode: resp.Status, Header: resp.Header}) {
		case ratelimit.Success:
			result = resp
			return nil
		case ratelimit.RateLimited:
			return backoff.Permanent(domain.WithOutcome(domain.OutcomeRateLimited, status))
		case ratelimit.NotFound:
			return backoff.Permanent(domain.WithOutcome(domain.OutcomePermanent, status))
		}
		if resp.Status >= http.StatusInternalServerError {
			return domain.WithOutcome(domain.OutcomeTransient, status)
		}
		return backoff.Permanent(domain.WithOutcome(domain.OutcomePermanent, status))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	out := &Response{Status: resp.StatusCode, Header: resp.Header, FinalURL: url}
	if resp.Request != nil && resp.Request.URL != nil {
		out.FinalURL = resp.Request.URL.String()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, domain.WithOutcome(domain.OutcomePermanent,
			fmt.Errorf("GET %s: body exceeds %d bytes", url, c.maxBytes))
	}
	out.Body = body
	return out, nil
}
