// Package httpclient provides a retrying HTTP client for outbound calls
// to the search backend and model providers. Rate-limited responses are
// honored via Retry-After; server errors get a short conservative retry.
package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy classifies how a failed response should be retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	// ConservativeRetry performs at most two quick retries (5xx).
	ConservativeRetry
	// SmartRetry backs off according to rate-limit headers (429/503).
	SmartRetry
)

// Client wraps http.Client with retry handling.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// New creates a client with sane defaults (60s timeout, 3 retries).
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// strategyFor classifies a status code.
func strategyFor(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the response classification.
// The request must have GetBody set for retries to replay the body;
// http.NewRequest sets it for common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			// Transport-level errors get the conservative treatment.
			if attempt < c.maxRetries {
				if !c.sleep(req.Context(), time.Duration(attempt+1)*c.baseDelay) {
					return nil, req.Context().Err()
				}
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := strategyFor(resp.StatusCode)
		if strategy == NoRetry || attempt >= c.maxRetries {
			return resp, nil
		}

		delay := c.delayFor(strategy, attempt, resp)
		if delay <= 0 {
			return resp, nil
		}

		lastResp = resp
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		resp.Body.Close()

		slog.Debug("Retrying HTTP request",
			"url", req.URL.String(),
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		if !c.sleep(req.Context(), delay) {
			return nil, req.Context().Err()
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, &RetryableError{
		Message: fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
		Err:     lastErr,
	}
}

func (c *Client) delayFor(strategy RetryStrategy, attempt int, resp *http.Response) time.Duration {
	switch strategy {
	case SmartRetry:
		if ra := parseRetryAfter(resp.Header); ra > 0 {
			return ra
		}
		return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second
	default:
		return 0
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// parseRetryAfter reads a Retry-After header, seconds form only.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
