// Package httpclient provides a throttled HTTP client for external web
// services that enforce request-rate etiquette, such as MusicBrainz.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/soundspan/soundspan/internal/constants"
)

// Client spaces outbound requests by a minimum interval and retries
// transient upstream rejections with a linear backoff. A Retry-After
// header pushes the whole request window forward, not just the retry.
type Client struct {
	base *http.Client

	retries   int
	retryBase time.Duration

	mu          sync.Mutex
	minInterval time.Duration
	nextAllowed time.Time
}

// New returns a Client with the given per-request timeout and minimum
// spacing between requests.
func New(timeout, minInterval time.Duration) *Client {
	return &Client{
		base: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		retries:     constants.DefaultRetryCount,
		retryBase:   constants.DefaultRetryBase,
		minInterval: minInterval,
	}
}

// WithRetryPolicy overrides the retry count and backoff base. It returns
// the receiver for chaining at construction time.
func (c *Client) WithRetryPolicy(retries int, base time.Duration) *Client {
	c.retries = retries
	c.retryBase = base
	return c
}

// Do executes the request, waiting for a free rate-limit slot first.
// 429 and 503 responses are consumed and retried; other responses are
// returned to the caller unread.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		resp, err := c.base.Do(req)
		if err == nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}

		wait := time.Duration(attempt+1) * c.retryBase
		if err != nil {
			lastErr = err
		} else {
			after := retryAfter(resp)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)
			if after > wait {
				wait = after
			}
			if after > 0 {
				c.deferUntil(time.Now().Add(after))
			}
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// throttle claims the next request slot and blocks until it opens.
func (c *Client) throttle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if now.Before(c.nextAllowed) {
		wait = c.nextAllowed.Sub(now)
		c.nextAllowed = c.nextAllowed.Add(c.minInterval)
	} else {
		c.nextAllowed = now.Add(c.minInterval)
	}
	c.mu.Unlock()

	if wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

// deferUntil pushes the next allowed request out to t if t is later.
func (c *Client) deferUntil(t time.Time) {
	c.mu.Lock()
	if c.nextAllowed.Before(t) {
		c.nextAllowed = t
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter reads a Retry-After header as either seconds or an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
