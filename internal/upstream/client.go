// Package upstream is the shared HTTP client used by internal/npiapi and
// internal/hcpcsapi: a retryablehttp client with a fixed retry policy
// (exponential backoff from 1s to 60s, Retry-After aware) gated by a
// single shared internal/rategate.Gate so that concurrent workers never
// collectively exceed the configured request rate.
package upstream

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"providerresolve/internal/rategate"
)

var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether status belongs to the 429/5xx set
// this client treats as transient rather than a terminal not_found/error.
func IsRetryableStatus(status int) bool {
	return retryableStatuses[status]
}

// Client wraps retryablehttp.Client with the rate gate and retry policy
// shared by every upstream identifier source.
type Client struct {
	http *retryablehttp.Client
	gate *rategate.Gate
}

// NewClient builds a Client with RetryMax=maxRetries, a 1s-60s exponential
// backoff window, and Retry-After support. When retries run out on a
// retryable status, Do returns that last response (not an error) so the
// caller can record its status. gate may be nil to disable rate limiting
// entirely.
func NewClient(gate *rategate.Gate, maxRetries int) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 60 * time.Second
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp == nil {
			return true, nil
		}
		return retryableStatuses[resp.StatusCode], nil
	}
	rc.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		if resp != nil {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				return d
			}
		}
		return retryablehttp.DefaultBackoff(min, max, attempt, resp)
	}
	rc.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if err != nil && resp != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, err
	}
	return &Client{http: rc, gate: gate}
}

// NewRequest builds a retryable request; body may be nil.
func (c *Client) NewRequest(method, url string, body interface{}) (*retryablehttp.Request, error) {
	return retryablehttp.NewRequest(method, url, body)
}

// Do waits for the next shared rate slot, then issues req with the
// client's retry policy applied.
func (c *Client) Do(ctx context.Context, req *retryablehttp.Request) (*http.Response, error) {
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.http.Do(req.WithContext(ctx))
}

// parseRetryAfter parses a Retry-After header expressed in integer
// seconds, the only form the NPPES and Clinical Tables APIs send.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// TruncateForLog caps text at 300 characters, matching the limit applied
// before an error message is written into a cache row.
func TruncateForLog(text string) string {
	trimmed := strings.TrimSpace(text)
	const maxLen = 300
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen] + "..."
}

// NewAPIRunID returns a fresh identifier tagging every response row
// written during one resolve invocation.
func NewAPIRunID() string {
	return "api-run-" + uuid.NewString()
}
