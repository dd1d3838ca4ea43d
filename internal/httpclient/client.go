// Package httpclient provides HTTP client functionality for source fetch operations
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (50MB)
	MaxResponseSize = 50 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "calsync-server/1.0"

	// defaultMaxTries bounds transient retries for a single Get
	defaultMaxTries = 3
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation. Transient
// failures (network errors, 5xx, 429) are retried with exponential backoff;
// any other non-200 status is surfaced immediately as an *HTTPError.
type DefaultClient struct {
	client   *http.Client
	maxTries uint
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithHTTPClient replaces the underlying *http.Client. Used to inject an
// authenticated (e.g. oauth2) transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *DefaultClient) {
		c.client = hc
	}
}

// WithMaxTries sets the total attempt bound for transient failures
func WithMaxTries(n uint) Option {
	return func(c *DefaultClient) {
		c.maxTries = n
	}
}

// NewDefaultClient creates a new default HTTP client with the specified timeout.
// If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		maxTries: defaultMaxTries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		body, err := c.getOnce(ctx, url)
		if err != nil {
			if retryableStatus(StatusOf(err)) {
				return nil, err
			}
			if StatusOf(err) != 0 {
				return nil, backoff.Permanent(err)
			}
			// Network-level failure; let the caller's context bound the retries
			return nil, err
		}
		return body, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

func (c *DefaultClient) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// Use LimitReader to prevent reading more than MaxResponseSize;
	// +1 to detect if the limit was exceeded.
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// retryableStatus reports whether a status code indicates a transient condition
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}
