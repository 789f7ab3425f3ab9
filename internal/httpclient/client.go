// Package httpclient provides the rate-limited HTTP client used by every
// regulatory source to fetch documents and feeds.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/regulens/platform/internal/regerrors"
	"github.com/regulens/platform/pkg/version"
)

var defaultUserAgent = version.UserAgent()

// Config controls timeouts, rate limiting and the outbound user agent.
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// DefaultConfig returns the client defaults: 30s timeout, no retries at
// this layer (retry policy belongs one layer up, in internal/sources).
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		UserAgent:         defaultUserAgent,
	}
}

// Response is the normalized result of a Get/Post call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Client is a rate-limited HTTP client with a default per-call deadline.
// It never retries; NetworkError/TimeoutError/ProtocolError classify
// every failure so callers can decide policy.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:        cfg,
	}
}

// Get issues a rate-limited GET with the supplied headers and the
// client's default timeout, unless ctx already carries a shorter deadline.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, headers)
}

// Post issues a rate-limited POST with the supplied body and headers.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, body, headers)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &regerrors.TimeoutError{URL: url, Timeout: c.cfg.Timeout.String()}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &regerrors.ProtocolError{URL: url, Detail: err.Error()}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &regerrors.TimeoutError{URL: url, Timeout: c.cfg.Timeout.String()}
		}
		return nil, &regerrors.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &regerrors.ProtocolError{URL: url, Status: resp.StatusCode, Detail: err.Error()}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header}, nil
}
