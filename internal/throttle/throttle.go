// Package throttle implements the rate-limited client core. One Client
// exists per external provider; all outbound calls to that provider go
// through a single pacing queue so that no two dispatches start less than
// the configured minimum gap apart, no matter how many logical requests
// are in flight.
package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

// CallOpts bound a single logical call.
type CallOpts struct {
	// Timeout is the wall-clock budget for the call, queue wait included.
	Timeout time.Duration
	// MaxThrottleRetries caps re-entries into the queue after a throttle
	// signal. 0 means no retries.
	MaxThrottleRetries int
}

// DefaultCallOpts returns the defaults used when a field is zero.
func DefaultCallOpts() CallOpts {
	return CallOpts{Timeout: 10 * time.Second, MaxThrottleRetries: 2}
}

// Client serializes calls to one provider with a minimum inter-call gap.
// The pacing state is deliberately shared process-wide: concurrent callers
// interleave through the same gap discipline, FIFO per provider.
type Client struct {
	provider       string
	baseURL        string
	apiKey         string
	authHeader     string
	requireKey     bool
	limiter        *rate.Limiter
	http           *http.Client
	throttleStatus int
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer credential. When require is true, calls fail
// with faults.ErrNoCredentials before any network I/O if the key is empty.
func WithAPIKey(key string, require bool) Option {
	return func(c *Client) {
		c.apiKey = key
		c.requireKey = require
	}
}

// WithAuthHeader overrides the header carrying the credential.
func WithAuthHeader(name string) Option {
	return func(c *Client) { c.authHeader = name }
}

// WithMinGap sets the minimum interval between consecutive dispatches.
func WithMinGap(gap time.Duration) Option {
	return func(c *Client) {
		if gap > 0 {
			c.limiter = rate.NewLimiter(rate.Every(gap), 1)
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithThrottleStatus overrides the HTTP status treated as the provider's
// throttle signal.
func WithThrottleStatus(status int) Option {
	return func(c *Client) { c.throttleStatus = status }
}

// NewClient creates a paced client for one provider.
func NewClient(provider, baseURL string, opts ...Option) *Client {
	c := &Client{
		provider:       provider,
		baseURL:        baseURL,
		authHeader:     "Authorization",
		limiter:        rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		http:           &http.Client{Timeout: 30 * time.Second},
		throttleStatus: http.StatusTooManyRequests,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name used in fault messages.
func (c *Client) Provider() string { return c.provider }

// Call performs a paced GET against path with query params and returns the
// raw JSON body. Throttle signals re-enter the queue up to
// MaxThrottleRetries; timeouts surface as faults.TimeoutError and are left
// to the caller.
func (c *Client) Call(ctx context.Context, path string, params url.Values, opts CallOpts) ([]byte, error) {
	if c.requireKey && c.apiKey == "" {
		return nil, eris.Wrapf(faults.ErrNoCredentials, "%s", c.provider)
	}

	def := DefaultCallOpts()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxThrottleRetries < 0 {
		opts.MaxThrottleRetries = 0
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	attempts := opts.MaxThrottleRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		body, status, err := c.dispatch(callCtx, path, params)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &faults.TimeoutError{Provider: c.provider, Op: path, Err: err}
			}
			return nil, err
		}

		if status == c.throttleStatus {
			zap.L().Debug("throttle: provider throttled, re-queueing",
				zap.String("provider", c.provider),
				zap.String("path", path),
				zap.Int("attempt", attempt),
			)
			continue
		}

		if status < 200 || status >= 300 {
			return nil, &faults.UpstreamError{
				Provider: c.provider,
				Code:     http.StatusText(status),
				Message:  string(body),
			}
		}

		if !json.Valid(body) {
			return nil, &faults.MalformedError{
				Provider: c.provider,
				Err:      eris.Errorf("non-JSON body (%d bytes)", len(body)),
			}
		}
		return body, nil
	}

	return nil, &faults.ThrottledError{Provider: c.provider, Attempts: attempts}
}

// dispatch waits for a pacing slot, then executes one request. The wait
// suspends only the calling task; unrelated work keeps progressing.
func (c *Client) dispatch(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "%s: build request", c.provider)
	}
	if c.apiKey != "" {
		value := c.apiKey
		if c.authHeader == "Authorization" {
			value = "Bearer " + c.apiKey
		}
		req.Header.Set(c.authHeader, value)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "%s: request", c.provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrapf(err, "%s: read body", c.provider)
	}
	return body, resp.StatusCode, nil
}

// DecodeJSON unmarshals a body into v, converting decode failures into the
// malformed-response fault kind.
func DecodeJSON(provider string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &faults.MalformedError{Provider: provider, Err: err}
	}
	return nil
}
