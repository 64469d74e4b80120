// Package postcodes provides a client for the free postcode-to-coordinate
// lookup API.
package postcodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

// Client defines the postcode lookup operations.
type Client interface {
	// Lookup resolves a postcode to a coordinate pair. Unknown postcodes
	// return faults.ErrNotFound, not a provider failure.
	Lookup(ctx context.Context, postcode string) (*Result, error)
}

// Result is the resolved postcode record.
type Result struct {
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Admin     string  `json:"admin_district"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a postcode lookup client. The upstream API is free and
// unauthenticated.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.postcodes.io",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Status int     `json:"status"`
	Error  string  `json:"error"`
	Result *Result `json:"result"`
}

func (c *httpClient) Lookup(ctx context.Context, postcode string) (*Result, error) {
	trimmed := strings.TrimSpace(postcode)
	if trimmed == "" {
		return nil, eris.Wrap(faults.ErrNotFound, "postcodes: empty postcode")
	}

	reqURL := c.baseURL + "/postcodes/" + url.PathEscape(trimmed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: read body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, eris.Wrapf(faults.ErrNotFound, "postcodes: %s", trimmed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &faults.UpstreamError{
			Provider: "postcodes",
			Code:     http.StatusText(resp.StatusCode),
			Message:  string(body),
		}
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "postcodes", Err: err}
	}
	if parsed.Result == nil {
		return nil, &faults.MalformedError{
			Provider: "postcodes",
			Err:      eris.New("missing result field"),
		}
	}
	return parsed.Result, nil
}
