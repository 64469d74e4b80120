// Package transit provides a client for the transit-authority API used to
// resolve which lines and operators serve a station.
package transit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

// Client defines the stop search and detail operations.
type Client interface {
	// SearchStops finds stops by name. No matches yields an empty slice.
	SearchStops(ctx context.Context, name string) ([]StopMatch, error)

	// StopDetails returns the lines serving a stop id.
	StopDetails(ctx context.Context, id string) (*StopDetail, error)
}

// StopMatch is one search hit.
type StopMatch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StopDetail lists the lines and modes at a stop.
type StopDetail struct {
	ID    string   `json:"id"`
	Name  string   `json:"commonName"`
	Lines []string `json:"lines"`
	Modes []string `json:"modes"`
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
	appKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a transit client. The app key is optional; anonymous
// access gets a lower upstream quota.
func NewClient(appKey string, opts ...Option) Client {
	c := &httpClient{
		appKey:  appKey,
		baseURL: "https://api.tfl.gov.uk",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.appKey != "" {
		params.Set("app_key", c.appKey)
	}
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "transit: build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "transit: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "transit: read body")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, eris.Wrap(faults.ErrNotFound, "transit")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &faults.UpstreamError{
			Provider: "transit",
			Code:     http.StatusText(resp.StatusCode),
			Message:  string(body),
		}
	}
	return body, nil
}

type searchResponse struct {
	Matches []StopMatch `json:"matches"`
}

func (c *httpClient) SearchStops(ctx context.Context, name string) ([]StopMatch, error) {
	body, err := c.get(ctx, "/StopPoint/Search/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "transit", Err: err}
	}
	if parsed.Matches == nil {
		return []StopMatch{}, nil
	}
	return parsed.Matches, nil
}

type detailResponse struct {
	ID    string `json:"id"`
	Name  string `json:"commonName"`
	Lines []struct {
		Name string `json:"name"`
	} `json:"lines"`
	Modes []string `json:"modes"`
}

func (c *httpClient) StopDetails(ctx context.Context, id string) (*StopDetail, error) {
	body, err := c.get(ctx, "/StopPoint/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var parsed detailResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "transit", Err: err}
	}

	detail := &StopDetail{ID: parsed.ID, Name: parsed.Name, Modes: parsed.Modes}
	for _, l := range parsed.Lines {
		detail.Lines = append(detail.Lines, l.Name)
	}
	return detail, nil
}
