package scrapeext

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// ServiceOption configures the service client.
type ServiceOption func(*serviceClient)

// WithServiceHTTPClient sets a custom HTTP client.
func WithServiceHTTPClient(hc *http.Client) ServiceOption {
	return func(c *serviceClient) { c.http = hc }
}

type serviceClient struct {
	baseURL string
	http    *http.Client
}

// NewService returns a ListingScraper backed by the out-of-process scraper
// service. The DOM heuristics live in that service; this client only moves
// the request and maps its failure kinds.
func NewService(baseURL string, opts ...ServiceOption) ListingScraper {
	c := &serviceClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type scrapeResponse struct {
	Success bool           `json:"success"`
	Listing *model.Listing `json:"listing"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *serviceClient) Scrape(ctx context.Context, listingURL string) (*model.Listing, error) {
	if err := ValidateListingURL(listingURL); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(scrapeRequest{URL: listingURL})
	if err != nil {
		return nil, eris.Wrap(err, "scrape: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ScrapeError{Kind: FailNetwork, URL: listingURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ScrapeError{Kind: FailNetwork, URL: listingURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &faults.UpstreamError{
			Provider: "scraper",
			Code:     http.StatusText(resp.StatusCode),
			Message:  string(body),
		}
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "scraper", Err: err}
	}
	if !parsed.Success || parsed.Listing == nil {
		kind := FailParse
		message := "scrape failed"
		if parsed.Error != nil {
			message = parsed.Error.Message
			switch parsed.Error.Kind {
			case string(FailBlocked):
				kind = FailBlocked
			case string(FailNetwork):
				kind = FailNetwork
			}
		}
		return nil, &ScrapeError{Kind: kind, URL: listingURL, Err: eris.New(message)}
	}
	return parsed.Listing, nil
}
