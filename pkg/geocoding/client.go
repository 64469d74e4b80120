// Package geocoding provides a client for a Google-style geocoding,
// places, and distance-matrix API.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/doorstep-labs/doorstep/internal/faults"
)

// Client defines the geocoding operations used by the pipeline.
type Client interface {
	// ReverseGeocode resolves a coordinate to address components.
	// Coordinates with no result return faults.ErrNotFound.
	ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error)

	// NearbySearch returns places of the given type ranked by distance
	// from the query point. A legitimately-empty area yields an empty
	// slice, never an error.
	NearbySearch(ctx context.Context, lat, lng float64, placeType string, limit int) ([]Place, error)

	// TravelMetrics resolves walking distance/duration from origin to each
	// destination. Destinations without a usable route are omitted from
	// the returned map, keyed by destination name.
	TravelMetrics(ctx context.Context, origin Location, dests []Place) (map[string]Metric, error)
}

// Location is a latitude/longitude pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReverseResult is the structured reverse-geocode output.
type ReverseResult struct {
	FormattedAddress string
	StreetNumber     string
	Route            string
	Postcode         string
}

// Place is one nearby point of interest.
type Place struct {
	Name     string
	Location Location
}

// Metric is a travel distance/duration for one destination.
type Metric struct {
	DistanceMeters  int
	DistanceText    string
	DurationSeconds int
	DurationText    string
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

// WithRateLimit sets the requests-per-second limit shared by all three
// endpoint families.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a geocoding client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://maps.googleapis.com/maps/api",
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(10, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs one authenticated GET and returns the raw body.
func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, eris.Wrap(faults.ErrNoCredentials, "geocoding")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocoding: rate limit")
	}

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocoding: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocoding: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocoding: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &faults.UpstreamError{
			Provider: "geocoding",
			Code:     http.StatusText(resp.StatusCode),
			Message:  string(body),
		}
	}
	return body, nil
}

// statusErr maps the envelope status into the fault taxonomy. ZERO_RESULTS
// is handled by each caller, not here.
func statusErr(status, detail string) error {
	return &faults.UpstreamError{Provider: "geocoding", Code: status, Message: detail}
}

type reverseResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

func (c *httpClient) ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	body, err := c.get(ctx, "/geocode/json", url.Values{
		"latlng": {fmt.Sprintf("%f,%f", lat, lng)},
	})
	if err != nil {
		return nil, err
	}

	var parsed reverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "geocoding", Err: err}
	}
	switch parsed.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, eris.Wrap(faults.ErrNotFound, "geocoding: reverse")
	default:
		return nil, statusErr(parsed.Status, parsed.ErrorMessage)
	}
	if len(parsed.Results) == 0 {
		return nil, eris.Wrap(faults.ErrNotFound, "geocoding: reverse")
	}

	first := parsed.Results[0]
	out := &ReverseResult{FormattedAddress: first.FormattedAddress}
	var premise string
	for _, comp := range first.AddressComponents {
		for _, typ := range comp.Types {
			switch typ {
			case "street_number":
				out.StreetNumber = comp.LongName
			case "premise":
				premise = comp.LongName
			case "route":
				out.Route = comp.LongName
			case "postal_code":
				out.Postcode = comp.LongName
			}
		}
	}
	// A named building may carry the door identity when no street number
	// component exists.
	if out.StreetNumber == "" && premise != "" {
		out.StreetNumber = premise
	}
	return out, nil
}

type nearbyResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Name     string `json:"name"`
		Geometry struct {
			Location Location `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

func (c *httpClient) NearbySearch(ctx context.Context, lat, lng float64, placeType string, limit int) ([]Place, error) {
	body, err := c.get(ctx, "/place/nearbysearch/json", url.Values{
		"location": {fmt.Sprintf("%f,%f", lat, lng)},
		"rankby":   {"distance"},
		"type":     {placeType},
	})
	if err != nil {
		return nil, err
	}

	var parsed nearbyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "geocoding", Err: err}
	}
	switch parsed.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []Place{}, nil
	default:
		return nil, statusErr(parsed.Status, parsed.ErrorMessage)
	}

	places := make([]Place, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		places = append(places, Place{Name: r.Name, Location: r.Geometry.Location})
		if limit > 0 && len(places) >= limit {
			break
		}
	}
	return places, nil
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Text  string `json:"text"`
				Value int    `json:"value"`
			} `json:"distance"`
			Duration struct {
				Text  string `json:"text"`
				Value int    `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
	ErrorMessage string `json:"error_message"`
}

func (c *httpClient) TravelMetrics(ctx context.Context, origin Location, dests []Place) (map[string]Metric, error) {
	if len(dests) == 0 {
		return map[string]Metric{}, nil
	}

	destParts := make([]string, len(dests))
	for i, d := range dests {
		destParts[i] = fmt.Sprintf("%f,%f", d.Location.Lat, d.Location.Lng)
	}

	body, err := c.get(ctx, "/distancematrix/json", url.Values{
		"origins":      {fmt.Sprintf("%f,%f", origin.Lat, origin.Lng)},
		"destinations": {strings.Join(destParts, "|")},
		"mode":         {"walking"},
	})
	if err != nil {
		return nil, err
	}

	var parsed matrixResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &faults.MalformedError{Provider: "geocoding", Err: err}
	}
	if parsed.Status != "OK" {
		return nil, statusErr(parsed.Status, parsed.ErrorMessage)
	}
	if len(parsed.Rows) == 0 || len(parsed.Rows[0].Elements) != len(dests) {
		return nil, &faults.MalformedError{
			Provider: "geocoding",
			Err:      eris.Errorf("matrix shape mismatch: want %d elements", len(dests)),
		}
	}

	// Elements align positionally with destinations; unroutable ones are
	// silently dropped rather than failing the whole matrix.
	out := make(map[string]Metric, len(dests))
	for i, el := range parsed.Rows[0].Elements {
		if el.Status != "OK" {
			continue
		}
		out[dests[i].Name] = Metric{
			DistanceMeters:  el.Distance.Value,
			DistanceText:    el.Distance.Text,
			DurationSeconds: el.Duration.Value,
			DurationText:    el.Duration.Text,
		}
	}
	return out, nil
}
