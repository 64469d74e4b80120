// Package landregistry provides a client for the government property
// registry: UPRN candidate searches, title lookups, and sold-price data.
// All calls go through the shared rate-limited client core; the registry
// enforces aggressive per-key throttling upstream.
package landregistry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/throttle"
)

// noTitleCode is the upstream error code meaning "this UPRN has no
// registered title" — an expected negative, not a failure.
const noTitleCode = "NO_TITLE"

// Client defines the registry operations used by the plot and market stages.
type Client interface {
	// SearchByAddress submits a full address string to the address-matching
	// endpoint. No candidates yields an empty slice.
	SearchByAddress(ctx context.Context, address string) ([]Candidate, error)

	// SearchByCoordinate returns candidates near a point, ordered by
	// provider-side relevance.
	SearchByCoordinate(ctx context.Context, lat, lng float64, radiusM int) ([]Candidate, error)

	// SearchByPostcode returns candidates with a strict postcode match.
	SearchByPostcode(ctx context.Context, postcode string) ([]Candidate, error)

	// TitleByUPRN resolves a candidate to its registry title. A UPRN with
	// no registered title returns faults.ErrNotFound.
	TitleByUPRN(ctx context.Context, uprn string) (*Title, error)

	// PricePaid returns recent sold prices for a street within an outcode.
	PricePaid(ctx context.Context, street, outcode string, limit int) ([]Sale, error)
}

// Candidate is one registry entry matched by a search.
type Candidate struct {
	UPRN    string `json:"uprn"`
	Address string `json:"address"`
	Number  string `json:"number"`
	Street  string `json:"street"`
}

// Title is a resolved registry title record.
type Title struct {
	TitleNumber string   `json:"title_number"`
	PlotAreaSqM *float64 `json:"plot_area_sqm"`
}

// Sale is one price-paid entry.
type Sale struct {
	Price   int    `json:"price"`
	Date    string `json:"date"`
	Address string `json:"address"`
}

// envelope is the registry's uniform response wrapper: either a success
// payload or an error code, never both.
type envelope struct {
	Status     string      `json:"status"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Candidates []Candidate `json:"candidates"`
	Title      *Title      `json:"title"`
	Sales      []Sale      `json:"sales"`
}

type client struct {
	core     *throttle.Client
	callOpts throttle.CallOpts
}

// Option configures the registry client.
type Option func(*client)

// WithMaxThrottleRetries sets how many times a throttled call re-enters the
// pacing queue before failing. 0 disables retries.
func WithMaxThrottleRetries(n int) Option {
	return func(c *client) { c.callOpts.MaxThrottleRetries = n }
}

// NewClient creates a registry client on top of a paced core. The core's
// provider name should be "landregistry" for coherent fault messages.
// Throttle retries default to the core's standard budget.
func NewClient(core *throttle.Client, opts ...Option) Client {
	c := &client{core: core, callOpts: throttle.DefaultCallOpts()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one paced request and unwraps the registry envelope.
func (c *client) call(ctx context.Context, path string, params url.Values) (*envelope, error) {
	body, err := c.core.Call(ctx, path, params, c.callOpts)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := throttle.DecodeJSON(c.core.Provider(), body, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		if env.ErrorCode == noTitleCode {
			return nil, eris.Wrapf(faults.ErrNotFound, "landregistry: %s", env.Message)
		}
		return nil, &faults.UpstreamError{
			Provider: c.core.Provider(),
			Code:     env.ErrorCode,
			Message:  env.Message,
		}
	}
	return &env, nil
}

func (c *client) SearchByAddress(ctx context.Context, address string) ([]Candidate, error) {
	env, err := c.call(ctx, "/v1/search/address", url.Values{"query": {address}})
	if err != nil {
		return nil, err
	}
	return env.Candidates, nil
}

func (c *client) SearchByCoordinate(ctx context.Context, lat, lng float64, radiusM int) ([]Candidate, error) {
	env, err := c.call(ctx, "/v1/search/point", url.Values{
		"lat":    {fmt.Sprintf("%f", lat)},
		"lng":    {fmt.Sprintf("%f", lng)},
		"radius": {strconv.Itoa(radiusM)},
	})
	if err != nil {
		return nil, err
	}
	return env.Candidates, nil
}

func (c *client) SearchByPostcode(ctx context.Context, postcode string) ([]Candidate, error) {
	env, err := c.call(ctx, "/v1/search/postcode", url.Values{"postcode": {postcode}})
	if err != nil {
		return nil, err
	}
	return env.Candidates, nil
}

func (c *client) TitleByUPRN(ctx context.Context, uprn string) (*Title, error) {
	env, err := c.call(ctx, "/v1/titles/"+url.PathEscape(uprn), nil)
	if err != nil {
		return nil, err
	}
	if env.Title == nil {
		return nil, &faults.MalformedError{
			Provider: c.core.Provider(),
			Err:      eris.New("success envelope missing title"),
		}
	}
	return env.Title, nil
}

func (c *client) PricePaid(ctx context.Context, street, outcode string, limit int) ([]Sale, error) {
	env, err := c.call(ctx, "/v1/price-paid", url.Values{
		"street":  {street},
		"outcode": {outcode},
		"limit":   {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}
	return env.Sales, nil
}
