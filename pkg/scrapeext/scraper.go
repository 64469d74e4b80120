// Package scrapeext declares the external-collaborator interfaces the
// orchestrator depends on. The DOM heuristics behind them live elsewhere;
// this package only fixes the contracts and the URL-shape validation that
// must happen before any network access.
package scrapeext

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/model"
)

// FailKind classifies a scrape failure.
type FailKind string

const (
	FailBlocked FailKind = "blocked"
	FailNetwork FailKind = "network"
	FailParse   FailKind = "parse"
)

// ScrapeError is a typed scrape failure.
type ScrapeError struct {
	Kind FailKind
	URL  string
	Err  error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// ListingScraper turns a provider listing URL into a populated base entity.
type ListingScraper interface {
	Scrape(ctx context.Context, listingURL string) (*model.Listing, error)
}

// ValidateListingURL rejects malformed listing URLs before any network
// access is attempted.
func ValidateListingURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return eris.Wrap(err, "invalid listing url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("invalid listing url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return eris.New("listing url missing host")
	}
	if u.Path == "" || u.Path == "/" {
		return eris.New("listing url missing property path")
	}
	return nil
}
