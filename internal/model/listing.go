// Package model defines the domain types shared across the enrichment pipeline.
package model

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Key returns the coordinate rounded to 4 decimal places for cache keying.
// Callers must use this (and not ad hoc formatting) or hit rates degrade.
func (c Coordinate) Key() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lng)
}

// Address is the listing address sub-record. Every field is independently
// nullable: the primary scrape populates what it can and later stages
// back-fill the rest.
type Address struct {
	Display string  `json:"display,omitempty"`
	Street  *string `json:"street,omitempty"`
	Number  *string `json:"number,omitempty"`
	Outcode *string `json:"outcode,omitempty"`
	Incode  *string `json:"incode,omitempty"`
}

// Postcode returns the full postcode ("SW1A 1AA") or "" when either half
// is missing.
func (a Address) Postcode() string {
	if a.Outcode == nil || a.Incode == nil {
		return ""
	}
	return *a.Outcode + " " + *a.Incode
}

// EnergyRating holds current/potential letter grades A-G.
type EnergyRating struct {
	Current   *string `json:"current,omitempty"`
	Potential *string `json:"potential,omitempty"`
	Graphic   *string `json:"graphic,omitempty"`
}

// StationVisit is one nearby station with its travel metrics and line
// metadata. TravelMinutes and DistanceMeters stay nil until the distance
// matrix stage resolves a route.
type StationVisit struct {
	Name           string   `json:"name"`
	Lines          []string `json:"lines,omitempty"`
	TravelMinutes  *int     `json:"travel_minutes,omitempty"`
	DistanceMeters *int     `json:"distance_meters,omitempty"`
}

// Strategy labels how a plot/registry match was found. The tag is
// semantically meaningful downstream: approximate matches are flagged in
// the UI, so it must survive end-to-end.
type Strategy string

const (
	// StrategyAddressMatch is the high-confidence label: a direct address
	// match, or an exact door-number+street hit inside a candidate search.
	StrategyAddressMatch Strategy = "address-match"
	// StrategyCoordinateNearby is a candidate found by coordinate radius.
	StrategyCoordinateNearby Strategy = "coordinate-nearby"
	// StrategyPostcodeNearby is a candidate found by postal-area search.
	StrategyPostcodeNearby Strategy = "postcode-nearby"
)

// PlotResult is the secondary-entity resolution value object. A fully-null
// PlotResult (AreaSqM == nil) means every cascade avenue was exhausted.
type PlotResult struct {
	AreaSqM        *float64 `json:"area_sqm,omitempty"`
	UPRN           string   `json:"uprn,omitempty"`
	TitleNumber    string   `json:"title_number,omitempty"`
	MatchedAddress string   `json:"matched_address,omitempty"`
	Strategy       Strategy `json:"strategy,omitempty"`
}

// Resolved reports whether the cascade produced a usable value.
func (p PlotResult) Resolved() bool { return p.AreaSqM != nil }

// PriceBand classifies the listing price against local sold prices.
type PriceBand string

const (
	BandUnder PriceBand = "under"
	BandFair  PriceBand = "fair"
	BandOver  PriceBand = "over"
)

// MarketSummary aggregates recent sold prices near the listing.
type MarketSummary struct {
	AveragePrice *int      `json:"average_price,omitempty"`
	SampleSize   int       `json:"sample_size"`
	MarginPct    *float64  `json:"margin_pct,omitempty"`
	Band         PriceBand `json:"band,omitempty"`
}

// Listing is the primary entity. It is created by the listing scrape and
// mutated in place by enrichment stages as they complete; persistence is
// whole-record upsert, so callers read-merge-rewrite.
type Listing struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Price     *int     `json:"price,omitempty"`
	Bedrooms  *int     `json:"bedrooms,omitempty"`
	Bathrooms *int     `json:"bathrooms,omitempty"`
	SizeSqFt  *float64 `json:"size_sqft,omitempty"`
	Category  string   `json:"category,omitempty"`

	Address Address       `json:"address"`
	Energy  *EnergyRating `json:"energy,omitempty"`

	Coordinate *Coordinate `json:"coordinate,omitempty"`

	NearestRail        []StationVisit `json:"nearest_rail,omitempty"`
	NearestUnderground []StationVisit `json:"nearest_underground,omitempty"`

	Plot    *PlotResult    `json:"plot,omitempty"`
	Market  *MarketSummary `json:"market,omitempty"`
	Schools *SchoolsResult `json:"schools,omitempty"`
	Summary *string        `json:"summary,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
