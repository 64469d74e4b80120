// Package geo resolves listing locations: postcode to coordinate, and
// coordinate back to door-level address components. It is the only stage
// that touches both the postcode provider and the reverse geocoder.
package geo

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/geocoding"
	"github.com/doorstep-labs/doorstep/pkg/postcodes"
)

// Resolver back-fills coordinates and address components on a listing.
type Resolver struct {
	postcodes postcodes.Client
	geocoder  geocoding.Client
	lookups   *cache.Cache
}

// NewResolver wires the two location providers with the shared lookup cache.
func NewResolver(pc postcodes.Client, gc geocoding.Client, lookups *cache.Cache) *Resolver {
	return &Resolver{postcodes: pc, geocoder: gc, lookups: lookups}
}

// ResolveCoordinate turns a postcode into a coordinate, cached. Unknown
// postcodes return faults.ErrNotFound.
func (r *Resolver) ResolveCoordinate(ctx context.Context, postcode string) (*model.Coordinate, error) {
	key := cache.Key("postcode", cache.PostcodePart(postcode))
	if v, ok := r.lookups.Get(key); ok {
		coord := v.(model.Coordinate)
		return &coord, nil
	}

	res, err := r.postcodes.Lookup(ctx, postcode)
	if err != nil {
		return nil, err
	}
	coord := model.Coordinate{Lat: res.Latitude, Lng: res.Longitude}
	r.lookups.Set(key, coord)
	return &coord, nil
}

// ReverseResolve turns a coordinate into address components, cached.
func (r *Resolver) ReverseResolve(ctx context.Context, coord model.Coordinate) (*geocoding.ReverseResult, error) {
	key := cache.Key("reverse", coord.Key())
	if v, ok := r.lookups.Get(key); ok {
		res := v.(geocoding.ReverseResult)
		return &res, nil
	}

	res, err := r.geocoder.ReverseGeocode(ctx, coord.Lat, coord.Lng)
	if err != nil {
		return nil, err
	}
	r.lookups.Set(key, *res)
	return res, nil
}

// EnrichLocation back-fills the listing's coordinate and door number in two
// ordered steps:
//
//  1. Coordinate: when missing and a full postcode is known, resolve via
//     the postcode provider. When the scrape already captured a coordinate
//     this step is skipped entirely.
//  2. Door number: fires only when a coordinate exists AND the door number
//     is still null. A listing with a scraped door number never triggers a
//     reverse-geocode call.
//
// Negative lookups (unknown postcode, no reverse result) are legitimate
// outcomes and leave the fields null without error. Provider failures are
// returned for the orchestrator to record.
func (r *Resolver) EnrichLocation(ctx context.Context, l *model.Listing) error {
	if l.Coordinate == nil {
		if pc := l.Address.Postcode(); pc != "" {
			coord, err := r.ResolveCoordinate(ctx, pc)
			switch {
			case faults.IsNotFound(err):
				zap.L().Debug("geo: postcode not found", zap.String("postcode", pc))
			case err != nil:
				return eris.Wrap(err, "geo: resolve coordinate")
			default:
				l.Coordinate = coord
			}
		}
	}

	if l.Coordinate == nil || l.Address.Number != nil {
		return nil
	}

	rev, err := r.ReverseResolve(ctx, *l.Coordinate)
	switch {
	case faults.IsNotFound(err):
		zap.L().Debug("geo: no reverse result", zap.String("coord", l.Coordinate.Key()))
		return nil
	case err != nil:
		return eris.Wrap(err, "geo: reverse resolve")
	}

	if rev.StreetNumber != "" {
		n := rev.StreetNumber
		l.Address.Number = &n
	}
	if l.Address.Street == nil && rev.Route != "" {
		s := TitleCaseStreet(rev.Route)
		l.Address.Street = &s
	}
	if l.Address.Outcode == nil || l.Address.Incode == nil {
		if out, in, ok := SplitPostcode(rev.Postcode); ok {
			l.Address.Outcode, l.Address.Incode = &out, &in
		}
	}
	return nil
}
