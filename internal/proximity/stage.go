// Package proximity finds the nearest stations to a listing and enriches
// each with walking metrics and line/operator metadata.
package proximity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/geocoding"
	"github.com/doorstep-labs/doorstep/pkg/transit"
)

// Category selects which transit class a search targets. The place type is
// what goes to the places provider; rail additionally unlocks the operator
// heuristics tier.
type Category string

const (
	CategoryRail        Category = "train_station"
	CategoryUnderground Category = "subway_station"
)

// overFetchFactor compensates for dedupe shrinkage: the provider frequently
// returns the same physical station under two entries.
const overFetchFactor = 2

// Stage is the proximity enrichment stage.
type Stage struct {
	geocoder geocoding.Client
	transit  transit.Client
	lines    *LineTable
	derived  *cache.Cache
}

// NewStage wires the stage with the derived-results cache.
func NewStage(gc geocoding.Client, tc transit.Client, lines *LineTable, derived *cache.Cache) *Stage {
	return &Stage{geocoder: gc, transit: tc, lines: lines, derived: derived}
}

// FindNearby returns up to count places of the category nearest the point,
// deduplicated by exact name. A provider failure returns nil with the error;
// a legitimately-empty area returns an empty slice. Callers must keep the
// two apart.
func (s *Stage) FindNearby(ctx context.Context, lat, lng float64, category Category, count int) ([]geocoding.Place, error) {
	raw, err := s.geocoder.NearbySearch(ctx, lat, lng, string(category), count*overFetchFactor)
	if err != nil {
		return nil, err
	}

	// Dedupe by exact name before the count limit so duplicates never
	// consume result slots.
	seen := make(map[string]bool, len(raw))
	out := make([]geocoding.Place, 0, count)
	for _, p := range raw {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

// Stations resolves the count nearest stations with walking metrics and
// line metadata. Metric and line failures degrade per-station; only the
// initial nearby search can fail the stage.
func (s *Stage) Stations(ctx context.Context, origin model.Coordinate, category Category, count int) ([]model.StationVisit, error) {
	places, err := s.FindNearby(ctx, origin.Lat, origin.Lng, category, count)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return []model.StationVisit{}, nil
	}

	metrics, err := s.geocoder.TravelMetrics(ctx, geocoding.Location{Lat: origin.Lat, Lng: origin.Lng}, places)
	if err != nil {
		zap.L().Warn("proximity: travel metrics unavailable", zap.Error(err))
		metrics = map[string]geocoding.Metric{}
	}

	visits := make([]model.StationVisit, 0, len(places))
	for _, p := range places {
		v := model.StationVisit{Name: p.Name}
		if m, ok := metrics[p.Name]; ok {
			mins := (m.DurationSeconds + 59) / 60
			dist := m.DistanceMeters
			v.TravelMinutes = &mins
			v.DistanceMeters = &dist
		}
		v.Lines = s.LinesFor(ctx, p.Name, category)
		visits = append(visits, v)
	}
	return visits, nil
}

// LinesFor resolves line/operator metadata for one station through the
// three-tier cascade: static table, live transit API, and (rail only) the
// operator name heuristics. The first tier to produce anything wins
// outright; tiers are never merged.
func (s *Stage) LinesFor(ctx context.Context, name string, category Category) []string {
	key := cache.Key("lines", string(category), cache.AddressPart(name))
	if v, ok := s.derived.Get(key); ok {
		return v.([]string)
	}

	lines := s.lines.Match(name)
	if len(lines) == 0 {
		lines = s.liveLookup(ctx, name)
	}
	if len(lines) == 0 && category == CategoryRail {
		lines = operatorHeuristics(name)
	}

	if len(lines) > 0 {
		s.derived.Set(key, lines)
	}
	return lines
}

// liveLookup is the search-then-detail tier against the transit authority.
// Any failure here is worth only a debug line; the cascade moves on.
func (s *Stage) liveLookup(ctx context.Context, name string) []string {
	matches, err := s.transit.SearchStops(ctx, name)
	if err != nil || len(matches) == 0 {
		if err != nil {
			zap.L().Debug("proximity: stop search failed",
				zap.String("station", name), zap.Error(err))
		}
		return nil
	}

	match := matches[0]
	// Prefer a hit whose name actually resembles the query; the search
	// endpoint is fuzzy and the top hit can be a different station.
	q := normalizeStation(name)
	for _, m := range matches {
		if strings.Contains(normalizeStation(m.Name), q) {
			match = m
			break
		}
	}

	detail, err := s.transit.StopDetails(ctx, match.ID)
	if err != nil {
		zap.L().Debug("proximity: stop detail failed",
			zap.String("stop", match.ID), zap.Error(err))
		return nil
	}
	return detail.Lines
}
