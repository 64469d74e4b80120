package schools

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/geo"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// SignalSource records which coordinate source won the acquisition race.
type SignalSource string

const (
	SourceTrusted      SignalSource = "trusted"
	SourceGeocode      SignalSource = "geocode"
	SourceMarker       SignalSource = "marker"
	SourceMapCenter    SignalSource = "map-center"
	SourceStaticCenter SignalSource = "static-center"
)

// ErrSignalExhausted means the polling budget ran out with no coordinate
// signal. Callers capture diagnostics on this path.
var ErrSignalExhausted = eris.New("schools: location signal polling exhausted")

const (
	defaultSignalIterations = 20
	defaultSignalInterval   = time.Second
	// geocodeSettleDelay lets the map catch up after the intercepted
	// geocode response lands before its coordinate is read.
	geocodeSettleDelay = 1500 * time.Millisecond
	// centerMovedThresholdM is how far the map center must travel from its
	// pre-search position to count as a search result.
	centerMovedThresholdM = 30.0
)

// probe reads one signal source. ok is false while the source has not
// produced a coordinate yet; probes must never block.
type probe func(ctx context.Context) (*model.Coordinate, bool)

// signalRace polls the three coordinate sources in priority order with a
// bounded iteration budget. The intercepted geocode response wins outright;
// a placed marker beats a moved map center; an unmoved center is accepted
// only near the end of the budget as a last resort.
type signalRace struct {
	geocode   probe
	marker    probe
	mapCenter probe

	iterations int
	interval   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func newSignalRace(geocode, marker, mapCenter probe) *signalRace {
	return &signalRace{
		geocode:    geocode,
		marker:     marker,
		mapCenter:  mapCenter,
		iterations: defaultSignalIterations,
		interval:   defaultSignalInterval,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run races the sources. initialCenter is the map center captured before
// the search was typed; the center source only counts once it has moved
// measurably away from it.
func (r *signalRace) run(ctx context.Context, initialCenter *model.Coordinate) (*model.Coordinate, SignalSource, error) {
	// The static-center fallback kicks in once most of the budget is gone.
	staticAfter := r.iterations * 3 / 4

	for i := 0; i < r.iterations; i++ {
		if coord, ok := r.geocode(ctx); ok {
			if err := r.sleep(ctx, geocodeSettleDelay); err != nil {
				return nil, "", err
			}
			// Re-read after the settle delay in case the map refined it.
			if refined, stillOK := r.geocode(ctx); stillOK {
				coord = refined
			}
			return coord, SourceGeocode, nil
		}

		if coord, ok := r.marker(ctx); ok {
			return coord, SourceMarker, nil
		}

		if coord, ok := r.mapCenter(ctx); ok {
			if initialCenter == nil || centerMoved(*initialCenter, *coord) {
				return coord, SourceMapCenter, nil
			}
			if i >= staticAfter {
				zap.L().Debug("schools: accepting static map center",
					zap.Int("iteration", i))
				return coord, SourceStaticCenter, nil
			}
		}

		if err := r.sleep(ctx, r.interval); err != nil {
			return nil, "", err
		}
	}
	return nil, "", ErrSignalExhausted
}

func centerMoved(before, after model.Coordinate) bool {
	d := geo.HaversineMeters(
		geo.CoordOf(before.Lat, before.Lng),
		geo.CoordOf(after.Lat, after.Lng),
	)
	return d > centerMovedThresholdM
}
