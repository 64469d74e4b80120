package plots

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
)

type fakeRegistry struct {
	landregistry.Client

	addressCalls    int
	coordinateCalls int
	postcodeCalls   int
	titleCalls      []string

	addressCands    []landregistry.Candidate
	coordinateCands []landregistry.Candidate
	postcodeCands   []landregistry.Candidate
	titles          map[string]*landregistry.Title
}

func (f *fakeRegistry) SearchByAddress(context.Context, string) ([]landregistry.Candidate, error) {
	f.addressCalls++
	return f.addressCands, nil
}

func (f *fakeRegistry) SearchByCoordinate(context.Context, float64, float64, int) ([]landregistry.Candidate, error) {
	f.coordinateCalls++
	return f.coordinateCands, nil
}

func (f *fakeRegistry) SearchByPostcode(context.Context, string) ([]landregistry.Candidate, error) {
	f.postcodeCalls++
	return f.postcodeCands, nil
}

func (f *fakeRegistry) TitleByUPRN(_ context.Context, uprn string) (*landregistry.Title, error) {
	f.titleCalls = append(f.titleCalls, uprn)
	t, ok := f.titles[uprn]
	if !ok {
		return nil, eris.Wrap(faults.ErrNotFound, "landregistry: NO_TITLE")
	}
	return t, nil
}

func areaPtr(v float64) *float64 { return &v }

func coordPtr() *model.Coordinate { return &model.Coordinate{Lat: 51.5, Lng: -0.14} }

func baseRequest() Request {
	return Request{
		Address:    "12 Downing Street, London SW1A 2AB",
		Number:     "12",
		Street:     "Downing Street",
		Postcode:   "SW1A 2AB",
		Coordinate: coordPtr(),
	}
}

func newResolver(reg landregistry.Client) *Resolver {
	return NewResolver(reg, cache.New(time.Hour))
}

func TestResolve_AddressMatchShortCircuits(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		addressCands: []landregistry.Candidate{{UPRN: "100", Address: "12 Downing Street"}},
		titles:       map[string]*landregistry.Title{"100": {TitleNumber: "NGL1", PlotAreaSqM: areaPtr(120)}},
	}
	r := newResolver(reg)

	got, err := r.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.True(t, got.Resolved())
	assert.Equal(t, model.StrategyAddressMatch, got.Strategy)
	assert.Equal(t, "NGL1", got.TitleNumber)
	assert.Equal(t, 0, reg.coordinateCalls, "later strategies must never fire after a direct hit")
	assert.Equal(t, 0, reg.postcodeCalls)
}

func TestResolve_ExactCandidateKeepsHighConfidenceTag(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		coordinateCands: []landregistry.Candidate{
			{UPRN: "200", Address: "12 Downing Street", Number: "12", Street: "Downing Street"},
		},
		titles: map[string]*landregistry.Title{"200": {TitleNumber: "NGL2", PlotAreaSqM: areaPtr(95)}},
	}
	r := newResolver(reg)

	got, err := r.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, model.StrategyAddressMatch, got.Strategy,
		"an exact door+street hit in a candidate search is high confidence")
	assert.Equal(t, []string{"200"}, reg.titleCalls, "exact match tries only that candidate")
}

func TestResolve_SameStreetFallbackTag(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		coordinateCands: []landregistry.Candidate{
			{UPRN: "300", Number: "14", Street: "Downing Street"},
			{UPRN: "301", Number: "16", Street: "Downing Street"},
		},
		titles: map[string]*landregistry.Title{"301": {TitleNumber: "NGL3", PlotAreaSqM: areaPtr(88)}},
	}
	r := newResolver(reg)

	got, err := r.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, model.StrategyCoordinateNearby, got.Strategy)
	assert.Equal(t, []string{"300", "301"}, reg.titleCalls,
		"a no-title negative advances to the next candidate")
}

func TestResolve_AtMostThreeCandidatesPerStep(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		coordinateCands: []landregistry.Candidate{
			{UPRN: "1", Street: "Elsewhere Road"},
			{UPRN: "2", Street: "Elsewhere Road"},
			{UPRN: "3", Street: "Elsewhere Road"},
			{UPRN: "4", Street: "Elsewhere Road"},
		},
	}
	r := newResolver(reg)

	req := baseRequest()
	req.Postcode = "" // keep the postcode step out of the way
	got, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, got.Resolved())
	assert.Len(t, reg.titleCalls, 3)
}

func TestResolve_PostcodeStepAndExhaustion(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		postcodeCands: []landregistry.Candidate{{UPRN: "500", Street: "Downing Street", Number: "10"}},
		titles:        map[string]*landregistry.Title{"500": {TitleNumber: "NGL5", PlotAreaSqM: areaPtr(400)}},
	}
	r := newResolver(reg)

	req := baseRequest()
	req.Coordinate = nil
	got, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.StrategyPostcodeNearby, got.Strategy)
	assert.Equal(t, 0, reg.coordinateCalls, "no coordinate means no point search")

	// Nothing anywhere: fully-null result, no error.
	empty := newResolver(&fakeRegistry{})
	got, err = empty.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.False(t, got.Resolved())
	assert.Empty(t, got.Strategy)
}

func TestResolve_TitleWithoutAreaIsNotUsable(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		addressCands: []landregistry.Candidate{{UPRN: "600"}},
		titles:       map[string]*landregistry.Title{"600": {TitleNumber: "NGL6"}},
	}
	r := newResolver(reg)

	req := baseRequest()
	req.Coordinate = nil
	req.Postcode = ""
	got, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, got.Resolved(), "a title with no plot area advances the cascade")
}

func TestResolve_CacheAndBypass(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{
		addressCands: []landregistry.Candidate{{UPRN: "700"}},
		titles:       map[string]*landregistry.Title{"700": {TitleNumber: "NGL7", PlotAreaSqM: areaPtr(60)}},
	}
	r := newResolver(reg)
	req := baseRequest()

	_, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.addressCalls, "second resolve must be a cache hit")

	req.Bypass = true
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.addressCalls, "bypass deletes the entry and recomputes")
}
