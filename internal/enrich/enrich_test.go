package enrich

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/internal/plots"
	"github.com/doorstep-labs/doorstep/internal/proximity"
	"github.com/doorstep-labs/doorstep/internal/store"
	"github.com/doorstep-labs/doorstep/pkg/geocoding"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
)

const listingURL = "https://www.example-homes.co.uk/properties/42"

type fakeScraper struct {
	calls int
	err   error
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*model.Listing, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	price := 425000
	street := "Downing Street"
	number := "12"
	outcode := "SW1A"
	incode := "2AB"
	return &model.Listing{
		ID:    "42",
		URL:   url,
		Price: &price,
		Address: model.Address{
			Display: "12 Downing Street, London SW1A 2AB",
			Street:  &street, Number: &number,
			Outcode: &outcode, Incode: &incode,
		},
		Coordinate: &model.Coordinate{Lat: 51.5034, Lng: -0.1276},
	}, nil
}

type fakeGeocoder struct {
	geocoding.Client
}

func (f *fakeGeocoder) NearbySearch(context.Context, float64, float64, string, int) ([]geocoding.Place, error) {
	return []geocoding.Place{{Name: "Westminster"}}, nil
}

func (f *fakeGeocoder) TravelMetrics(context.Context, geocoding.Location, []geocoding.Place) (map[string]geocoding.Metric, error) {
	return map[string]geocoding.Metric{}, nil
}

type fakeRegistry struct {
	landregistry.Client
}

func (f *fakeRegistry) SearchByAddress(context.Context, string) ([]landregistry.Candidate, error) {
	return []landregistry.Candidate{{UPRN: "100", Address: "12 Downing Street"}}, nil
}

func (f *fakeRegistry) TitleByUPRN(context.Context, string) (*landregistry.Title, error) {
	area := 120.0
	return &landregistry.Title{TitleNumber: "NGL1", PlotAreaSqM: &area}, nil
}

type fakeSchools struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (f *fakeSchools) Lookup(context.Context, string, *model.Coordinate, bool) (*model.SchoolsResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.SchoolsResult{AreaLabel: "Westminster 018A"}, nil
}

type fakeSummarizer struct{ err error }

func (f *fakeSummarizer) Summarize(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "A well-placed two-bed.", nil
}

func newCaches() Caches {
	return Caches{
		Listing:   cache.New(time.Hour),
		Lookup:    cache.New(time.Hour),
		Derived:   cache.New(time.Hour),
		Generated: cache.New(time.Hour),
	}
}

func newOrchestrator(scraper *fakeScraper, schools SchoolsLookup) (*Orchestrator, store.Store) {
	st := store.NewMemory()
	derived := cache.New(time.Hour)
	o := New(
		scraper,
		nil,
		proximity.NewStage(&fakeGeocoder{}, nil, proximity.NewLineTable(), derived),
		plots.NewResolver(&fakeRegistry{}, derived),
		nil,
		schools,
		&fakeSummarizer{},
		st,
		newCaches(),
	)
	return o, st
}

func TestEnrich_HappyPathMergesAllStages(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(&fakeScraper{}, &fakeSchools{})
	got, err := o.Enrich(context.Background(), listingURL, Options{})
	require.NoError(t, err)

	require.NotNil(t, got.Plot)
	assert.True(t, got.Plot.Resolved())
	assert.Equal(t, model.StrategyAddressMatch, got.Plot.Strategy)

	require.NotNil(t, got.Schools)
	assert.Equal(t, "Westminster 018A", got.Schools.AreaLabel)

	require.NotNil(t, got.Summary)
	require.Len(t, got.NearestRail, 1)
	require.Len(t, got.NearestUnderground, 1)

	require.NotNil(t, got.Price)
	assert.Equal(t, 425000, *got.Price, "primary scrape fields survive the merges")
}

func TestEnrich_ScrapeFailureIsFatal(t *testing.T) {
	t.Parallel()

	o, st := newOrchestrator(&fakeScraper{err: eris.New("blocked")}, &fakeSchools{})
	_, err := o.Enrich(context.Background(), listingURL, Options{})
	require.Error(t, err)

	entries, err := st.ListActivity(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.ActivityError, entries[0].Level)
}

func TestEnrich_StageFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	o, st := newOrchestrator(&fakeScraper{}, &fakeSchools{err: eris.New("login rejected")})
	got, err := o.Enrich(context.Background(), listingURL, Options{})
	require.NoError(t, err, "a failed stage degrades to an absent section")

	assert.Nil(t, got.Schools)
	require.NotNil(t, got.Plot, "sibling stages still land")
	require.NotNil(t, got.Summary)

	entries, err := st.ListActivity(context.Background(), 50)
	require.NoError(t, err)
	warned := false
	for _, e := range entries {
		if e.Level == model.ActivityWarn && e.Source == "schools" {
			warned = true
		}
	}
	assert.True(t, warned, "the failed stage leaves a warn activity entry")
}

func TestEnrich_SlowStageOrderIndependence(t *testing.T) {
	t.Parallel()

	// The schools stage finishing last must not clobber the plot field
	// written earlier, and vice versa.
	o, _ := newOrchestrator(&fakeScraper{}, &fakeSchools{delay: 100 * time.Millisecond})
	got, err := o.Enrich(context.Background(), listingURL, Options{})
	require.NoError(t, err)

	require.NotNil(t, got.Plot)
	require.NotNil(t, got.Schools)
	require.NotNil(t, got.Summary)
}

func TestEnrich_CachedResultSkipsStages(t *testing.T) {
	t.Parallel()

	schools := &fakeSchools{}
	o, _ := newOrchestrator(&fakeScraper{}, schools)

	_, err := o.Enrich(context.Background(), listingURL, Options{})
	require.NoError(t, err)
	_, err = o.Enrich(context.Background(), listingURL, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, schools.calls, "a cached listing must not rerun stages")

	_, err = o.Enrich(context.Background(), listingURL, Options{Bypass: true})
	require.NoError(t, err)
	assert.Equal(t, 2, schools.calls, "bypass busts the listing cache and reruns")
}

func TestEnrich_RejectsBadURL(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{}
	o, _ := newOrchestrator(scraper, &fakeSchools{})

	_, err := o.Enrich(context.Background(), "not a url", Options{})
	require.Error(t, err)
	assert.Equal(t, 0, scraper.calls, "validation happens before any scraping")
}

func TestMerge_OrderIndependence(t *testing.T) {
	t.Parallel()

	o, st := newOrchestrator(&fakeScraper{}, &fakeSchools{})
	ctx := context.Background()
	require.NoError(t, st.UpsertListing(ctx, &model.Listing{ID: "77"}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.merge(ctx, "77", func(cur *model.Listing) {
				if i == 0 {
					area := 50.0
					cur.Plot = &model.PlotResult{AreaSqM: &area}
				} else {
					cur.Schools = &model.SchoolsResult{AreaLabel: "A"}
				}
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := st.GetListing(ctx, "77")
	require.NoError(t, err)
	assert.NotNil(t, got.Plot, "both concurrent merges' fields survive")
	assert.NotNil(t, got.Schools)
}
