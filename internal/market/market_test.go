package market

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
)

type fakeRegistry struct {
	landregistry.Client

	calls int
	sales []landregistry.Sale
	err   error
}

func (f *fakeRegistry) PricePaid(context.Context, string, string, int) ([]landregistry.Sale, error) {
	f.calls++
	return f.sales, f.err
}

func intPtr(v int) *int { return &v }

func newAnalyzer(reg landregistry.Client) *Analyzer {
	return NewAnalyzer(reg, cache.New(time.Hour), 0)
}

func TestSummarize_Banding(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{sales: []landregistry.Sale{
		{Price: 400000}, {Price: 420000}, {Price: 380000},
	}} // average 400k

	tests := []struct {
		name   string
		price  int
		margin float64
		band   model.PriceBand
	}{
		{"well over", 450000, 12.5, model.BandOver},
		{"just inside high edge", 408000, 2.0, model.BandFair},
		{"spot on", 400000, 0.0, model.BandFair},
		{"just inside low edge", 392000, -2.0, model.BandFair},
		{"well under", 350000, -12.5, model.BandUnder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAnalyzer(reg)
			got := a.Summarize(context.Background(), "Downing Street", "SW1A", intPtr(tt.price), false)
			require.NotNil(t, got)
			require.NotNil(t, got.MarginPct)
			assert.InDelta(t, tt.margin, *got.MarginPct, 0.01)
			assert.Equal(t, tt.band, got.Band)
			assert.Equal(t, 3, got.SampleSize)
		})
	}
}

func TestSummarize_NoSalesHistory(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(&fakeRegistry{})
	got := a.Summarize(context.Background(), "New Build Way", "ZZ1", intPtr(500000), false)

	require.NotNil(t, got, "an empty history is a legitimate zero-sample result")
	assert.Equal(t, 0, got.SampleSize)
	assert.Nil(t, got.AveragePrice)
	assert.Nil(t, got.MarginPct)
}

func TestSummarize_ProviderFailureDegradesToNil(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(&fakeRegistry{err: eris.New("boom")})
	assert.Nil(t, a.Summarize(context.Background(), "Downing Street", "SW1A", intPtr(1), false))
}

func TestSummarize_MissingInputs(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	a := newAnalyzer(reg)

	assert.Nil(t, a.Summarize(context.Background(), "", "SW1A", nil, false))
	assert.Nil(t, a.Summarize(context.Background(), "Downing Street", "", nil, false))
	assert.Equal(t, 0, reg.calls)
}

func TestSummarize_StreetAggregateCachedMarginIsNot(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{sales: []landregistry.Sale{{Price: 100000}}}
	a := newAnalyzer(reg)

	first := a.Summarize(context.Background(), "Downing Street", "SW1A", intPtr(110000), false)
	second := a.Summarize(context.Background(), "Downing Street", "SW1A", intPtr(90000), false)

	assert.Equal(t, 1, reg.calls, "street aggregate comes from cache on repeat")
	require.NotNil(t, first.MarginPct)
	require.NotNil(t, second.MarginPct)
	assert.Equal(t, model.BandOver, first.Band)
	assert.Equal(t, model.BandUnder, second.Band,
		"the band tracks each listing price, not the cached aggregate")

	a.Summarize(context.Background(), "Downing Street", "SW1A", intPtr(100000), true)
	assert.Equal(t, 2, reg.calls, "bypass recomputes the aggregate")
}
