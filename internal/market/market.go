// Package market aggregates recent sold prices near a listing and bands
// the asking price against the local average.
package market

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
)

// defaultFairBandPct is the ± margin within which an asking price counts
// as fairly priced. Overridable via config.
const defaultFairBandPct = 2.0

// defaultSampleLimit caps how many price-paid entries feed the average.
const defaultSampleLimit = 20

// Analyzer computes the market summary for a listing's street.
type Analyzer struct {
	registry    landregistry.Client
	derived     *cache.Cache
	fairBandPct float64
	sampleLimit int
}

// NewAnalyzer wires the analyzer. fairBandPct <= 0 selects the default.
func NewAnalyzer(reg landregistry.Client, derived *cache.Cache, fairBandPct float64) *Analyzer {
	if fairBandPct <= 0 {
		fairBandPct = defaultFairBandPct
	}
	return &Analyzer{
		registry:    reg,
		derived:     derived,
		fairBandPct: fairBandPct,
		sampleLimit: defaultSampleLimit,
	}
}

// Summarize fetches sold prices for the street/outcode and compares the
// listing price against their average. A street with no sales history
// yields a zero-sample summary; provider failures return nil so the stage
// degrades to "unavailable".
func (a *Analyzer) Summarize(ctx context.Context, street, outcode string, listingPrice *int, bypass bool) *model.MarketSummary {
	if street == "" || outcode == "" {
		return nil
	}

	key := cache.Key("market", cache.AddressPart(street), cache.PostcodePart(outcode))
	if bypass {
		a.derived.Delete(key)
	} else if v, ok := a.derived.Get(key); ok {
		summary := v.(model.MarketSummary)
		return a.withMargin(summary, listingPrice)
	}

	sales, err := a.registry.PricePaid(ctx, street, outcode, a.sampleLimit)
	if err != nil {
		zap.L().Warn("market: price-paid lookup failed",
			zap.String("street", street), zap.Error(err))
		return nil
	}

	summary := model.MarketSummary{SampleSize: len(sales)}
	if len(sales) > 0 {
		total := 0
		for _, s := range sales {
			total += s.Price
		}
		avg := total / len(sales)
		summary.AveragePrice = &avg
	}
	a.derived.Set(key, summary)

	out := a.withMargin(summary, listingPrice)
	return out
}

// withMargin applies the listing-specific margin and band on top of the
// cached street aggregate. The margin is never cached since it depends on
// the asking price, not the street.
func (a *Analyzer) withMargin(summary model.MarketSummary, listingPrice *int) *model.MarketSummary {
	if summary.AveragePrice == nil || listingPrice == nil || *summary.AveragePrice == 0 {
		return &summary
	}

	margin := (float64(*listingPrice) - float64(*summary.AveragePrice)) / float64(*summary.AveragePrice) * 100
	margin = math.Round(margin*10) / 10
	summary.MarginPct = &margin

	switch {
	case margin > a.fairBandPct:
		summary.Band = model.BandOver
	case margin < -a.fairBandPct:
		summary.Band = model.BandUnder
	default:
		summary.Band = model.BandFair
	}
	return &summary
}
