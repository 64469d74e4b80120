// Package enrich orchestrates the pipeline: scrape the base record, then
// fan out to independent enrichment stages that merge their output into the
// stored listing as they complete. Stage failures degrade to "section
// unavailable"; only a failed base scrape is fatal.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/geo"
	"github.com/doorstep-labs/doorstep/internal/market"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/internal/plots"
	"github.com/doorstep-labs/doorstep/internal/proximity"
	"github.com/doorstep-labs/doorstep/internal/store"
	"github.com/doorstep-labs/doorstep/pkg/scrapeext"
	"github.com/doorstep-labs/doorstep/pkg/summarize"
)

// defaultStationCount is how many stations each transit list carries.
const defaultStationCount = 3

// SchoolsLookup is the schools stage seam; the browser flow satisfies it.
type SchoolsLookup interface {
	Lookup(ctx context.Context, address string, trusted *model.Coordinate, bypass bool) (*model.SchoolsResult, error)
}

// Caches groups the four volatility-class caches the orchestrator busts on
// a bypassed run.
type Caches struct {
	Listing   *cache.Cache
	Lookup    *cache.Cache
	Derived   *cache.Cache
	Generated *cache.Cache
}

func (c Caches) all() []*cache.Cache {
	return []*cache.Cache{c.Listing, c.Lookup, c.Derived, c.Generated}
}

// Options tunes one enrichment run.
type Options struct {
	StationCount int
	SummaryModel string
	// Bypass forces recomputation: the listing's cache entries (and every
	// dependent per-field key containing its key) are deleted up front.
	Bypass bool
}

// Orchestrator wires the stages.
type Orchestrator struct {
	scraper    scrapeext.ListingScraper
	geo        *geo.Resolver
	proximity  *proximity.Stage
	plots      *plots.Resolver
	market     *market.Analyzer
	schools    SchoolsLookup
	summarizer summarize.Client
	store      store.Store
	caches     Caches

	locks *keyedLocks
}

// New constructs the orchestrator. Any stage dependency may be nil, which
// disables that stage (useful for partial deployments and tests).
func New(
	scraper scrapeext.ListingScraper,
	geoResolver *geo.Resolver,
	prox *proximity.Stage,
	plotResolver *plots.Resolver,
	marketAnalyzer *market.Analyzer,
	schoolsFlow SchoolsLookup,
	summarizer summarize.Client,
	st store.Store,
	caches Caches,
) *Orchestrator {
	return &Orchestrator{
		scraper:    scraper,
		geo:        geoResolver,
		proximity:  prox,
		plots:      plotResolver,
		market:     marketAnalyzer,
		schools:    schoolsFlow,
		summarizer: summarizer,
		store:      st,
		caches:     caches,
		locks:      newKeyedLocks(),
	}
}

// Enrich runs the full pipeline for one listing URL and returns the final
// merged record.
func (o *Orchestrator) Enrich(ctx context.Context, listingURL string, opts Options) (*model.Listing, error) {
	if err := scrapeext.ValidateListingURL(listingURL); err != nil {
		return nil, err
	}
	if opts.StationCount <= 0 {
		opts.StationCount = defaultStationCount
	}

	listing, err := o.scraper.Scrape(ctx, listingURL)
	if err != nil {
		// No usable base record means nothing to enrich.
		o.logActivity(ctx, model.ActivityError, "scrape",
			fmt.Sprintf("scrape failed for %s: %v", listingURL, err))
		return nil, eris.Wrap(err, "enrich: scrape")
	}
	now := time.Now().UTC()
	listing.ScrapedAt = now
	listing.UpdatedAt = now

	listingKey := cache.Key("listing", listing.ID)
	if opts.Bypass {
		for _, c := range o.caches.all() {
			if c != nil {
				c.DeleteContaining(listingKey)
			}
		}
	} else if v, ok := o.caches.Listing.Get(listingKey); ok {
		cached := v.(model.Listing)
		return &cached, nil
	}

	// Location backfill runs before the fan-out: most stages need the
	// coordinate it produces.
	if o.geo != nil {
		if err := o.geo.EnrichLocation(ctx, listing); err != nil {
			zap.L().Warn("enrich: location backfill failed",
				zap.String("id", listing.ID), zap.Error(err))
		}
	}

	if err := o.store.UpsertListing(ctx, listing); err != nil {
		return nil, eris.Wrap(err, "enrich: persist base record")
	}
	o.logActivity(ctx, model.ActivityInfo, "scrape",
		fmt.Sprintf("base record ready for %s", listing.ID))

	o.fanOut(ctx, listing, opts)

	final, err := o.store.GetListing(ctx, listing.ID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read final record")
	}
	o.caches.Listing.Set(listingKey, *final)
	return final, nil
}

// fanOut runs every enabled stage concurrently. Each stage merges its own
// fields into the stored record on completion; failures are logged and
// never abort siblings.
func (o *Orchestrator) fanOut(ctx context.Context, listing *model.Listing, opts Options) {
	base := *listing
	g, gctx := errgroup.WithContext(ctx)

	o.goStage(g, gctx, &base, "rail", func(ctx context.Context) error {
		return o.stationsStage(ctx, &base, proximity.CategoryRail, opts.StationCount)
	})
	o.goStage(g, gctx, &base, "underground", func(ctx context.Context) error {
		return o.stationsStage(ctx, &base, proximity.CategoryUnderground, opts.StationCount)
	})
	o.goStage(g, gctx, &base, "plot", func(ctx context.Context) error {
		return o.plotStage(ctx, &base, opts.Bypass)
	})
	o.goStage(g, gctx, &base, "market", func(ctx context.Context) error {
		return o.marketStage(ctx, &base, opts.Bypass)
	})
	o.goStage(g, gctx, &base, "schools", func(ctx context.Context) error {
		return o.schoolsStage(ctx, &base, opts.Bypass)
	})
	o.goStage(g, gctx, &base, "summary", func(ctx context.Context) error {
		return o.summaryStage(ctx, &base, opts.SummaryModel)
	})

	g.Wait() //nolint:errcheck
}

// goStage wraps one stage with its completion logging. Stage errors are
// reported through the activity log, never returned to the group.
func (o *Orchestrator) goStage(g *errgroup.Group, ctx context.Context, l *model.Listing, name string, run func(ctx context.Context) error) {
	g.Go(func() error {
		if err := run(ctx); err != nil {
			zap.L().Warn("enrich: stage failed",
				zap.String("stage", name), zap.String("id", l.ID), zap.Error(err))
			o.logActivity(ctx, model.ActivityWarn, name,
				fmt.Sprintf("%s unavailable for %s: %v", name, l.ID, err))
			return nil
		}
		o.logActivity(ctx, model.ActivityInfo, name,
			fmt.Sprintf("%s complete for %s", name, l.ID))
		return nil
	})
}

func (o *Orchestrator) stationsStage(ctx context.Context, l *model.Listing, category proximity.Category, count int) error {
	if o.proximity == nil || l.Coordinate == nil {
		return nil
	}
	visits, err := o.proximity.Stations(ctx, *l.Coordinate, category, count)
	if err != nil {
		return err
	}
	return o.merge(ctx, l.ID, func(cur *model.Listing) {
		if category == proximity.CategoryRail {
			cur.NearestRail = visits
		} else {
			cur.NearestUnderground = visits
		}
	})
}

func (o *Orchestrator) plotStage(ctx context.Context, l *model.Listing, bypass bool) error {
	if o.plots == nil {
		return nil
	}
	req := plots.Request{
		Address:    l.Address.Display,
		Postcode:   l.Address.Postcode(),
		Coordinate: l.Coordinate,
		Bypass:     bypass,
	}
	if l.Address.Number != nil {
		req.Number = *l.Address.Number
	}
	if l.Address.Street != nil {
		req.Street = *l.Address.Street
	}

	result, err := o.plots.Resolve(ctx, req)
	if err != nil {
		return err
	}
	return o.merge(ctx, l.ID, func(cur *model.Listing) {
		cur.Plot = &result
	})
}

func (o *Orchestrator) marketStage(ctx context.Context, l *model.Listing, bypass bool) error {
	if o.market == nil || l.Address.Street == nil || l.Address.Outcode == nil {
		return nil
	}
	summary := o.market.Summarize(ctx, *l.Address.Street, *l.Address.Outcode, l.Price, bypass)
	if summary == nil {
		return eris.New("market data unavailable")
	}
	return o.merge(ctx, l.ID, func(cur *model.Listing) {
		cur.Market = summary
	})
}

func (o *Orchestrator) schoolsStage(ctx context.Context, l *model.Listing, bypass bool) error {
	if o.schools == nil {
		return nil
	}
	result, err := o.schools.Lookup(ctx, l.Address.Display, l.Coordinate, bypass)
	if err != nil {
		return err
	}
	return o.merge(ctx, l.ID, func(cur *model.Listing) {
		cur.Schools = result
	})
}

func (o *Orchestrator) summaryStage(ctx context.Context, l *model.Listing, modelID string) error {
	if o.summarizer == nil {
		return nil
	}
	text, err := o.summarizer.Summarize(ctx, summaryDocument(l), modelID)
	if err != nil {
		return err
	}
	return o.merge(ctx, l.ID, func(cur *model.Listing) {
		cur.Summary = &text
	})
}

// summaryDocument flattens the base record into the document handed to the
// summarizer.
func summaryDocument(l *model.Listing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Listing %s\nAddress: %s\n", l.URL, l.Address.Display)
	if l.Price != nil {
		fmt.Fprintf(&sb, "Price: £%d\n", *l.Price)
	}
	if l.Bedrooms != nil {
		fmt.Fprintf(&sb, "Bedrooms: %d\n", *l.Bedrooms)
	}
	if l.Bathrooms != nil {
		fmt.Fprintf(&sb, "Bathrooms: %d\n", *l.Bathrooms)
	}
	if l.SizeSqFt != nil {
		fmt.Fprintf(&sb, "Size: %.0f sq ft\n", *l.SizeSqFt)
	}
	if l.Category != "" {
		fmt.Fprintf(&sb, "Type: %s\n", l.Category)
	}
	return sb.String()
}

func (o *Orchestrator) logActivity(ctx context.Context, level model.ActivityLevel, source, message string) {
	entry := model.ActivityEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Source:    source,
	}
	if err := o.store.AppendActivity(ctx, entry); err != nil {
		zap.L().Debug("enrich: activity append failed", zap.Error(err))
	}
}
