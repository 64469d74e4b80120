package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/config"
	"github.com/doorstep-labs/doorstep/internal/enrich"
	"github.com/doorstep-labs/doorstep/internal/geo"
	"github.com/doorstep-labs/doorstep/internal/market"
	"github.com/doorstep-labs/doorstep/internal/plots"
	"github.com/doorstep-labs/doorstep/internal/proximity"
	"github.com/doorstep-labs/doorstep/internal/schools"
	"github.com/doorstep-labs/doorstep/internal/store"
	"github.com/doorstep-labs/doorstep/internal/throttle"
	"github.com/doorstep-labs/doorstep/pkg/geocoding"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
	"github.com/doorstep-labs/doorstep/pkg/postcodes"
	"github.com/doorstep-labs/doorstep/pkg/scrapeext"
	"github.com/doorstep-labs/doorstep/pkg/summarize"
	"github.com/doorstep-labs/doorstep/pkg/transit"
)

// env holds the wired pipeline for one command invocation.
type env struct {
	Store        store.Store
	Orchestrator *enrich.Orchestrator
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSqlite(cfg.Store.SqlitePath)
	case "postgres":
		return store.NewPostgresDSN(ctx, cfg.Store.PostgresDSN)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline constructs every stage from config. Stages whose provider is
// unconfigured come up disabled rather than failing startup.
func initPipeline(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	if cfg.Scraper.ServiceURL == "" {
		st.Close() //nolint:errcheck
		return nil, eris.New("scraper.service_url is not configured")
	}
	scraper := scrapeext.NewService(cfg.Scraper.ServiceURL)

	caches := enrich.Caches{
		Listing:   cache.New(cfg.Cache.ListingTTL),
		Lookup:    cache.New(cfg.Cache.LookupTTL),
		Derived:   cache.New(cfg.Cache.DerivedTTL),
		Generated: cache.New(cfg.Cache.GeneratedTTL),
	}

	geocoder := geocoding.NewClient(cfg.Providers.GeocodingAPIKey)
	resolver := geo.NewResolver(postcodes.NewClient(), geocoder, caches.Lookup)

	lineTable := proximity.NewLineTable()
	if path := cfg.Proximity.LineTableYAML; path != "" {
		if f, err := os.Open(path); err == nil {
			if err := lineTable.LoadYAML(f); err != nil {
				zap.L().Warn("line table yaml load failed", zap.Error(err))
			}
			f.Close() //nolint:errcheck
		}
	}
	if path := cfg.Proximity.LineTableXLSX; path != "" {
		if err := lineTable.LoadXLSX(path); err != nil {
			zap.L().Warn("line table xlsx load failed", zap.Error(err))
		}
	}
	prox := proximity.NewStage(
		geocoder,
		transit.NewClient(cfg.Providers.TransitAppKey),
		lineTable,
		caches.Derived,
	)

	registryCore := throttle.NewClient("landregistry", cfg.Providers.LandRegistry.BaseURL,
		throttle.WithAPIKey(cfg.Providers.LandRegistry.APIKey, true),
		throttle.WithMinGap(cfg.Providers.LandRegistry.MinGap),
	)
	registry := landregistry.NewClient(registryCore,
		landregistry.WithMaxThrottleRetries(cfg.Providers.LandRegistry.MaxThrottleRetries),
	)
	plotResolver := plots.NewResolver(registry, caches.Derived)
	marketAnalyzer := market.NewAnalyzer(registry, caches.Derived, cfg.Market.FairBandPct)

	schoolsFlow := schools.NewFlow(schools.Config{
		BaseURL:       cfg.Schools.BaseURL,
		Username:      cfg.Schools.Username,
		Password:      cfg.Schools.Password,
		CookiePath:    cfg.Schools.CookiePath,
		ChromePath:    cfg.Schools.ChromePath,
		Headless:      cfg.Schools.Headless,
		ScreenshotDir: cfg.Schools.ScreenshotDir,
	}, caches.Generated)

	summarizer := summarize.New(summarize.Config{
		APIKey:        cfg.Summarize.APIKey,
		DefaultModel:  cfg.Summarize.DefaultModel,
		AllowedModels: cfg.Summarize.AllowedModels,
		MaxTokens:     cfg.Summarize.MaxTokens,
		Timeout:       cfg.Summarize.Timeout,
	})

	orch := enrich.New(
		scraper, resolver, prox, plotResolver, marketAnalyzer,
		schoolsFlow, summarizer, st, caches,
	)
	return &env{Store: st, Orchestrator: orch}, nil
}
