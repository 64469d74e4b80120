// Package plots resolves a listing's plot size from the property registry
// through a three-step decreasing-precision cascade. The strategy tag on
// the result records how the match was found and must survive to the UI.
package plots

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
	"github.com/doorstep-labs/doorstep/pkg/landregistry"
)

// maxCandidateTries bounds how many candidates any one cascade step
// resolves before giving up on that step.
const maxCandidateTries = 3

// coordinateRadiusM is the registry point-search radius.
const coordinateRadiusM = 50

// Request carries everything the cascade can key and match on. Fields may
// be empty; the cascade skips steps whose inputs are missing.
type Request struct {
	Address    string
	Number     string
	Street     string
	Postcode   string
	Coordinate *model.Coordinate
	Bypass     bool
}

// Resolver runs the cascade against the registry with a derived-results
// cache in front.
type Resolver struct {
	registry landregistry.Client
	derived  *cache.Cache
}

// NewResolver wires the cascade.
func NewResolver(reg landregistry.Client, derived *cache.Cache) *Resolver {
	return &Resolver{registry: reg, derived: derived}
}

func (r *Resolver) cacheKey(req Request) string {
	coordPart := ""
	if req.Coordinate != nil {
		coordPart = req.Coordinate.Key()
	}
	return cache.Key("plot",
		cache.AddressPart(req.Address),
		cache.PostcodePart(req.Postcode),
		coordPart,
	)
}

// Resolve walks the cascade and returns the first usable title. Exhaustion
// returns a fully-null PlotResult, never an error; only a missing registry
// credential is surfaced, since no amount of cascading can fix deployment.
func (r *Resolver) Resolve(ctx context.Context, req Request) (model.PlotResult, error) {
	key := r.cacheKey(req)
	if req.Bypass {
		// Delete before the read path so a forced refresh can never
		// return the stale entry it was asked to replace.
		r.derived.Delete(key)
	} else if v, ok := r.derived.Get(key); ok {
		return v.(model.PlotResult), nil
	}

	result, err := r.resolve(ctx, req)
	if err != nil {
		return model.PlotResult{}, err
	}
	if result.Resolved() {
		r.derived.Set(key, result)
	}
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (model.PlotResult, error) {
	if res, err := r.byAddress(ctx, req); err != nil || res.Resolved() {
		return res, err
	}
	if req.Coordinate != nil {
		res, err := r.byCoordinate(ctx, req)
		if err != nil || res.Resolved() {
			return res, err
		}
	}
	if req.Postcode != "" {
		res, err := r.byPostcode(ctx, req)
		if err != nil || res.Resolved() {
			return res, err
		}
	}
	zap.L().Info("plots: cascade exhausted", zap.String("address", req.Address))
	return model.PlotResult{}, nil
}

// byAddress is the direct address-match step: only the first candidate is
// resolved, and success carries the high-confidence tag.
func (r *Resolver) byAddress(ctx context.Context, req Request) (model.PlotResult, error) {
	if strings.TrimSpace(req.Address) == "" {
		return model.PlotResult{}, nil
	}

	cands, err := r.registry.SearchByAddress(ctx, req.Address)
	if err != nil {
		if faults.IsNoCredentials(err) {
			return model.PlotResult{}, err
		}
		zap.L().Debug("plots: address search failed", zap.Error(err))
		return model.PlotResult{}, nil
	}
	if len(cands) == 0 {
		return model.PlotResult{}, nil
	}
	return r.lookupTitles(ctx, cands[:1], model.StrategyAddressMatch), nil
}

func (r *Resolver) byCoordinate(ctx context.Context, req Request) (model.PlotResult, error) {
	cands, err := r.registry.SearchByCoordinate(ctx, req.Coordinate.Lat, req.Coordinate.Lng, coordinateRadiusM)
	if err != nil {
		if faults.IsNoCredentials(err) {
			return model.PlotResult{}, err
		}
		zap.L().Debug("plots: coordinate search failed", zap.Error(err))
		return model.PlotResult{}, nil
	}
	return r.tryPartitioned(ctx, cands, req, model.StrategyCoordinateNearby), nil
}

func (r *Resolver) byPostcode(ctx context.Context, req Request) (model.PlotResult, error) {
	cands, err := r.registry.SearchByPostcode(ctx, req.Postcode)
	if err != nil {
		if faults.IsNoCredentials(err) {
			return model.PlotResult{}, err
		}
		zap.L().Debug("plots: postcode search failed", zap.Error(err))
		return model.PlotResult{}, nil
	}
	return r.tryPartitioned(ctx, cands, req, model.StrategyPostcodeNearby), nil
}

// tryPartitioned splits candidates into exact door+street matches, same
// street, and everything else, then works the first non-empty partition.
// An exact match is tried alone and keeps the high-confidence tag even
// though it arrived via a fallback search.
func (r *Resolver) tryPartitioned(ctx context.Context, cands []landregistry.Candidate, req Request, tag model.Strategy) model.PlotResult {
	exact, sameStreet, other := partition(cands, req.Number, req.Street)

	if len(exact) > 0 {
		return r.lookupTitles(ctx, exact[:1], model.StrategyAddressMatch)
	}
	pool := sameStreet
	if len(pool) == 0 {
		pool = other
	}
	if len(pool) > maxCandidateTries {
		pool = pool[:maxCandidateTries]
	}
	return r.lookupTitles(ctx, pool, tag)
}

// lookupTitles resolves candidates in order and returns the first usable
// title. A "no title" negative and any other per-candidate failure both
// mean "try the next one".
func (r *Resolver) lookupTitles(ctx context.Context, cands []landregistry.Candidate, tag model.Strategy) model.PlotResult {
	for _, cand := range cands {
		title, err := r.registry.TitleByUPRN(ctx, cand.UPRN)
		switch {
		case faults.IsNotFound(err):
			continue
		case err != nil:
			zap.L().Debug("plots: title lookup failed",
				zap.String("uprn", cand.UPRN), zap.Error(err))
			continue
		case title.PlotAreaSqM == nil:
			continue
		}
		return model.PlotResult{
			AreaSqM:        title.PlotAreaSqM,
			UPRN:           cand.UPRN,
			TitleNumber:    title.TitleNumber,
			MatchedAddress: cand.Address,
			Strategy:       tag,
		}
	}
	return model.PlotResult{}
}

func partition(cands []landregistry.Candidate, number, street string) (exact, sameStreet, other []landregistry.Candidate) {
	for _, c := range cands {
		switch {
		case number != "" && street != "" &&
			strings.EqualFold(c.Number, number) && streetEqual(c.Street, street):
			exact = append(exact, c)
		case street != "" && streetEqual(c.Street, street):
			sameStreet = append(sameStreet, c)
		default:
			other = append(other, c)
		}
	}
	return exact, sameStreet, other
}

func streetEqual(a, b string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(a) == norm(b)
}
