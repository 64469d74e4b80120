// Package schools drives a real browser through the session-authenticated
// school-attendance site: cookie reuse with login fallback, a map search
// whose coordinate is acquired by racing several page signals, and
// response interception of the internal catchment data call.
package schools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/doorstep-labs/doorstep/internal/cache"
	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

const (
	// geocodeFragment and catchmentFragment identify the two internal
	// calls worth intercepting, matched by URL substring.
	geocodeFragment   = "/internal/geocode"
	catchmentFragment = "/internal/catchment-data"

	// minCatchmentBytes rejects clearly-truncated captures.
	minCatchmentBytes = 256

	// interceptWait bounds how long the flow waits for the catchment
	// response after triggering the lookup.
	interceptWait     = 20
	interceptInterval = 500 * time.Millisecond

	// minAttendancePct filters noise rows out of the presented lists.
	minAttendancePct = 1.0
)

// Config holds the site credentials and browser settings.
type Config struct {
	BaseURL       string
	Username      string
	Password      string
	CookiePath    string
	ChromePath    string
	Headless      bool
	ScreenshotDir string
}

// Flow is the schools enrichment stage.
type Flow struct {
	cfg       Config
	sessions  *SessionStore
	generated *cache.Cache
}

// NewFlow wires the flow with the generated-results cache.
func NewFlow(cfg Config, generated *cache.Cache) *Flow {
	return &Flow{
		cfg:       cfg,
		sessions:  NewSessionStore(cfg.CookiePath),
		generated: generated,
	}
}

// Lookup resolves the attended-schools result for an address. A trusted
// coordinate from an earlier resolution step skips the site's own search
// entirely; the site can resolve to an adjacent-but-wrong area unit, so
// external precision outranks it. Missing credentials are fatal.
func (f *Flow) Lookup(ctx context.Context, address string, trusted *model.Coordinate, bypass bool) (*model.SchoolsResult, error) {
	if f.cfg.Username == "" || f.cfg.Password == "" {
		return nil, eris.Wrap(faults.ErrNoCredentials, "schools")
	}

	key := f.cacheKey(address, trusted)
	if bypass {
		f.generated.Delete(key)
	} else if v, ok := f.generated.Get(key); ok {
		res := v.(model.SchoolsResult)
		return &res, nil
	}

	result, err := f.run(ctx, address, trusted)
	if err != nil {
		return nil, err
	}
	f.generated.Set(key, *result)
	return result, nil
}

func (f *Flow) cacheKey(address string, trusted *model.Coordinate) string {
	if trusted != nil {
		return cache.Key("schools", trusted.Key())
	}
	return cache.Key("schools", cache.AddressPart(address))
}

func (f *Flow) run(ctx context.Context, address string, trusted *model.Coordinate) (*model.SchoolsResult, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// The browser is torn down on every exit path.
	defer cancelBrowser()

	geocodeIC := newInterceptor(browserCtx, geocodeFragment, 2)
	catchmentIC := newInterceptor(browserCtx, catchmentFragment, minCatchmentBytes)

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return nil, eris.Wrap(err, "schools: enable network")
	}
	if err := f.replayCookies(browserCtx); err != nil {
		zap.L().Warn("schools: cookie replay failed, continuing unauthenticated", zap.Error(err))
	}

	freshLogin, err := ensureSession(browserCtx,
		func(ctx context.Context) (bool, error) { return f.checkSession(ctx) },
		func(ctx context.Context) error { return f.freshLogin(ctx) },
	)
	if err != nil {
		return nil, err
	}
	// Cookies are persisted opportunistically so a fresh login survives
	// even when a later stage fails.
	defer f.persistCookies(browserCtx)
	if freshLogin {
		f.persistCookies(browserCtx)
	}

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(f.cfg.BaseURL+"/maps"),
		chromedp.WaitReady("body"),
	); err != nil {
		return nil, eris.Wrap(err, "schools: open map")
	}
	f.dismissModals(browserCtx)

	coord, source, err := f.acquireCoordinate(browserCtx, address, trusted, geocodeIC)
	if err != nil {
		if errors.Is(err, ErrSignalExhausted) {
			f.captureDiagnostic(browserCtx, "signal-exhausted")
		}
		return nil, err
	}
	zap.L().Info("schools: coordinate acquired",
		zap.String("source", string(source)), zap.String("coord", coord.Key()))

	body, err := f.interceptCatchment(browserCtx, *coord, catchmentIC)
	if err != nil {
		return nil, err
	}

	result, err := ParseCatchmentCall(body, *coord)
	if err != nil {
		return nil, err
	}
	result.Primary = model.FilterBelow(result.Primary, minAttendancePct)
	result.Secondary = model.FilterBelow(result.Secondary, minAttendancePct)
	return result, nil
}

func (f *Flow) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1400, 900),
	)
	if f.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ChromePath))
	}
	return opts
}

// checkSession probes the account page and scans it for the authenticated
// markers. Any probe error reads as "not authenticated".
func (f *Flow) checkSession(ctx context.Context) (bool, error) {
	var body string
	err := chromedp.Run(ctx,
		chromedp.Navigate(f.cfg.BaseURL+"/account"),
		chromedp.WaitReady("body"),
		chromedp.Text("body", &body, chromedp.ByQuery),
	)
	if err != nil {
		return false, err
	}
	return bodyLooksAuthenticated(body), nil
}

// freshLogin submits the credential form and verifies the browser left it:
// no error banner and the password field gone from the DOM.
func (f *Flow) freshLogin(ctx context.Context) error {
	var loginLeft bool
	err := chromedp.Run(ctx,
		chromedp.Navigate(f.cfg.BaseURL+"/login"),
		chromedp.WaitVisible(`#username`, chromedp.ByID),
		chromedp.SendKeys(`#username`, f.cfg.Username, chromedp.ByID),
		chromedp.SendKeys(`#password`, f.cfg.Password, chromedp.ByID),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(
			`document.querySelector('#password') === null && document.querySelector('.login-error') === null`,
			&loginLeft,
		),
	)
	if err != nil {
		return eris.Wrap(err, "schools: submit login")
	}
	if !loginLeft {
		return eris.New("schools: login rejected")
	}
	return nil
}

// dismissModals closes the cookie-consent and promo overlays when present.
// Best-effort only.
func (f *Flow) dismissModals(ctx context.Context) {
	err := chromedp.Run(ctx, chromedp.Evaluate(`(() => {
		for (const sel of ['#cookie-accept', '.modal-close', '.promo-dismiss']) {
			const el = document.querySelector(sel);
			if (el) { el.click(); }
		}
		return true;
	})()`, nil))
	if err != nil {
		zap.L().Debug("schools: modal dismissal failed", zap.Error(err))
	}
}

// markerExpr and centerExpr read the page's map state. Both evaluate to a
// {lat, lng} object or null, without blocking.
const (
	markerExpr = `(() => {
		const m = window.siteMap && window.siteMap.marker;
		if (!m || !m.getPosition) return null;
		const p = m.getPosition();
		return {lat: p.lat(), lng: p.lng()};
	})()`
	centerExpr = `(() => {
		if (!window.siteMap || !window.siteMap.getCenter) return null;
		const c = window.siteMap.getCenter();
		return {lat: c.lat(), lng: c.lng()};
	})()`
)

func (f *Flow) evalCoordinate(ctx context.Context, expr string) (*model.Coordinate, bool) {
	var coord *model.Coordinate
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &coord)); err != nil || coord == nil {
		return nil, false
	}
	return coord, true
}

func (f *Flow) acquireCoordinate(ctx context.Context, address string, trusted *model.Coordinate, geocodeIC *interceptor) (*model.Coordinate, SignalSource, error) {
	if trusted != nil {
		return trusted, SourceTrusted, nil
	}

	initialCenter, _ := f.evalCoordinate(ctx, centerExpr)

	// Open the search panel, arm the marker toggle, type the address.
	err := chromedp.Run(ctx,
		chromedp.Click(`#search-panel-toggle`, chromedp.ByID),
		chromedp.Click(`#place-marker-toggle`, chromedp.ByID),
		chromedp.SendKeys(`#map-search`, address+"\n", chromedp.ByID),
	)
	if err != nil {
		return nil, "", eris.Wrap(err, "schools: start map search")
	}

	race := newSignalRace(
		func(context.Context) (*model.Coordinate, bool) {
			body, ok := geocodeIC.take()
			if !ok {
				return nil, false
			}
			return parseGeocodeBody(body)
		},
		func(ctx context.Context) (*model.Coordinate, bool) { return f.evalCoordinate(ctx, markerExpr) },
		func(ctx context.Context) (*model.Coordinate, bool) { return f.evalCoordinate(ctx, centerExpr) },
	)
	return race.run(ctx, initialCenter)
}

// parseGeocodeBody extracts the first result coordinate from the site's
// internal geocode response.
func parseGeocodeBody(body []byte) (*model.Coordinate, bool) {
	var parsed struct {
		Results []model.Coordinate `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Results) == 0 {
		return nil, false
	}
	return &parsed.Results[0], true
}

// interceptCatchment embeds the catchment panel for the coordinate, which
// makes the site issue its internal data call, then waits for the
// interceptor to capture it.
func (f *Flow) interceptCatchment(ctx context.Context, coord model.Coordinate, ic *interceptor) ([]byte, error) {
	target := fmt.Sprintf("%s/maps/catchment?lat=%f&lng=%f", f.cfg.BaseURL, coord.Lat, coord.Lng)
	if err := chromedp.Run(ctx, chromedp.Navigate(target)); err != nil {
		return nil, eris.Wrap(err, "schools: open catchment panel")
	}

	for i := 0; i < interceptWait; i++ {
		if body, ok := ic.take(); ok {
			return body, nil
		}
		if err := sleepCtx(ctx, interceptInterval); err != nil {
			return nil, err
		}
	}
	f.captureDiagnostic(ctx, "catchment-timeout")
	return nil, &faults.TimeoutError{
		Provider: "schools",
		Op:       "intercept catchment data",
		Err:      eris.New("no response captured within budget"),
	}
}

func (f *Flow) replayCookies(ctx context.Context) error {
	cookies, err := f.sessions.Load()
	if err != nil || len(cookies) == 0 {
		return err
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if err := p.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (f *Flow) persistCookies(ctx context.Context) {
	var cookies []Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		zap.L().Debug("schools: cookie read failed", zap.Error(err))
		return
	}
	if err := f.sessions.Save(cookies); err != nil {
		zap.L().Warn("schools: cookie persist failed", zap.Error(err))
	}
}

// captureDiagnostic snapshots the page so a failed run can be inspected.
func (f *Flow) captureDiagnostic(ctx context.Context, label string) {
	if f.cfg.ScreenshotDir == "" {
		return
	}
	var png []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&png)); err != nil {
		zap.L().Debug("schools: screenshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(f.cfg.ScreenshotDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s-%s.png", label, time.Now().Format("20060102-150405"))
	path := filepath.Join(f.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, png, 0o644); err == nil {
		zap.L().Info("schools: diagnostic screenshot saved", zap.String("path", path))
	}
}
