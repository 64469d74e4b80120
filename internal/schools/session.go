package schools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cookie is the durable form of one session cookie. The browser-side
// network types don't round-trip through JSON cleanly, so we keep our own.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// SessionStore persists cookies between runs. Writes are last-write-wins;
// concurrent logins racing to persist are tolerated.
type SessionStore struct {
	path string
}

// NewSessionStore stores cookies at path, creating parent directories on
// first save.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Load returns the persisted cookies, or an empty slice when no session
// file exists yet.
func (s *SessionStore) Load() ([]Cookie, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []Cookie{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: read %s", s.path)
	}
	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		// A corrupt session file just means a fresh login.
		zap.L().Warn("session: corrupt cookie file, discarding", zap.String("path", s.path))
		return []Cookie{}, nil
	}
	return cookies, nil
}

// Save persists cookies, replacing any previous session.
func (s *SessionStore) Save(cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrap(err, "session: create dir")
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return eris.Wrap(err, "session: marshal cookies")
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return eris.Wrapf(err, "session: write %s", s.path)
	}
	return nil
}

// welcomePhrases are the response-body markers that prove an authenticated
// session. Any one of them is enough.
var welcomePhrases = []string{
	"Welcome back",
	"My saved searches",
	"Sign out",
}

// checkFn probes a lightweight authenticated-only endpoint and reports
// whether the current cookies are still accepted. Probe errors mean "not
// authenticated", never a hard failure.
type checkFn func(ctx context.Context) (bool, error)

// loginFn performs a fresh credential login. Only a loginFn error is fatal
// to the flow.
type loginFn func(ctx context.Context) error

// ensureSession reuses the existing session when the probe accepts it and
// falls back to a fresh login otherwise. It reports whether a login was
// performed so the caller knows the cookies changed.
func ensureSession(ctx context.Context, check checkFn, login loginFn) (freshLogin bool, err error) {
	ok, err := check(ctx)
	if err != nil {
		zap.L().Debug("session: probe failed, treating as unauthenticated", zap.Error(err))
		ok = false
	}
	if ok {
		return false, nil
	}
	if err := login(ctx); err != nil {
		return false, eris.Wrap(err, "session: fresh login")
	}
	return true, nil
}

// bodyLooksAuthenticated scans a probe response body for the welcome
// markers.
func bodyLooksAuthenticated(body string) bool {
	for _, phrase := range welcomePhrases {
		if phrase != "" && containsFold(body, phrase) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
