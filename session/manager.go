package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultRedirect is where TakeRedirect points when nothing was stashed.
const DefaultRedirect = "/status"

// Manager is the single owner of a profile's session state. It is safe for
// concurrent use.
type Manager struct {
	store   Store
	profile string
	jar     http.CookieJar
	baseURL *url.URL
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	info     Info
	state    State
	redirect string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager for profile. jar is the credential store the
// HTTP client sends cookies from; baseURL scopes the cookies that are
// persisted. A nil store keeps state in memory only.
func NewManager(store Store, profile string, jar http.CookieJar, baseURL *url.URL, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store:   store,
		profile: profile,
		jar:     jar,
		baseURL: baseURL,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the persisted session and replays its cookies into the jar.
// A missing session leaves the manager anonymous and is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	info, err := m.store.Load(ctx, m.profile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if m.jar != nil && m.baseURL != nil && len(info.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(info.Cookies))
		for _, c := range info.Cookies {
			path := c.Path
			if path == "" {
				path = "/"
			}
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: path})
		}
		m.jar.SetCookies(m.baseURL, cookies)
	}

	m.mu.Lock()
	m.info = *info
	if info.LoggedIn {
		m.state = Authenticated
	} else {
		m.state = Anonymous
	}
	m.mu.Unlock()
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsLoggedIn is true while Authenticated or Refreshing.
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.LoggedIn
}

// IsAdmin is true for a logged-in admin.
func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.LoggedIn && m.info.IsAdmin
}

// UserID returns the active user id, 0 when anonymous.
func (m *Manager) UserID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.info.LoggedIn {
		return 0
	}
	return m.info.UserID
}

// Username is the name given at login.
func (m *Manager) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.Username
}

// Snapshot returns a copy of the current Info.
func (m *Manager) Snapshot() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.info
	out.Cookies = append([]Cookie(nil), m.info.Cookies...)
	return out
}

// MarkLoggedIn records a successful login and persists it together with the
// credential cookies currently in the jar.
func (m *Manager) MarkLoggedIn(ctx context.Context, username string, userID int64, isAdmin bool) error {
	m.mu.Lock()
	m.info = Info{
		SchemaVersion: CurrentSchemaVersion,
		LoggedIn:      true,
		IsAdmin:       isAdmin,
		UserID:        userID,
		Username:      username,
		Cookies:       m.jarCookies(),
		UpdatedAt:     m.now().Unix(),
	}
	m.state = Authenticated
	info := m.info
	m.mu.Unlock()

	return m.store.Save(ctx, m.profile, &info)
}

// MarkLoggedOut forgets the login, drops credential cookies from the jar and
// clears the persisted session.
func (m *Manager) MarkLoggedOut(ctx context.Context) error {
	m.mu.Lock()
	username := m.info.Username
	m.info = Info{SchemaVersion: CurrentSchemaVersion, Username: username, UpdatedAt: m.now().Unix()}
	m.state = Anonymous
	m.mu.Unlock()

	m.expireJarCookies()
	return m.store.Clear(ctx, m.profile)
}

// BeginRefresh moves an Authenticated session to Refreshing. It reports
// false when the session is not Authenticated.
func (m *Manager) BeginRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return false
	}
	m.state = Refreshing
	return true
}

// EndRefresh settles a refresh. Success returns to Authenticated and
// persists the rotated cookies; failure ends the session.
func (m *Manager) EndRefresh(ctx context.Context, ok bool) error {
	if !ok {
		return m.MarkLoggedOut(ctx)
	}

	m.mu.Lock()
	if m.state == Refreshing {
		m.state = Authenticated
	}
	m.info.Cookies = m.jarCookies()
	m.info.UpdatedAt = m.now().Unix()
	info := m.info
	m.mu.Unlock()

	if !info.LoggedIn {
		return nil
	}
	if err := m.store.Save(ctx, m.profile, &info); err != nil {
		m.logger.Warn("session: persisting refreshed credentials failed", "profile", m.profile, "error", err)
		return err
	}
	return nil
}

// AbortRefresh returns a Refreshing session to Authenticated without touching
// the credentials, for refresh failures that say nothing about the login.
func (m *Manager) AbortRefresh() {
	m.mu.Lock()
	if m.state == Refreshing {
		m.state = Authenticated
	}
	m.mu.Unlock()
}

// SetRedirect stashes the path to return to after the next login.
func (m *Manager) SetRedirect(path string) {
	m.mu.Lock()
	m.redirect = path
	m.mu.Unlock()
}

// TakeRedirect returns and clears the stashed path, DefaultRedirect if none.
func (m *Manager) TakeRedirect() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := m.redirect
	m.redirect = ""
	if path == "" {
		return DefaultRedirect
	}
	return path
}

// AccessTokenExpiry returns the expiry of the access token cookie, if the
// jar holds one that parses.
func (m *Manager) AccessTokenExpiry() (time.Time, bool) {
	if m.jar == nil || m.baseURL == nil {
		return time.Time{}, false
	}
	for _, c := range m.jar.Cookies(m.baseURL) {
		if c.Name != AccessTokenCookie {
			continue
		}
		exp, err := TokenExpiry(c.Value)
		if err != nil {
			return time.Time{}, false
		}
		return exp, true
	}
	return time.Time{}, false
}

// AccessTokenExpiresWithin reports whether the access token expires within
// d. A missing or unreadable token counts as not expiring.
func (m *Manager) AccessTokenExpiresWithin(d time.Duration) bool {
	exp, ok := m.AccessTokenExpiry()
	if !ok {
		return false
	}
	return exp.Sub(m.now()) <= d
}

func (m *Manager) jarCookies() []Cookie {
	if m.jar == nil || m.baseURL == nil {
		return nil
	}
	var out []Cookie
	for _, c := range m.jar.Cookies(m.baseURL) {
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Path: "/"})
		if len(out) == maxCookies {
			break
		}
	}
	return out
}

func (m *Manager) expireJarCookies() {
	if m.jar == nil || m.baseURL == nil {
		return
	}
	var expired []*http.Cookie
	for _, c := range m.jar.Cookies(m.baseURL) {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		m.jar.SetCookies(m.baseURL, expired)
	}
}
