package session

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newManagerTest(t *testing.T, store Store) (*Manager, http.CookieJar, *url.URL) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	base, _ := url.Parse("http://lb.test/")
	return NewManager(store, "home", jar, base), jar, base
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestManagerLoginPersistsAndRestores(t *testing.T) {
	store := NewMemoryStore()
	m, jar, base := newManagerTest(t, store)
	ctx := context.Background()

	if m.State() != Anonymous || m.IsLoggedIn() {
		t.Fatal("new manager must be anonymous")
	}

	jar.SetCookies(base, []*http.Cookie{{Name: AccessTokenCookie, Value: "tok", Path: "/"}})
	if err := m.MarkLoggedIn(ctx, "admin", 1, true); err != nil {
		t.Fatalf("MarkLoggedIn: %v", err)
	}
	if m.State() != Authenticated || !m.IsAdmin() || m.UserID() != 1 {
		t.Fatalf("unexpected state after login: %v", m.Snapshot())
	}

	other, otherJar, _ := newManagerTest(t, store)
	if err := other.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !other.IsLoggedIn() || other.Username() != "admin" {
		t.Fatalf("restored state wrong: %#v", other.Snapshot())
	}
	cookies := otherJar.Cookies(base)
	if len(cookies) != 1 || cookies[0].Value != "tok" {
		t.Fatalf("cookies not restored into jar: %v", cookies)
	}
}

func TestManagerRestoreMissingIsAnonymous(t *testing.T) {
	m, _, _ := newManagerTest(t, nil)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m.State() != Anonymous {
		t.Fatalf("state = %v", m.State())
	}
}

func TestManagerLogoutClearsEverything(t *testing.T) {
	store := NewMemoryStore()
	m, jar, base := newManagerTest(t, store)
	ctx := context.Background()

	jar.SetCookies(base, []*http.Cookie{{Name: AccessTokenCookie, Value: "tok", Path: "/"}})
	_ = m.MarkLoggedIn(ctx, "admin", 1, true)

	if err := m.MarkLoggedOut(ctx); err != nil {
		t.Fatalf("MarkLoggedOut: %v", err)
	}
	if m.IsLoggedIn() || m.IsAdmin() || m.UserID() != 0 {
		t.Fatal("logout left login flags behind")
	}
	if len(jar.Cookies(base)) != 0 {
		t.Fatal("credential cookies survived logout")
	}
	if _, err := store.Load(ctx, "home"); err == nil {
		t.Fatal("persisted session survived logout")
	}
}

func TestManagerRefreshTransitions(t *testing.T) {
	m, _, _ := newManagerTest(t, nil)
	ctx := context.Background()

	if m.BeginRefresh() {
		t.Fatal("anonymous session cannot start a refresh")
	}
	_ = m.MarkLoggedIn(ctx, "u", 2, false)

	if !m.BeginRefresh() {
		t.Fatal("authenticated session must start a refresh")
	}
	if m.State() != Refreshing || !m.IsLoggedIn() {
		t.Fatalf("state = %v", m.State())
	}
	if m.BeginRefresh() {
		t.Fatal("second concurrent refresh must be refused")
	}
	if err := m.EndRefresh(ctx, true); err != nil {
		t.Fatalf("EndRefresh: %v", err)
	}
	if m.State() != Authenticated {
		t.Fatalf("state after success = %v", m.State())
	}

	m.BeginRefresh()
	m.AbortRefresh()
	if m.State() != Authenticated || !m.IsLoggedIn() {
		t.Fatalf("aborted refresh must keep the session, state = %v", m.State())
	}

	m.BeginRefresh()
	if err := m.EndRefresh(ctx, false); err != nil {
		t.Fatalf("EndRefresh(false): %v", err)
	}
	if m.State() != Anonymous || m.IsLoggedIn() {
		t.Fatal("failed refresh must end the session")
	}
}

func TestManagerRedirectStash(t *testing.T) {
	m, _, _ := newManagerTest(t, nil)
	if got := m.TakeRedirect(); got != DefaultRedirect {
		t.Fatalf("default redirect = %q", got)
	}
	m.SetRedirect("/admin")
	if got := m.TakeRedirect(); got != "/admin" {
		t.Fatalf("redirect = %q", got)
	}
	if got := m.TakeRedirect(); got != DefaultRedirect {
		t.Fatalf("redirect not cleared: %q", got)
	}
}

func TestManagerAccessTokenExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	jar, _ := cookiejar.New(nil)
	base, _ := url.Parse("http://lb.test/")
	m := NewManager(nil, "p", jar, base, WithClock(func() time.Time { return now }))

	if _, ok := m.AccessTokenExpiry(); ok {
		t.Fatal("no cookie must report no expiry")
	}

	jar.SetCookies(base, []*http.Cookie{{Name: AccessTokenCookie, Value: signedToken(t, now.Add(30*time.Second)), Path: "/"}})
	exp, ok := m.AccessTokenExpiry()
	if !ok || !exp.Equal(now.Add(30*time.Second)) {
		t.Fatalf("expiry = %v, %v", exp, ok)
	}
	if !m.AccessTokenExpiresWithin(time.Minute) {
		t.Fatal("token expiring in 30s must be within a minute")
	}
	if m.AccessTokenExpiresWithin(10 * time.Second) {
		t.Fatal("token expiring in 30s is not within 10s")
	}
}

func TestTokenExpiryErrors(t *testing.T) {
	if _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Fatal("expected parse error")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"})
	raw, _ := tok.SignedString([]byte("k"))
	if _, err := TokenExpiry(raw); err != ErrNoExpiry {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
}
