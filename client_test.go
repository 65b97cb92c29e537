package lbclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/little-brother/lbclient/internal/fakeserver"
	"github.com/little-brother/lbclient/models"
	"github.com/little-brother/lbclient/session"
	"github.com/little-brother/lbclient/transport"
	"github.com/redis/go-redis/v9"
)

type harness struct {
	srv        *fakeserver.Server
	ts         *httptest.Server
	client     *Client
	sink       *ChannelSink
	navigation atomic.Int32
}

type harnessOption func(*Config, *Builder)

func withRedis(rdb redis.UniversalClient) harnessOption {
	return func(_ *Config, b *Builder) { b.WithRedis(rdb) }
}

func newHarness(t *testing.T, srvOpts []fakeserver.Option, opts ...harnessOption) *harness {
	t.Helper()
	srv, err := fakeserver.New(srvOpts...)
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	h := &harness{srv: srv, ts: ts, sink: NewChannelSink(256)}
	h.client = h.build(t, opts...)
	return h
}

// build makes another client against the same server.
func (h *harness) build(t *testing.T, opts ...harnessOption) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.API.BaseURL = h.ts.URL + fakeserver.DefaultPrefix
	cfg.Poll.MinInterval = 10 * time.Millisecond
	cfg.Poll.Interval = 20 * time.Millisecond
	cfg.Events.DropIfFull = false

	b := New().
		WithEventSink(h.sink).
		WithNavigator(transport.NavigatorFunc(func(context.Context, error) { h.navigation.Add(1) }))
	for _, opt := range opts {
		opt(&cfg, b)
	}
	c, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) login(t *testing.T, user, pass string) {
	t.Helper()
	if _, err := h.client.Login(context.Background(), user, pass); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

// navigations waits for queued login navigations and counts them.
func (h *harness) navigations() int32 {
	h.client.Settle()
	return h.navigation.Load()
}

func waitEvent(t *testing.T, sink *ChannelSink, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-sink.Events():
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestLoginMarksSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.client.Login(ctx, fakeserver.AdminUser, fakeserver.AdminPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Status != "OK" || !res.IsAdmin {
		t.Fatalf("unexpected result %+v", res)
	}
	if !h.client.IsLoggedIn() || !h.client.IsAdmin() || h.client.ActiveUserID() != int64(res.UserID) {
		t.Fatal("session not marked logged in")
	}
	if h.client.SessionState() != session.Authenticated {
		t.Fatalf("expected authenticated, got %s", h.client.SessionState())
	}
	e := waitEvent(t, h.sink, EventLogin)
	if !e.Success || e.Metadata["username"] != fakeserver.AdminUser {
		t.Fatalf("unexpected login event %+v", e)
	}
	if h.client.Metrics().Value(MetricLoginSuccess) != 1 {
		t.Fatal("expected login success metric")
	}
}

func TestLoginWrongPasswordNotIntercepted(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.client.Login(context.Background(), fakeserver.AdminUser, "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if h.client.IsLoggedIn() {
		t.Fatal("expected logged out")
	}
	if h.srv.RefreshCalls() != 0 || h.navigations() != 0 {
		t.Fatalf("login failure must not refresh or navigate (refresh=%d nav=%d)", h.srv.RefreshCalls(), h.navigations())
	}
}

func TestLoginRejectsEmptyUsername(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.client.Login(context.Background(), " ", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if h.srv.LoginCalls() != 0 {
		t.Fatal("no request expected")
	}
}

func TestExpiredAccessRefreshesTransparently(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)
	h.srv.ExpireAccessTokens()

	statuses, err := h.client.UserStatus(context.Background())
	if err != nil {
		t.Fatalf("UserStatus: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if h.srv.RefreshCalls() != 1 || h.client.RefreshGeneration() != 1 {
		t.Fatalf("expected one refresh, server saw %d, generation %d", h.srv.RefreshCalls(), h.client.RefreshGeneration())
	}
	if h.client.Metrics().Value(MetricRetry) != 1 {
		t.Fatal("expected one retry")
	}
	if h.client.SessionState() != session.Authenticated {
		t.Fatalf("expected authenticated after refresh, got %s", h.client.SessionState())
	}
	waitEvent(t, h.sink, EventRefresh)
}

func TestConcurrentExpiryRefreshesOnce(t *testing.T) {
	h := newHarness(t, []fakeserver.Option{fakeserver.WithRefreshDelay(50 * time.Millisecond)})
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)
	h.srv.ExpireAccessTokens()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.client.UserStatus(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
}

func TestRefreshRejectedNavigatesAndLogsOut(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)
	h.srv.ExpireAccessTokens()
	h.srv.ExpireRefreshTokens()

	_, err := h.client.UserStatus(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected the refresh's 401, got %d", StatusCode(err))
	}
	if h.navigations() != 1 {
		t.Fatalf("expected one navigation, got %d", h.navigations())
	}
	if h.client.IsLoggedIn() {
		t.Fatal("expected session ended")
	}
	waitEvent(t, h.sink, EventLoginRequired)
	if h.client.Metrics().Value(MetricLoginRedirect) != 1 {
		t.Fatal("expected login redirect metric")
	}
}

func TestRefreshServerErrorKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)
	h.srv.ExpireAccessTokens()
	h.srv.FailRefresh(http.StatusBadGateway)

	_, err := h.client.UserStatus(context.Background())
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 refresh error, got %v", err)
	}
	if h.navigations() != 0 {
		t.Fatal("5xx refresh must not navigate")
	}
	if !h.client.IsLoggedIn() || h.client.SessionState() != session.Authenticated {
		t.Fatalf("expected session kept, state %s", h.client.SessionState())
	}

	h.srv.FailRefresh(0)
	if _, err := h.client.UserStatus(context.Background()); err != nil {
		t.Fatalf("expected recovery after server heals: %v", err)
	}
}

func TestAnonymousRequestNavigates(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.client.UserStatus(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if h.navigations() != 1 || h.srv.RefreshCalls() != 0 {
		t.Fatalf("expected navigation without refresh (nav=%d refresh=%d)", h.navigations(), h.srv.RefreshCalls())
	}
}

func TestSessionSharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, nil, withRedis(rdb))
	h.login(t, fakeserver.AdminUser, fakeserver.AdminPassword)

	other := h.build(t, withRedis(rdb))
	if other.IsLoggedIn() {
		t.Fatal("second client should start anonymous")
	}
	if err := other.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !other.IsLoggedIn() || !other.IsAdmin() {
		t.Fatal("restored session should be an admin login")
	}
	if _, err := other.UserAdmin(context.Background()); err != nil {
		t.Fatalf("restored cookies should authenticate: %v", err)
	}

	if _, err := h.client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	third := h.build(t, withRedis(rdb))
	if err := third.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if third.IsLoggedIn() {
		t.Fatal("logout should clear the shared session")
	}
}

func TestGuardStashesRedirect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.client.Guard(ctx, "/admin/2"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if h.navigations() != 1 {
		t.Fatal("expected navigation")
	}
	h.login(t, fakeserver.AdminUser, fakeserver.AdminPassword)
	if err := h.client.Guard(ctx, "/users"); err != nil {
		t.Fatalf("Guard after login: %v", err)
	}
	if got := h.client.TakeRedirect(); got != "/admin/2" {
		t.Fatalf("expected stashed redirect, got %q", got)
	}
	if got := h.client.TakeRedirect(); got != h.client.DefaultRedirect() {
		t.Fatalf("expected default redirect, got %q", got)
	}
}

func TestEnsureAuthenticated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)

	if err := h.client.EnsureAuthenticated(ctx); err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}

	h.srv.ExpireAccessTokens()
	h.srv.ExpireRefreshTokens()
	if err := h.client.EnsureAuthenticated(ctx); err == nil {
		t.Fatal("expected failure")
	}
	if h.client.IsLoggedIn() {
		t.Fatal("failed check must mark logged out")
	}
}

func TestStatusSortedAndDetails(t *testing.T) {
	h := newHarness(t, []fakeserver.Option{fakeserver.WithForeignObjects()})
	ctx := context.Background()
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)

	var snaps []StatusSnapshot
	var mu sync.Mutex
	pctx, cancel := context.WithCancel(ctx)
	p := h.client.NewPoller(func(s StatusSnapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		n := len(snaps)
		mu.Unlock()
		if n == 2 {
			cancel()
		}
	}, WithPollInterval(10*time.Millisecond))
	if err := p.Run(pctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	first := snaps[0]
	mu.Unlock()
	if first.Err != nil {
		t.Fatalf("poll failed: %v", first.Err)
	}
	if len(first.Statuses) != 2 || first.Statuses[0].FullName != "Alice Smith" {
		t.Fatalf("expected statuses sorted by full name, got %+v", first.Statuses)
	}
	if !first.HasDowntime {
		t.Fatal("expected downtime")
	}
	if h.client.Metrics().Value(MetricDecodeMiss) == 0 {
		t.Fatal("expected the foreign object to count as decode miss")
	}

	detail, err := h.client.UserStatusDetails(ctx, fakeserver.AliceID)
	if err != nil {
		t.Fatalf("UserStatusDetails: %v", err)
	}
	if len(detail.UserStatusDetails) != 1 || len(detail.UserStatusDetails[0].UserStatusDetails) != 1 {
		t.Fatalf("expected nested detail rows, got %+v", detail.UserStatusDetails)
	}
	if _, err := h.client.UserStatusDetails(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPollerUsesControlInterval(t *testing.T) {
	h := newHarness(t, []fakeserver.Option{fakeserver.WithRefreshInterval(1)})
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)

	p := h.client.NewPoller(func(StatusSnapshot) {})
	got := p.resolveInterval(context.Background())
	if got != 10*time.Millisecond {
		t.Fatalf("expected interval clamped to MinInterval, got %v", got)
	}
}

func TestAdminOperations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.login(t, fakeserver.AdminUser, fakeserver.AdminPassword)

	admins, err := h.client.UserAdmin(ctx)
	if err != nil || len(admins) != 2 {
		t.Fatalf("UserAdmin: %d %v", len(admins), err)
	}
	details, err := h.client.UserAdminDetails(ctx, fakeserver.AliceID)
	if err != nil {
		t.Fatalf("UserAdminDetails: %v", err)
	}
	ext, err := h.client.TimeExtensions(ctx, fakeserver.AliceID)
	if err != nil || len(ext.TimeExtensionPeriods) == 0 {
		t.Fatalf("TimeExtensions: %+v %v", ext, err)
	}

	if err := h.client.ExtendTime(ctx, fakeserver.AliceID, 30); err != nil {
		t.Fatalf("ExtendTime: %v", err)
	}
	if h.srv.Extension(fakeserver.AliceID) != 30 {
		t.Fatal("extension not applied")
	}
	waitEvent(t, h.sink, EventUpdateUserStatusDetails)

	date := details.UserAdminDetails[0].DateInISO8601
	rules, err := models.ParseRuleSetInput(models.RuleSetInput{MaxTimePerDay: "1h30m", MinTimeOfDay: "7:30"})
	if err != nil {
		t.Fatalf("ParseRuleSetInput: %v", err)
	}
	if err := h.client.UpdateRuleOverride(ctx, fakeserver.AliceID, date, rules); err != nil {
		t.Fatalf("UpdateRuleOverride: %v", err)
	}
	got, ok := h.srv.Override(fakeserver.AliceID, date)
	if !ok || got.MaxTimePerDayInSeconds == nil || *got.MaxTimePerDayInSeconds != 5400 {
		t.Fatalf("override not stored: %+v", got)
	}
	waitEvent(t, h.sink, EventUpdateUserAdminDetails)

	if err := h.client.ExtendTime(ctx, 0, 30); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNonAdminForbidden(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)

	_, err := h.client.UserAdmin(context.Background())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// A 403 on a normal call is not a refresh trigger.
	if h.srv.RefreshCalls() != 0 || h.navigations() != 0 {
		t.Fatal("403 must pass through")
	}
}

func TestUserOperations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.login(t, fakeserver.AdminUser, fakeserver.AdminPassword)

	users, err := h.client.Users(ctx)
	if err != nil || len(users) != 3 {
		t.Fatalf("Users: %d %v", len(users), err)
	}

	id, err := h.client.AddUser(ctx, "carol")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if id.ID != fakeserver.CarolID || !h.srv.Monitored("carol") {
		t.Fatalf("unexpected add result %+v", id)
	}
	waitEvent(t, h.sink, EventUpdateUserList)

	if _, err := h.client.AddUser(ctx, "carol"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for duplicate, got %v", err)
	}

	u, err := h.client.User(ctx, fakeserver.AliceID)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	u.Locale = "de"
	if err := h.client.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	waitEvent(t, h.sink, EventUpdateUser)

	u.Username = "mallory"
	if err := h.client.UpdateUser(ctx, u); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	if err := h.client.RemoveUser(ctx, "carol"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if h.srv.Monitored("carol") {
		t.Fatal("carol should be unmonitored")
	}
}

func TestAboutIsCached(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.client.About(ctx)
	if err != nil {
		t.Fatalf("About: %v", err)
	}
	first["version"] = "mutated"
	second, err := h.client.About(ctx)
	if err != nil {
		t.Fatalf("About: %v", err)
	}
	if second["version"] == "mutated" {
		t.Fatal("cached value must not alias the returned map")
	}
	if h.srv.AboutCalls() != 1 {
		t.Fatalf("expected one server call, got %d", h.srv.AboutCalls())
	}
}

func TestControl(t *testing.T) {
	h := newHarness(t, []fakeserver.Option{fakeserver.WithRefreshInterval(2500)})
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)

	control, err := h.client.Control(context.Background())
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if control.RefreshIntervalInMilliseconds != 2500 || control.Languages["de"] == "" {
		t.Fatalf("unexpected control %+v", control)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	var seen atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(transport.RequestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"1"}`))
	}))
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.API.BaseURL = ts.URL
	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Close()

	if _, err := c.About(WithRequestID(context.Background(), "req-42")); err != nil {
		t.Fatalf("About: %v", err)
	}
	if seen.Load() != "req-42" {
		t.Fatalf("expected request id header, got %v", seen.Load())
	}
}

func TestClosedClientNotReady(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.client.Close()
	if _, err := h.client.UserStatus(context.Background()); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady, got %v", err)
	}

	var nilClient *Client
	if err := nilClient.Restore(context.Background()); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady on nil client, got %v", err)
	}
}

func TestIsLoginRequestExactPath(t *testing.T) {
	h := newHarness(t, nil)
	base := h.ts.URL + fakeserver.DefaultPrefix

	login, _ := http.NewRequest(http.MethodPost, base+"/login", nil)
	status, _ := http.NewRequest(http.MethodGet, base+"/login-status", nil)
	if !h.client.IsLoginRequest(login) {
		t.Fatal("expected /login to be the login request")
	}
	if h.client.IsLoginRequest(status) {
		t.Fatal("/login-status must not count as the login request")
	}
}

func TestExplicitRefreshJoinsPipelineRefresh(t *testing.T) {
	h := newHarness(t, []fakeserver.Option{fakeserver.WithRefreshDelay(300 * time.Millisecond)})
	ctx := context.Background()
	h.login(t, fakeserver.ParentUser, fakeserver.ParentPass)
	h.srv.ExpireAccessTokens()

	statusErr := make(chan error, 1)
	go func() {
		_, err := h.client.UserStatus(ctx)
		statusErr <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.client.PipelineState() != transport.StateRefreshing {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never started refreshing")
		}
		time.Sleep(time.Millisecond)
	}

	const callers = 3
	refreshErrs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { refreshErrs <- h.client.Refresh(ctx) }()
	}
	for i := 0; i < callers; i++ {
		if err := <-refreshErrs; err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if err := <-statusErr; err != nil {
		t.Fatalf("UserStatus: %v", err)
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("server saw %d refresh calls, want 1", got)
	}
	if h.client.RefreshGeneration() != 1 {
		t.Fatalf("generation = %d", h.client.RefreshGeneration())
	}
}

func TestBlockingNavigatorDoesNotDelayErrors(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }

	blocking := transport.NavigatorFunc(func(context.Context, error) { <-gate })
	c := h.build(t, func(_ *Config, b *Builder) { b.WithNavigator(blocking) })
	// Runs before the client's Close cleanup.
	t.Cleanup(release)

	returns := func(what string, call func() error) error {
		t.Helper()
		done := make(chan error, 1)
		go func() { done <- call() }()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatalf("%s blocked on the navigator", what)
			return nil
		}
	}

	ctx := context.Background()
	err := returns("anonymous request", func() error {
		_, err := c.UserStatus(ctx)
		return err
	})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	err = returns("guard", func() error { return c.Guard(ctx, "/admin") })
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn from Guard, got %v", err)
	}
	if c.PipelineState() != transport.StateIdle {
		t.Fatal("navigation must not hold the pipeline state")
	}

	release()
	c.Settle()
	if got := c.LoginNavigations(); got != 2 {
		t.Fatalf("navigator completed %d times, want 2", got)
	}
}
