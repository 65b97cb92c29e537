package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader is set on every outbound request that lacks one.
const RequestIDHeader = "X-Request-ID"

// Session is the authentication collaborator the pipeline consults.
type Session interface {
	// IsLoggedIn reports whether the session is currently authenticated.
	IsLoggedIn(ctx context.Context) bool
	// IsLoginRequest reports whether req targets the login endpoint.
	IsLoginRequest(req *http.Request) bool
	// Refresh renews the credential. Requests it issues must carry a
	// context from Bypass.
	Refresh(ctx context.Context) error
}

// Navigator sends the user to the login view. The pipeline calls it on its
// own goroutine after the request's error has been returned.
type Navigator interface {
	NavigateToLogin(ctx context.Context, reason error)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, reason error)

// NavigateToLogin calls f(ctx, reason).
func (f NavigatorFunc) NavigateToLogin(ctx context.Context, reason error) { f(ctx, reason) }

// Observer receives pipeline measurements.
type Observer interface {
	ObserveRequest(status int, err error, d time.Duration)
	ObserveRefresh(err error, d time.Duration)
	ObserveRetry()
	ObserveLoginRedirect()
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(int, error, time.Duration) {}
func (noopObserver) ObserveRefresh(error, time.Duration)      {}
func (noopObserver) ObserveRetry()                            {}
func (noopObserver) ObserveLoginRedirect()                    {}

// State is the refresh state of a Pipeline.
type State uint8

const (
	// StateIdle means no refresh is in flight.
	StateIdle State = iota
	// StateRefreshing means a refresh is in flight; unauthorized requests
	// wait for its outcome.
	StateRefreshing
)

// String returns "idle" or "refreshing".
func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

type bypassKey struct{}

// Bypass marks ctx so requests carrying it get credentials attached but are
// never intercepted. Refresh calls use it to avoid waiting on themselves.
func Bypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func bypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJar sets the credential store. Cookies for the target URL are added to
// each dispatch and Set-Cookie headers are stored back.
func WithJar(jar http.CookieJar) Option {
	return func(p *Pipeline) { p.jar = jar }
}

// WithLogger sets the logger for refresh and navigation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver sets the receiver of request, refresh and navigation
// measurements.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithRequestID replaces the request id generator.
func WithRequestID(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// Pipeline is an http.RoundTripper implementing the refresh protocol.
// It is safe for concurrent use; one Pipeline should serve one session.
type Pipeline struct {
	next      http.RoundTripper
	session   Session
	navigator Navigator
	jar       http.CookieJar
	logger    *slog.Logger
	observer  Observer
	newID     func() string
	navs      sync.WaitGroup

	mu         sync.Mutex
	inflight   *refreshCall
	last       *refreshCall
	cycle      uint64
	generation uint64
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// New wraps next (http.DefaultTransport when nil).
func New(next http.RoundTripper, session Session, navigator Navigator, opts ...Option) *Pipeline {
	if next == nil {
		next = http.DefaultTransport
	}
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, error) {})
	}
	p := &Pipeline{
		next:      next,
		session:   session,
		navigator: navigator,
		logger:    slog.Default(),
		observer:  noopObserver{},
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports whether a refresh is in flight.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight != nil {
		return StateRefreshing
	}
	return StateIdle
}

// Generation counts successful refreshes.
func (p *Pipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func (p *Pipeline) currentCycle() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycle
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = p.newID()
	}

	cycle := p.currentCycle()
	resp, err := p.dispatch(req, getBody, requestID)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if bypassed(ctx) || p.session.IsLoginRequest(req) {
		return resp, nil
	}

	if !p.session.IsLoggedIn(ctx) {
		drain(resp)
		p.logger.Debug("transport: unauthorized while logged out", "url", req.URL.String(), "request_id", requestID)
		go p.navigation(ctx, ErrNotLoggedIn)()
		return nil, ErrNotLoggedIn
	}
	drain(resp)

	if err := p.awaitRefresh(ctx, cycle); err != nil {
		return nil, err
	}

	p.observer.ObserveRetry()
	return p.dispatch(req, getBody, requestID)
}

// dispatch sends a fresh clone of req carrying the current credentials.
func (p *Pipeline) dispatch(req *http.Request, getBody func() (io.ReadCloser, error), requestID string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Set(RequestIDHeader, requestID)
	if p.jar != nil {
		for _, c := range p.jar.Cookies(out.URL) {
			out.AddCookie(c)
		}
	}

	start := time.Now()
	resp, err := p.next.RoundTrip(out)
	if err != nil {
		p.observer.ObserveRequest(0, err, time.Since(start))
		return nil, err
	}
	p.observer.ObserveRequest(resp.StatusCode, nil, time.Since(start))

	if p.jar != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			p.jar.SetCookies(out.URL, cookies)
		}
	}
	return resp, nil
}

// awaitRefresh joins the in-flight refresh or starts one. cycle is the
// refresh cycle the failed request was sent under; a request sent before a
// refresh completed shares that refresh's outcome instead of starting another.
func (p *Pipeline) awaitRefresh(ctx context.Context, cycle uint64) error {
	p.mu.Lock()
	if p.cycle != cycle && p.last != nil {
		err := p.last.err
		p.mu.Unlock()
		return err
	}
	call := p.joinLocked(ctx)
	p.mu.Unlock()

	return call.wait(ctx)
}

// Refresh renews the credential through the same single flight that
// unauthorized requests use: it joins the refresh in progress or starts a
// new one, and returns that refresh's outcome.
func (p *Pipeline) Refresh(ctx context.Context) error {
	p.mu.Lock()
	call := p.joinLocked(ctx)
	p.mu.Unlock()

	return call.wait(ctx)
}

// joinLocked returns the in-flight refresh, starting one when idle. p.mu must
// be held.
func (p *Pipeline) joinLocked(ctx context.Context) *refreshCall {
	if p.inflight == nil {
		p.inflight = &refreshCall{done: make(chan struct{})}
		go p.runRefresh(context.WithoutCancel(ctx), p.inflight)
	}
	return p.inflight
}

func (c *refreshCall) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) runRefresh(ctx context.Context, call *refreshCall) {
	start := time.Now()
	err := p.session.Refresh(Bypass(ctx))
	p.observer.ObserveRefresh(err, time.Since(start))

	if err == nil {
		p.logger.Debug("transport: credential refreshed")
	} else {
		p.logger.Warn("transport: credential refresh failed", "error", err)
	}

	// Registered before the waiters are released so Settle covers it.
	var nav func()
	if err != nil && IsClientError(err) {
		nav = p.navigation(ctx, err)
	}

	p.mu.Lock()
	if err == nil {
		p.generation++
	}
	call.err = err
	p.cycle++
	p.last = call
	p.inflight = nil
	p.mu.Unlock()
	close(call.done)

	if nav != nil {
		nav()
	}
}

// navigation counts a login redirect and returns the navigator call, which
// must run off the request's return path. Settle waits for it.
func (p *Pipeline) navigation(ctx context.Context, reason error) func() {
	p.observer.ObserveLoginRedirect()
	p.navs.Add(1)
	ctx = context.WithoutCancel(ctx)
	return func() {
		defer p.navs.Done()
		p.navigator.NavigateToLogin(ctx, reason)
	}
}

// Settle blocks until every navigation the pipeline started has returned.
func (p *Pipeline) Settle() {
	p.navs.Wait()
}

// replayableBody returns a body factory so the request can be sent twice.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		// The first dispatch consumes the caller's body.
		first := req.Body
		used := false
		var mu sync.Mutex
		return func() (io.ReadCloser, error) {
			mu.Lock()
			defer mu.Unlock()
			if !used {
				used = true
				return first, nil
			}
			return req.GetBody()
		}, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
