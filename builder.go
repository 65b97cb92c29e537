package lbclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/little-brother/lbclient/internal/events"
	"github.com/little-brother/lbclient/session"
	"github.com/little-brother/lbclient/transport"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Client. Configure it once, call Build once.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	httpClient *http.Client
	navigator  transport.Navigator
	eventSink  EventSink
	store      session.Store

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis persists the session in Redis so several processes share one
// login. Ignored when WithSessionStore is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient supplies the underlying client. Its Transport becomes the
// inner RoundTripper of the refresh pipeline; its Jar is not used.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithNavigator is called whenever the user has to log in again.
func (b *Builder) WithNavigator(n transport.Navigator) *Builder {
	b.navigator = n
	return b
}

// WithEventSink sets where the dispatcher delivers client events.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithSessionStore sets the persistence for the session. It takes
// precedence over WithRedis.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithMetricsEnabled overrides Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(v bool) *Builder {
	b.config.Metrics.Enabled = v
	return b
}

// WithLatencyHistograms overrides Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(v bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = v
	return b
}

// Build validates the configuration and wires the client. It performs no
// network I/O; call Client.Restore to load a persisted session.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.API.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("API BaseURL is invalid: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	store := b.store
	if store == nil {
		if b.redis != nil {
			store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL)
		} else {
			store = session.NewMemoryStore()
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics)
	var navigate events.NavigateFunc
	if b.navigator != nil {
		navigate = b.navigator.NavigateToLogin
	}
	dispatcher := events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
		Navigate:   navigate,
	}, b.eventSink)

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger,
		metrics: metrics,
		events:  dispatcher,
		session: session.NewManager(store, cfg.Session.Profile, jar, baseURL, session.WithLogger(logger)),
	}

	var inner http.RoundTripper
	timeout := cfg.API.Timeout
	if b.httpClient != nil {
		inner = b.httpClient.Transport
		if b.httpClient.Timeout > 0 {
			timeout = b.httpClient.Timeout
		}
	}

	c.pipeline = transport.New(inner, pipelineSession{c}, transport.NavigatorFunc(c.navigateToLogin),
		transport.WithJar(jar),
		transport.WithLogger(logger),
		transport.WithObserver(pipelineObserver{metrics: metrics}),
	)
	c.http = &http.Client{
		Transport: c.pipeline,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	b.built = true
	return c, nil
}

// pipelineSession exposes the Client to the transport pipeline.
type pipelineSession struct {
	c *Client
}

func (s pipelineSession) IsLoggedIn(context.Context) bool {
	return s.c.session.IsLoggedIn()
}

func (s pipelineSession) IsLoginRequest(req *http.Request) bool {
	return s.c.IsLoginRequest(req)
}

func (s pipelineSession) Refresh(ctx context.Context) error {
	return s.c.refreshCredential(ctx)
}
