package lbclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadConfig.
const (
	EnvConfigPath = "LBCLIENT_CONFIG"
	EnvBaseURL    = "LBCLIENT_BASE_URL"
)

// Config is the complete client configuration. Build clones it, so later
// changes to a Config value do not affect a built Client.
type Config struct {
	API     APIConfig
	Session SessionConfig
	Poll    PollConfig
	Events  EventsConfig
	Metrics MetricsConfig

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the LittleBrother API.
type APIConfig struct {
	// BaseURL is prefixed to every relative endpoint path.
	BaseURL string

	LoginPath       string
	LogoutPath      string
	RefreshPath     string
	LoginStatusPath string

	// Timeout bounds a single HTTP exchange. Zero means none.
	Timeout   time.Duration
	UserAgent string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls where the login state is kept.
type SessionConfig struct {
	// Profile names the stored session, so one store can hold several logins.
	Profile     string
	RedisPrefix string
	// TTL expires a stored session. Zero keeps it until logout.
	TTL time.Duration
	// RefreshAhead renews the credential proactively when the access token
	// expires within this window. Zero disables proactive refresh.
	RefreshAhead time.Duration
}

/*
====================================
POLL CONFIG
====================================
*/

// PollConfig controls the status poller.
type PollConfig struct {
	// Interval is used when the server publishes no refresh interval.
	Interval    time.Duration
	MinInterval time.Duration
}

/*
====================================
EVENTS / METRICS CONFIG
====================================
*/

// EventsConfig controls the async event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration Build uses when none is given.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:         "http://localhost:5560/api",
			LoginPath:       "/login",
			LogoutPath:      "/logout",
			RefreshPath:     "/refresh",
			LoginStatusPath: "/login-status",
			Timeout:         30 * time.Second,
			UserAgent:       "lbclient",
		},
		Session: SessionConfig{
			Profile:     "default",
			RedisPrefix: "lb",
			TTL:         7 * 24 * time.Hour,
		},
		Poll: PollConfig{
			Interval:    5 * time.Second,
			MinInterval: time.Second,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values Build cannot work with.
func (c *Config) Validate() error {
	// API
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("API BaseURL must be set")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("API BaseURL is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("API BaseURL must use http or https")
	}
	if u.Host == "" {
		return errors.New("API BaseURL must include a host")
	}
	for name, p := range map[string]string{
		"LoginPath":       c.API.LoginPath,
		"LogoutPath":      c.API.LogoutPath,
		"RefreshPath":     c.API.RefreshPath,
		"LoginStatusPath": c.API.LoginStatusPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("API %s must start with /", name)
		}
	}
	if c.API.Timeout < 0 {
		return errors.New("API Timeout must be >= 0")
	}

	// Session
	if strings.TrimSpace(c.Session.Profile) == "" {
		return errors.New("Session Profile must be set")
	}
	if strings.ContainsAny(c.Session.Profile, " :") {
		return errors.New("Session Profile must not contain spaces or colons")
	}
	if c.Session.TTL < 0 {
		return errors.New("Session TTL must be >= 0")
	}
	if c.Session.RefreshAhead < 0 {
		return errors.New("Session RefreshAhead must be >= 0")
	}

	// Poll
	if c.Poll.MinInterval <= 0 {
		return errors.New("Poll MinInterval must be > 0")
	}
	if c.Poll.Interval < c.Poll.MinInterval {
		return errors.New("Poll Interval must be >= MinInterval")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when enabled")
	}

	return nil
}

/*
====================================
FILE LOADING
====================================
*/

// fileConfig is the on-disk shape. Durations are Go duration strings. The
// JSON names follow the web frontend's config.json, so that file loads as is.
type fileConfig struct {
	BaseURL   string `yaml:"base_url" json:"baseUrl"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	UserAgent string `yaml:"user_agent" json:"userAgent"`

	Session struct {
		Profile      string `yaml:"profile" json:"profile"`
		RedisPrefix  string `yaml:"redis_prefix" json:"redisPrefix"`
		TTL          string `yaml:"ttl" json:"ttl"`
		RefreshAhead string `yaml:"refresh_ahead" json:"refreshAhead"`
	} `yaml:"session" json:"session"`

	Poll struct {
		Interval string `yaml:"interval" json:"interval"`
	} `yaml:"poll" json:"poll"`

	Events struct {
		Enabled    *bool `yaml:"enabled" json:"enabled"`
		BufferSize int   `yaml:"buffer_size" json:"bufferSize"`
		DropIfFull *bool `yaml:"drop_if_full" json:"dropIfFull"`
	} `yaml:"events" json:"events"`

	Metrics struct {
		Enabled           *bool `yaml:"enabled" json:"enabled"`
		LatencyHistograms *bool `yaml:"latency_histograms" json:"latencyHistograms"`
	} `yaml:"metrics" json:"metrics"`
}

// LoadConfigFile reads path on top of the defaults. ".yaml" and ".yml" files
// are YAML; anything else is JSON with comments and trailing commas allowed.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &fc)
	}
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	if err := fc.apply(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig loads the file named by LBCLIENT_CONFIG, if set, then applies
// LBCLIENT_BASE_URL.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := os.Getenv(EnvConfigPath); path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.API.BaseURL = v
	}
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.BaseURL != "" {
		cfg.API.BaseURL = fc.BaseURL
	}
	if fc.UserAgent != "" {
		cfg.API.UserAgent = fc.UserAgent
	}
	if fc.Session.Profile != "" {
		cfg.Session.Profile = fc.Session.Profile
	}
	if fc.Session.RedisPrefix != "" {
		cfg.Session.RedisPrefix = fc.Session.RedisPrefix
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeout", fc.Timeout, &cfg.API.Timeout},
		{"session.ttl", fc.Session.TTL, &cfg.Session.TTL},
		{"session.refresh_ahead", fc.Session.RefreshAhead, &cfg.Session.RefreshAhead},
		{"poll.interval", fc.Poll.Interval, &cfg.Poll.Interval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if fc.Events.Enabled != nil {
		cfg.Events.Enabled = *fc.Events.Enabled
	}
	if fc.Events.BufferSize != 0 {
		cfg.Events.BufferSize = fc.Events.BufferSize
	}
	if fc.Events.DropIfFull != nil {
		cfg.Events.DropIfFull = *fc.Events.DropIfFull
	}
	if fc.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *fc.Metrics.Enabled
	}
	if fc.Metrics.LatencyHistograms != nil {
		cfg.Metrics.EnableLatencyHistograms = *fc.Metrics.LatencyHistograms
	}
	return nil
}
