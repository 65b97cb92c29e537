package fakeserver

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/little-brother/lbclient/models"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPrefix is the path the API is mounted under.
const DefaultPrefix = "/api"

// Default credentials of the seeded accounts.
const (
	AdminUser     = "admin"
	AdminPassword = "correct-horse-battery"
	ParentUser    = "parent"
	ParentPass    = "staple-parent-pass"
)

type account struct {
	id       int
	username string
	hash     []byte
	isAdmin  bool
}

// Server is the fake API. Build it with New and mount Handler.
type Server struct {
	prefix          string
	tokens          *tokenIssuer
	now             func() time.Time
	bcryptCost      int
	refreshStatus   atomic.Int32
	refreshDelay    time.Duration
	refreshInterval int
	foreignObjects  bool

	accountsMu sync.RWMutex
	accounts   map[string]*account

	accessEpoch  atomic.Uint64
	refreshEpoch atomic.Uint64

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	aboutCalls   atomic.Int64
	unauthorized atomic.Int64

	mu         sync.Mutex
	nextUserID int
	users      map[int]*models.User
	statuses   map[int]*models.UserStatus
	admins     map[int]*models.UserAdmin
	extensions map[int]int

	router *mux.Router
}

type options struct {
	tokens          TokenConfig
	now             func() time.Time
	bcryptCost      int
	refreshDelay    time.Duration
	refreshInterval int
	foreignObjects  bool
	accounts        []accountSpec
	prefix          string
}

type accountSpec struct {
	username, password string
	isAdmin            bool
}

// Option configures a Server.
type Option func(*options)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(o *options) { o.tokens.AccessTTL = d }
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(o *options) { o.tokens.RefreshTTL = d }
}

// WithSecret sets the token signing key.
func WithSecret(secret []byte) Option {
	return func(o *options) { o.tokens.Secret = secret }
}

// WithClock sets the time source for issuing and checking tokens.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRefreshDelay holds every refresh call for d, widening the window in
// which concurrent requests pile up behind it.
func WithRefreshDelay(d time.Duration) Option {
	return func(o *options) { o.refreshDelay = d }
}

// WithRefreshInterval sets the interval /control publishes, in milliseconds.
func WithRefreshInterval(ms int) Option {
	return func(o *options) { o.refreshInterval = ms }
}

// WithForeignObjects adds an object with an unregistered tag to /status.
func WithForeignObjects() Option {
	return func(o *options) { o.foreignObjects = true }
}

// WithAccount adds a login account.
func WithAccount(username, password string, isAdmin bool) Option {
	return func(o *options) {
		o.accounts = append(o.accounts, accountSpec{username, password, isAdmin})
	}
}

// WithPrefix mounts the API under prefix instead of /api.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// New builds a server with seeded users and the admin and parent accounts.
// Passwords are hashed with bcrypt.MinCost to keep tests fast.
func New(opts ...Option) (*Server, error) {
	o := options{
		tokens: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			Secret:     []byte("fakeserver-secret-do-not-use"),
			Issuer:     "little-brother",
		},
		now:             time.Now,
		bcryptCost:      bcrypt.MinCost,
		refreshInterval: 5000,
		prefix:          DefaultPrefix,
		accounts: []accountSpec{
			{AdminUser, AdminPassword, true},
			{ParentUser, ParentPass, false},
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	tokens, err := newTokenIssuer(o.tokens, o.now)
	if err != nil {
		return nil, err
	}

	s := &Server{
		prefix:          o.prefix,
		tokens:          tokens,
		now:             o.now,
		bcryptCost:      o.bcryptCost,
		refreshDelay:    o.refreshDelay,
		refreshInterval: o.refreshInterval,
		foreignObjects:  o.foreignObjects,
		accounts:        make(map[string]*account),
		extensions:      make(map[int]int),
	}
	for i, a := range o.accounts {
		if err := s.addAccount(i+1, a); err != nil {
			return nil, err
		}
	}
	s.seed()
	s.router = s.routes()
	return s, nil
}

func (s *Server) addAccount(id int, a accountSpec) error {
	if a.username == "" {
		return errors.New("account username is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(a.password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password for %s: %w", a.username, err)
	}

	s.accountsMu.Lock()
	s.accounts[a.username] = &account{id: id, username: a.username, hash: hash, isAdmin: a.isAdmin}
	s.accountsMu.Unlock()
	return nil
}

func (s *Server) lookupAccount(username string) (*account, bool) {
	s.accountsMu.RLock()
	defer s.accountsMu.RUnlock()
	a, ok := s.accounts[username]
	return a, ok
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Prefix is the path the API is mounted under.
func (s *Server) Prefix() string {
	return s.prefix
}

// ExpireAccessTokens invalidates every access token issued so far. The next
// authenticated call answers 401 until the client refreshes.
func (s *Server) ExpireAccessTokens() {
	s.accessEpoch.Add(1)
}

// ExpireRefreshTokens invalidates every refresh token issued so far, which
// makes the next refresh answer 401.
func (s *Server) ExpireRefreshTokens() {
	s.refreshEpoch.Add(1)
}

// FailRefresh makes refresh calls answer status. Zero restores normal
// behavior.
func (s *Server) FailRefresh(status int) {
	s.refreshStatus.Store(int32(status))
}

// LoginCalls counts calls to the login endpoint.
func (s *Server) LoginCalls() int64 {
	return s.loginCalls.Load()
}

// RefreshCalls counts calls to the refresh endpoint, failed ones included.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// AboutCalls counts calls to the about endpoint.
func (s *Server) AboutCalls() int64 {
	return s.aboutCalls.Load()
}

// Unauthorized counts 401 answers on protected endpoints.
func (s *Server) Unauthorized() int64 {
	return s.unauthorized.Load()
}

// Extension returns the accumulated time extension of a user in minutes.
func (s *Server) Extension(userID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extensions[userID]
}

// Override returns the rule override stored for a user and day.
func (s *Server) Override(userID int, date string) (*models.RuleSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	admin, ok := s.admins[userID]
	if !ok {
		return nil, false
	}
	for _, d := range admin.UserAdminDetails {
		if d.DateInISO8601 == date && d.Override != nil {
			cp := *d.Override
			return &cp, true
		}
	}
	return nil, false
}

// Monitored reports whether username is a configured user.
func (s *Server) Monitored(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.Configured {
			return true
		}
	}
	return false
}
