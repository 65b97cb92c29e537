package lbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/little-brother/lbclient/models"
	"github.com/little-brother/lbclient/session"
	"github.com/little-brother/lbclient/transport"
)

// Login authenticates with username and password. The server answers with
// credential cookies, which are kept in the client's jar and persisted with
// the session.
func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidArgument)
	}

	data, err := c.send(ctx, http.MethodPost, c.endpoint(c.cfg.API.LoginPath), models.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		e := c.newEvent(EventLogin)
		e.Success = false
		e.Error = err.Error()
		e.Metadata = map[string]string{"username": username}
		c.emit(ctx, e)
		return nil, err
	}

	var res models.LoginResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.metrics.Inc(MetricLoginFailure)
		return nil, fmt.Errorf("%w: login result: %v", ErrUnexpectedPayload, err)
	}
	if res.Username == "" {
		res.Username = username
	}

	// The login is established even when it cannot be persisted.
	if err := c.session.MarkLoggedIn(ctx, res.Username, int64(res.UserID), res.IsAdmin); err != nil {
		c.logger.Warn("lbclient: persisting session failed", "profile", c.cfg.Session.Profile, "error", err)
	}

	c.metrics.Inc(MetricLoginSuccess)
	e := c.newEvent(EventLogin)
	e.Metadata = map[string]string{"username": res.Username}
	c.emit(ctx, e)
	return &res, nil
}

// Logout ends the session on the server and forgets it locally. A failed
// call leaves the local session untouched.
func (c *Client) Logout(ctx context.Context) (*models.LogoutResult, error) {
	data, err := c.send(ctx, http.MethodPost, c.endpoint(c.cfg.API.LogoutPath), nil)
	if err != nil {
		return nil, err
	}

	var res models.LogoutResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("%w: logout result: %v", ErrUnexpectedPayload, err)
		}
	}

	e := c.newEvent(EventLogout)
	if err := c.session.MarkLoggedOut(ctx); err != nil {
		c.logger.Warn("lbclient: clearing session failed", "profile", c.cfg.Session.Profile, "error", err)
	}
	c.metrics.Inc(MetricLogout)
	c.emit(ctx, e)
	return &res, nil
}

// Refresh renews the credential cookies. It shares the pipeline's single
// refresh: while one is in flight, Refresh waits for it instead of starting
// another. A 4xx answer ends the local session and navigates to the login
// view; other failures leave the session as it was.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.pipeline.Refresh(ctx)
}

// refreshCredential calls the refresh endpoint. Only the pipeline calls it,
// and the call itself is never intercepted.
func (c *Client) refreshCredential(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	started := c.session.BeginRefresh()
	e := c.newEvent(EventRefresh)

	_, err := c.send(withoutInterception(ctx), http.MethodPost, c.endpoint(c.cfg.API.RefreshPath), struct{}{})
	if err != nil {
		if started {
			if transport.IsClientError(err) {
				if cerr := c.session.EndRefresh(ctx, false); cerr != nil {
					c.logger.Warn("lbclient: clearing session failed", "profile", c.cfg.Session.Profile, "error", cerr)
				}
			} else {
				c.session.AbortRefresh()
			}
		}
		e.Success = false
		e.Error = err.Error()
		c.emit(ctx, e)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if started {
		if err := c.session.EndRefresh(ctx, true); err != nil {
			c.logger.Warn("lbclient: persisting refreshed session failed", "profile", c.cfg.Session.Profile, "error", err)
		}
	}
	c.emit(ctx, e)
	return nil
}

// EnsureAuthenticated asks the server whether the session is still valid.
// Any failure marks the session logged out and is returned. With
// Session.RefreshAhead set, a credential about to expire is renewed first.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	ahead := c.cfg.Session.RefreshAhead
	if ahead > 0 && c.session.IsLoggedIn() && c.session.AccessTokenExpiresWithin(ahead) {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Debug("lbclient: proactive refresh failed", "error", err)
		}
	}

	if _, err := c.send(ctx, http.MethodGet, c.endpoint(c.cfg.API.LoginStatusPath), nil); err != nil {
		if cerr := c.session.MarkLoggedOut(ctx); cerr != nil {
			c.logger.Warn("lbclient: clearing session failed", "profile", c.cfg.Session.Profile, "error", cerr)
		}
		return err
	}
	return nil
}

// Guard admits navigation to path when logged in. Otherwise it stashes path
// for TakeRedirect, sends the user to the login view and returns
// ErrNotLoggedIn.
func (c *Client) Guard(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.session.IsLoggedIn() {
		return nil
	}

	c.session.SetRedirect(path)
	c.metrics.Inc(MetricLoginRedirect)
	c.navigateToLogin(ctx, ErrNotLoggedIn)
	return ErrNotLoggedIn
}

// navigateToLogin publishes a login-required event and queues the
// configured Navigator call. It never waits for the Navigator.
func (c *Client) navigateToLogin(ctx context.Context, reason error) {
	e := c.newEvent(EventLoginRequired)
	e.Success = false
	if reason != nil {
		e.Error = reason.Error()
	}
	c.emit(ctx, e)
	c.events.RequestLogin(reason)
}

// IsLoginRequest reports whether req targets the login endpoint. Only an
// exact path match counts, so /login-status is still intercepted.
func (c *Client) IsLoginRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.TrimRight(req.URL.Path, "/") == c.baseURL.Path+c.cfg.API.LoginPath
}

// IsLoggedIn reports whether the session holds a login, including while a
// refresh is in flight.
func (c *Client) IsLoggedIn() bool {
	return c.session.IsLoggedIn()
}

// IsAdmin reports whether the logged-in user has admin rights.
func (c *Client) IsAdmin() bool {
	return c.session.IsAdmin()
}

// ActiveUserID is the id of the logged-in user, 0 when anonymous.
func (c *Client) ActiveUserID() int64 {
	return c.session.UserID()
}

// SessionState reports the session's lifecycle state.
func (c *Client) SessionState() session.State {
	return c.session.State()
}

// SetRedirect stashes path for the next TakeRedirect.
func (c *Client) SetRedirect(path string) {
	c.session.SetRedirect(path)
}

// TakeRedirect returns the path stashed by Guard or SetRedirect once, then
// DefaultRedirect.
func (c *Client) TakeRedirect() string {
	return c.session.TakeRedirect()
}

// DefaultRedirect is the path TakeRedirect returns when nothing is stashed.
func (c *Client) DefaultRedirect() string {
	return session.DefaultRedirect
}

// LoginPath is the relative path of the login endpoint and view.
func (c *Client) LoginPath() string {
	return c.cfg.API.LoginPath
}
