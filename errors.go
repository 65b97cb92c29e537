package lbclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/little-brother/lbclient/transport"
)

var (
	// ErrNotLoggedIn is returned when an operation needs a login that is not
	// there. It is the same value the transport pipeline returns.
	ErrNotLoggedIn = transport.ErrNotLoggedIn
	// ErrUnauthorized matches any 401 StatusError.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches any 403 StatusError.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches any 404 StatusError.
	ErrNotFound = errors.New("not found")
	// ErrUnexpectedPayload is returned when a response does not decode into
	// the expected model.
	ErrUnexpectedPayload = errors.New("unexpected payload")
	// ErrRejected is returned when the server answers 2xx with an error body.
	ErrRejected = errors.New("request rejected by server")
	// ErrRefreshFailed wraps errors from the credential refresh call.
	ErrRefreshFailed = errors.New("credential refresh failed")
	// ErrClientNotReady is returned by methods called on a nil or closed Client.
	ErrClientNotReady = errors.New("client not ready")
	// ErrInvalidArgument is returned for arguments rejected before any request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

// Error names the call and status and quotes a trimmed body.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		msg += ": " + body
	}
	return msg
}

// IsClientError reports a 4xx status. The transport pipeline uses it to
// decide whether a failed refresh sends the user to the login view.
func (e *StatusError) IsClientError() bool {
	return e != nil && e.StatusCode >= 400 && e.StatusCode < 500
}

// Unwrap maps well-known statuses to sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// StatusCode extracts the HTTP status of err, 0 if it carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
