package transport

import "errors"

var (
	// ErrNotLoggedIn is returned when a request is rejected with 401 while
	// the session is not logged in.
	ErrNotLoggedIn = errors.New("was not logged in")
)

// clientError is implemented by errors that carry an HTTP status class.
type clientError interface {
	IsClientError() bool
}

// IsClientError reports whether err, or an error it wraps, describes a 4xx
// response.
func IsClientError(err error) bool {
	var ce clientError
	if errors.As(err, &ce) {
		return ce.IsClientError()
	}
	return false
}
