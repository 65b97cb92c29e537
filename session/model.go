package session

// State is the tri-state session lifecycle.
type State uint8

const (
	// Anonymous means no login is known.
	Anonymous State = iota
	// Authenticated means a login succeeded and has not been revoked.
	Authenticated
	// Refreshing means the credential is being renewed.
	Refreshing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Cookie is the persisted part of a credential cookie.
type Cookie struct {
	Name  string
	Value string
	Path  string
}

// Info is what a profile remembers between runs.
type Info struct {
	SchemaVersion uint8

	LoggedIn bool
	IsAdmin  bool
	UserID   int64
	Username string

	Cookies []Cookie

	UpdatedAt int64
}
