package models

import (
	"strings"

	"github.com/little-brother/lbclient/internal/format"
)

// User is a monitored account. Unconfigured users only carry Username.
type User struct {
	ID                           int    `json:"id,omitempty"`
	Username                     string `json:"username,omitempty"`
	Active                       *bool  `json:"active,omitempty"`
	Configured                   bool   `json:"configured,omitempty"`
	Locale                       string `json:"locale,omitempty"`
	ProcessNamePattern           string `json:"process_name_pattern,omitempty"`
	ProhibitedProcessNamePattern string `json:"prohibited_process_name_pattern,omitempty"`
	FirstName                    string `json:"first_name,omitempty"`
	LastName                     string `json:"last_name,omitempty"`
	AccessCode                   string `json:"access_code,omitempty"`
}

// FullName joins first and last name, falling back to the title-cased
// username.
func (u *User) FullName() string {
	if u.FirstName != "" {
		if u.LastName != "" {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName
	}
	return format.TitleCaseWord(u.Username)
}

// Summary renders the secondary line shown under the user's name. languages
// maps locale codes to display names.
func (u *User) Summary(languages map[string]string) string {
	var texts []string
	if !strings.EqualFold(u.Username, u.FullName()) {
		texts = append(texts, "Username", ": ", u.Username)
	}
	if u.Locale != "" {
		if lang, ok := languages[u.Locale]; ok {
			texts = append(texts, format.Separator, "Locale", ": ", lang)
		}
	}
	return format.JoinTexts(texts)
}

// UserID is the server's answer to a user creation.
type UserID struct {
	ID int `json:"id"`
}

// Control carries client settings published by the server.
type Control struct {
	RefreshIntervalInMilliseconds int               `json:"refresh_interval_in_milliseconds,omitempty"`
	Languages                     map[string]string `json:"languages,omitempty"`
}

// LoginRequest is the body of a login call.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Status   string `json:"status"`
	IsAdmin  bool   `json:"is_admin"`
	Username string `json:"username"`
	UserID   int    `json:"user_id"`
}

// LogoutResult is the body of a logout call.
type LogoutResult struct {
	Status       string `json:"status"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// ErrorBody is the JSON error document the server attaches to failures.
type ErrorBody struct {
	Status       string `json:"status,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
	Error        string `json:"error,omitempty"`
}
