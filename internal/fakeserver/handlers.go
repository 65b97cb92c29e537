package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/little-brother/lbclient/models"
	"github.com/little-brother/lbclient/session"
	"golang.org/x/crypto/bcrypt"
)

// ForeignTag is the tag of the object WithForeignObjects adds.
const ForeignTag = "little_brother.transport.legacy_to.LegacyTO"

type claimsKey struct{}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix(s.prefix).Subrouter()

	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/about", s.handleAbout).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.requireAccess)
	protected.HandleFunc("/login-status", s.handleLoginStatus).Methods(http.MethodGet)
	protected.HandleFunc("/control", s.handleControl).Methods(http.MethodGet)
	protected.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	protected.HandleFunc("/status-details/{id:[0-9]+}", s.handleStatusDetails).Methods(http.MethodGet)

	admin := api.NewRoute().Subrouter()
	admin.Use(s.requireAccess, requireAdmin)
	admin.HandleFunc("/admin", s.handleAdmin).Methods(http.MethodGet)
	admin.HandleFunc("/admin-details/{id:[0-9]+}", s.handleAdminDetails).Methods(http.MethodGet)
	admin.HandleFunc("/admin-time-extensions/{id:[0-9]+}", s.handleAdminDetails).Methods(http.MethodGet)
	admin.HandleFunc("/admin-time-extensions/{id:[0-9]+}/{delta:-?[0-9]+}", s.handleExtendTime).Methods(http.MethodPost)
	admin.HandleFunc("/admin-rule-overrides/{id:[0-9]+}/{date}", s.handleRuleOverride).Methods(http.MethodPost)
	admin.HandleFunc("/users", s.handleUsers).Methods(http.MethodGet)
	admin.HandleFunc("/user/{id:[0-9]+}", s.handleUser).Methods(http.MethodGet)
	admin.HandleFunc("/user/{id:[0-9]+}", s.handleUpdateUser).Methods(http.MethodPut)
	admin.HandleFunc("/user/{username}", s.handleAddUser).Methods(http.MethodPost)
	admin.HandleFunc("/user/{username}", s.handleRemoveUser).Methods(http.MethodDelete)

	return r
}

/*
====================================
HELPERS
====================================
*/

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, details string) {
	writeJSON(w, status, models.ErrorBody{Status: "error", ErrorDetails: details})
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}

func pathID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

func claimsFrom(ctx context.Context) *tokenClaims {
	c, _ := ctx.Value(claimsKey{}).(*tokenClaims)
	return c
}

/*
====================================
MIDDLEWARE
====================================
*/

func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.AccessTokenCookie)
		if err != nil {
			s.unauthorized.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Missing cookie \"" + session.AccessTokenCookie + "\""})
			return
		}
		claims, err := s.tokens.parse(cookie.Value, kindAccess)
		if err != nil || claims.Epoch != s.accessEpoch.Load() {
			s.unauthorized.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := claimsFrom(r.Context()); c == nil || !c.IsAdmin {
			writeError(w, http.StatusForbidden, "Admin rights required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*
====================================
AUTH
====================================
*/

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed login request")
		return
	}

	acct, ok := s.lookupAccount(req.Username)
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	access, accessExp, err := s.tokens.issue(kindAccess, acct, s.accessEpoch.Load())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, refreshExp, err := s.tokens.issue(kindRefresh, acct, s.refreshEpoch.Load())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.setCookie(w, session.AccessTokenCookie, access, accessExp)
	s.setCookie(w, session.RefreshTokenCookie, refresh, refreshExp)
	writeJSON(w, http.StatusOK, models.LoginResult{
		Status:   "OK",
		IsAdmin:  acct.isAdmin,
		Username: acct.username,
		UserID:   acct.id,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	clearCookie(w, session.AccessTokenCookie)
	clearCookie(w, session.RefreshTokenCookie)
	writeJSON(w, http.StatusOK, models.LogoutResult{Status: "OK"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if s.refreshDelay > 0 {
		select {
		case <-time.After(s.refreshDelay):
		case <-r.Context().Done():
			return
		}
	}
	if status := int(s.refreshStatus.Load()); status != 0 {
		writeJSON(w, status, map[string]string{"msg": "refresh rejected"})
		return
	}

	cookie, err := r.Cookie(session.RefreshTokenCookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Missing refresh cookie"})
		return
	}
	claims, err := s.tokens.parse(cookie.Value, kindRefresh)
	if err != nil || claims.Epoch != s.refreshEpoch.Load() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
		return
	}
	acct, ok := s.lookupAccount(claims.Subject)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Unknown user"})
		return
	}

	access, exp, err := s.tokens.issue(kindAccess, acct, s.accessEpoch.Load())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setCookie(w, session.AccessTokenCookie, access, exp)
	writeJSON(w, http.StatusOK, map[string]bool{"refresh": true})
}

func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "username": c.Subject, "is_admin": c.IsAdmin})
}

/*
====================================
METADATA
====================================
*/

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	s.aboutCalls.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "0.5.2",
		"author":    "Marcus Rickert",
		"copyright": "(C) 2019-24",
	})
}

func (s *Server) handleControl(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.Control{
		RefreshIntervalInMilliseconds: s.refreshInterval,
		Languages:                     map[string]string{"en": "English", "de": "Deutsch"},
	})
}

/*
====================================
STATUS
====================================
*/

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	statuses := make([]*models.UserStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		summary := *st
		summary.UserStatusDetails = nil
		statuses = append(statuses, &summary)
	}
	s.mu.Unlock()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].UserID > statuses[j].UserID })

	out, err := pickleList(models.TagUserStatus, statuses)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.foreignObjects {
		out = append(out, map[string]any{"py/object": ForeignTag, "legacy": true})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatusDetails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st, ok := s.statuses[pathID(r)]
	var obj map[string]any
	var err error
	if ok {
		obj, err = pickle(models.TagUserStatus, st)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "Unknown user")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, obj)
	}
}

/*
====================================
ADMIN
====================================
*/

func (s *Server) handleAdmin(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	admins := make([]*models.UserAdmin, 0, len(s.admins))
	for _, a := range s.admins {
		admins = append(admins, a)
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].UserID < admins[j].UserID })
	out, err := pickleList(models.TagUserAdmin, admins)
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminDetails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	a, ok := s.admins[pathID(r)]
	var obj map[string]any
	var err error
	if ok {
		obj, err = pickle(models.TagUserAdmin, a)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "Unknown user")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, obj)
	}
}

func (s *Server) handleExtendTime(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	delta, _ := strconv.Atoi(mux.Vars(r)["delta"])

	s.mu.Lock()
	_, ok := s.admins[id]
	if ok {
		s.extensions[id] += delta
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleRuleOverride(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	date := mux.Vars(r)["date"]

	var rules models.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed rule set")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	}
	for _, d := range a.UserAdminDetails {
		if d.DateInISO8601 == date {
			d.Override = &rules
			writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Date outside of lookahead")
}

/*
====================================
USERS
====================================
*/

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	out, err := pickleList(models.TagUser, users)
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[pathID(r)]
	var obj map[string]any
	var err error
	if ok {
		obj, err = pickle(models.TagUser, u)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "Unknown user")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, obj)
	}
}

// handleUpdateUser answers 200 with an "error" field for semantic failures,
// as the real server does.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	var in models.User
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed user")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "Unknown user")
		return
	case in.Username != u.Username:
		writeJSON(w, http.StatusOK, models.ErrorBody{Error: "username cannot be changed"})
		return
	}

	in.ID = id
	in.Configured = true
	s.users[id] = &in
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var body string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body != username {
		writeError(w, http.StatusBadRequest, "Body must repeat the username")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username != username {
			continue
		}
		if u.Configured {
			writeJSON(w, http.StatusOK, models.ErrorBody{Error: "user " + username + " is already monitored"})
			return
		}
		u.Configured = true
		u.Active = boolPtr(true)
		writeJSON(w, http.StatusOK, models.UserID{ID: u.ID})
		return
	}

	id := s.nextUserID
	s.nextUserID++
	s.users[id] = &models.User{ID: id, Username: username, Configured: true, Active: boolPtr(true)}
	writeJSON(w, http.StatusOK, models.UserID{ID: id})
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Username == username && u.Configured {
			s.users[id] = &models.User{ID: id, Username: username}
			delete(s.statuses, id)
			delete(s.admins, id)
			writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "User is not monitored")
}
