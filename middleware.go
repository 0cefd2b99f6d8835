package character

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

type sessionUserContextKey struct{}

// Middleware exposes "who is signed in" to application handlers outside
// the hub's own routes. It resolves the user from the server-side session
// first and falls back to the signed auth-token cookie, so API routes that
// skip the session middleware still see logins.
type Middleware struct {
	Sessions *SessionGateway

	// GetRedirURL, when set, turns unauthenticated requests into a
	// redirect to a login page instead of a 401. The original request
	// path is appended as the callback parameter.
	GetRedirURL      func(r *http.Request) string
	CallbackURLParam string
}

// EnsureDefaults fills zero fields with their defaults.
func (m *Middleware) EnsureDefaults() *Middleware {
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	return m
}

// CurrentUser returns the authenticated user for a request, or nil.
func (m *Middleware) CurrentUser(r *http.Request) *SessionUser {
	if user, ok := r.Context().Value(sessionUserContextKey{}).(*SessionUser); ok {
		return user
	}

	if user := m.Sessions.User(r.Context()); user != nil {
		return user
	}

	// No session; accept the auth-token cookie instead.
	for _, cookie := range r.CookiesNamed(m.Sessions.AuthTokenCookieName) {
		if cookie.Value == "" {
			continue
		}
		id, err := m.Sessions.VerifyAuthToken(cookie.Value)
		if err != nil {
			slog.Warn("rejecting auth token", "error", err)
			continue
		}
		return &SessionUser{ID: id}
	}
	return nil
}

// IsAuthenticated reports whether the request carries a signed-in user.
func (m *Middleware) IsAuthenticated(r *http.Request) bool {
	return m.CurrentUser(r) != nil
}

// ExtractUser resolves the current user and stores it on the request
// context for downstream handlers. It never rejects; use EnsureUser to
// enforce a login.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := m.CurrentUser(r); user != nil {
			r = requestWithUser(r, user)
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser is ExtractUser plus enforcement: unauthenticated requests get
// a redirect to the login page when one is configured, otherwise a 401.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.CurrentUser(r)
		if user == nil {
			redirURL := ""
			if m.GetRedirURL != nil {
				redirURL = m.GetRedirURL(r)
			}
			if redirURL != "" {
				target := fmt.Sprintf("%s?%s=%s", redirURL, m.CallbackURLParam, url.QueryEscape(r.URL.Path))
				http.Redirect(w, r, target, http.StatusSeeOther)
			} else {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, requestWithUser(r, user))
	})
}

// UserFromRequest returns the user ExtractUser or EnsureUser resolved for
// this request, or nil.
func UserFromRequest(r *http.Request) *SessionUser {
	user, _ := r.Context().Value(sessionUserContextKey{}).(*SessionUser)
	return user
}

func requestWithUser(r *http.Request, user *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionUserContextKey{}, user))
}
