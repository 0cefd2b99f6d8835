package character_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	character "github.com/characterhq/character"
)

// mintToken produces a signed auth token the way SetUser does.
func mintToken(t *testing.T, g *character.SessionGateway, identityID string) string {
	t.Helper()
	var token string
	rr := withSession(t, g, func(w http.ResponseWriter, r *http.Request) {
		if err := g.SetUser(w, r, &character.SessionUser{ID: identityID}); err != nil {
			t.Fatalf("SetUser failed: %v", err)
		}
	})
	for _, c := range rr.Result().Cookies() {
		if c.Name == g.AuthTokenCookieName {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatal("Expected auth-token cookie")
	}
	return token
}

func TestCurrentUserFromAuthTokenCookie(t *testing.T) {
	g := newTestGateway()
	mw := &character.Middleware{Sessions: g}
	token := mintToken(t, g, "identity-1")

	// No session middleware on this request; only the signed cookie.
	handler := mw.ExtractUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := character.UserFromRequest(r)
		if user == nil {
			t.Fatal("Expected user from auth-token cookie")
		}
		if user.ID != "identity-1" {
			t.Errorf("Expected identity-1, got %s", user.ID)
		}
	}))

	// API routes skip the session middleware entirely; the signed cookie
	// alone must identify the user.
	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.AddCookie(&http.Cookie{Name: g.AuthTokenCookieName, Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestEnsureUserRejects(t *testing.T) {
	g := newTestGateway()

	t.Run("401 without redirect target", func(t *testing.T) {
		mw := &character.Middleware{Sessions: g}
		handler := mw.EnsureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

		rr := withSession(t, g, func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r)
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rr.Code)
		}
	})

	t.Run("redirect with callback parameter", func(t *testing.T) {
		mw := &character.Middleware{
			Sessions:    g,
			GetRedirURL: func(r *http.Request) string { return "/login" },
		}
		handler := mw.EnsureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		rr := httptest.NewRecorder()
		g.Manager.LoadAndSave(handler).ServeHTTP(rr, req)

		if rr.Code != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "/login?callbackURL=%2Fdashboard" {
			t.Errorf("Expected login redirect with callback, got %s", loc)
		}
	})
}

func TestEnsureUserPassesThrough(t *testing.T) {
	g := newTestGateway()
	mw := &character.Middleware{Sessions: g}

	called := false
	handler := mw.EnsureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		io.WriteString(w, character.UserFromRequest(r).ID)
	}))

	rr := withSession(t, g, func(w http.ResponseWriter, r *http.Request) {
		if err := g.SetUser(w, r, &character.SessionUser{ID: "identity-1"}); err != nil {
			t.Fatalf("SetUser failed: %v", err)
		}
		handler.ServeHTTP(w, r)
	})

	if !called {
		t.Fatal("Expected handler to run for signed-in user")
	}
	if rr.Body.String() != "identity-1" {
		t.Errorf("Expected identity-1 in body, got %s", rr.Body.String())
	}
}
