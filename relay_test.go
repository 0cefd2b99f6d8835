package character_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"

	character "github.com/characterhq/character"
	"github.com/characterhq/character/stores"
)

// recordingObserver captures relay events for assertions.
type recordingObserver struct {
	mu            sync.Mutex
	onboarded     []character.OnboardEvent
	authenticated []character.AuthenticateEvent
}

func (o *recordingObserver) AccountOnboarded(e character.OnboardEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onboarded = append(o.onboarded, e)
}

func (o *recordingObserver) UserAuthenticated(e character.AuthenticateEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.authenticated = append(o.authenticated, e)
}

func (o *recordingObserver) counts() (onboarded, authenticated int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.onboarded), len(o.authenticated)
}

type testHub struct {
	server     *httptest.Server
	gateway    *character.SessionGateway
	identities *stores.FSIdentityStore
	observer   *recordingObserver
	relay      *character.Relay
	config     *character.Config
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHub wires a complete hub with a mock authenticator at /auth/mock
// and a protected page at /restricted.
func newTestHub(t *testing.T, configure func(cfg *character.Config)) *testHub {
	t.Helper()

	cfg := character.DefaultConfig()
	cfg.Session.Secret = "test-secret"
	cfg.Authenticators = map[string]*character.AuthenticatorConfig{
		"mock": {Module: "mock"},
	}
	if configure != nil {
		configure(cfg)
	}

	gateway := character.NewSessionGatewayFromConfig(cfg.Session)
	manager := gateway.Manager

	identities, err := stores.NewFSIdentityStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create identity store: %v", err)
	}

	observer := &recordingObserver{}
	relay := &character.Relay{
		Identities: identities,
		Sessions:   gateway,
		Observer:   observer,
		Log:        discardLogger(),
	}

	registry := character.NewRegistry()
	registry.Register("mock", character.MockFactory())

	router := mux.NewRouter()
	authRouter := router.PathPrefix(cfg.Base).Subrouter()
	if err := registry.Mount(authRouter, relay, cfg); err != nil {
		t.Fatalf("Failed to mount authenticators: %v", err)
	}

	mw := &character.Middleware{Sessions: gateway}
	restricted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, character.UserFromRequest(r).ID)
	})
	router.Handle("/restricted", manager.LoadAndSave(mw.EnsureUser(restricted)))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testHub{
		server:     server,
		gateway:    gateway,
		identities: identities,
		observer:   observer,
		relay:      relay,
		config:     cfg,
	}
}

// newBrowser returns a client with its own cookie jar that does not follow
// redirects, so tests can assert on 303 responses directly.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, client *http.Client, target string, form url.Values) *http.Response {
	t.Helper()
	resp, err := client.Post(target, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST %s failed: %v", target, err)
	}
	resp.Body.Close()
	return resp
}

func login(t *testing.T, hub *testHub, client *http.Client, username, password string) *http.Response {
	t.Helper()
	return postForm(t, client, hub.server.URL+"/auth/mock", url.Values{
		"username": {username},
		"password": {password},
	})
}

func TestHandshakeSuccess(t *testing.T) {
	hub := newTestHub(t, nil)
	browser := newBrowser(t)

	resp := login(t, hub, browser, "foo", "bar")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Expected redirect to /, got %s", loc)
	}

	// The session now admits the browser to protected pages.
	restricted, err := browser.Get(hub.server.URL + "/restricted")
	if err != nil {
		t.Fatalf("GET /restricted failed: %v", err)
	}
	body, _ := io.ReadAll(restricted.Body)
	restricted.Body.Close()
	if restricted.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 after login, got %d", restricted.StatusCode)
	}
	identityID := string(body)
	if identityID == "" {
		t.Fatal("Expected identity id on restricted page")
	}

	onboarded, authenticated := hub.observer.counts()
	if onboarded != 1 {
		t.Errorf("Expected 1 onboard event, got %d", onboarded)
	}
	if authenticated != 1 {
		t.Errorf("Expected 1 authenticate event, got %d", authenticated)
	}
	if hub.observer.authenticated[0].User.ID != identityID {
		t.Errorf("Event identity %s does not match session identity %s",
			hub.observer.authenticated[0].User.ID, identityID)
	}
	if src := hub.observer.authenticated[0].User.Authenticator; src.Name != "mock" || src.Account != "foo" {
		t.Errorf("Unexpected account source: %+v", src)
	}
}

func TestTargetParameterDispatch(t *testing.T) {
	hub := newTestHub(t, nil)
	browser := newBrowser(t)

	// The hub base route serves authenticators that post every leg to one
	// endpoint; the target parameter picks the authenticator.
	resp := postForm(t, browser, hub.server.URL+"/auth", url.Values{
		"character_target": {"mock"},
		"username":         {"foo"},
		"password":         {"bar"},
	})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Expected redirect to /, got %s", loc)
	}

	// An unknown or missing target is not a handshake at all.
	resp = postForm(t, newBrowser(t), hub.server.URL+"/auth", url.Values{
		"character_target": {"nope"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown target, got %d", resp.StatusCode)
	}
}

func TestHandshakeFailureIsUniform(t *testing.T) {
	hub := newTestHub(t, nil)

	// Wrong password and unknown username must produce byte-identical
	// failure redirects.
	var locations []string
	for _, creds := range [][2]string{{"foo", "wrong"}, {"nosuchuser", "bar"}} {
		browser := newBrowser(t)
		resp := login(t, hub, browser, creds[0], creds[1])
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Expected 303, got %d", resp.StatusCode)
		}
		locations = append(locations, resp.Header.Get("Location"))

		restricted, err := browser.Get(hub.server.URL + "/restricted")
		if err != nil {
			t.Fatalf("GET /restricted failed: %v", err)
		}
		restricted.Body.Close()
		if restricted.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401 after failed login, got %d", restricted.StatusCode)
		}
	}

	if locations[0] != locations[1] {
		t.Errorf("Failure redirects differ: %s vs %s", locations[0], locations[1])
	}
	expected := "/login?reason=" + url.QueryEscape(http.StatusText(http.StatusUnauthorized))
	if locations[0] != expected {
		t.Errorf("Expected redirect %s, got %s", expected, locations[0])
	}

	if onboarded, authenticated := hub.observer.counts(); onboarded != 0 || authenticated != 0 {
		t.Errorf("Expected no events after failed logins, got %d/%d", onboarded, authenticated)
	}
}

func TestRepeatLoginReusesIdentity(t *testing.T) {
	hub := newTestHub(t, nil)

	for i := 0; i < 2; i++ {
		browser := newBrowser(t)
		if resp := login(t, hub, browser, "foo", "bar"); resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("Login %d failed with %d", i, resp.StatusCode)
		}
	}

	onboarded, authenticated := hub.observer.counts()
	if onboarded != 1 {
		t.Errorf("Expected exactly 1 onboard event across repeat logins, got %d", onboarded)
	}
	if authenticated != 2 {
		t.Fatalf("Expected 2 authenticate events, got %d", authenticated)
	}
	if hub.observer.authenticated[0].User.ID != hub.observer.authenticated[1].User.ID {
		t.Errorf("Repeat logins resolved different identities: %s vs %s",
			hub.observer.authenticated[0].User.ID, hub.observer.authenticated[1].User.ID)
	}
}

func TestOnboardingDisabled(t *testing.T) {
	disabled := false
	hub := newTestHub(t, func(cfg *character.Config) {
		cfg.Authenticators["mock"].OnboardKnownAccounts = &disabled
	})

	// Valid credentials, but the account has no identity link yet: the
	// redirect must be indistinguishable from a wrong password.
	browser := newBrowser(t)
	resp := login(t, hub, browser, "foo", "bar")
	expected := "/login?reason=" + url.QueryEscape(http.StatusText(http.StatusUnauthorized))
	if loc := resp.Header.Get("Location"); loc != expected {
		t.Errorf("Expected redirect %s, got %s", expected, loc)
	}

	// Linking the account out of band makes the same login succeed.
	if _, err := hub.identities.Onboard(context.Background(), "mock", "foo"); err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	resp = login(t, hub, newBrowser(t), "foo", "bar")
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Expected success redirect after linking, got %s", loc)
	}
}

// racingStore simulates losing the onboarding race: the account link
// appears (written by the "other" request) and Onboard reports a conflict.
type racingStore struct {
	inner *stores.FSIdentityStore
}

func (s *racingStore) IdentityByAccount(ctx context.Context, name, accountID string) (*character.Identity, error) {
	return s.inner.IdentityByAccount(ctx, name, accountID)
}

func (s *racingStore) Onboard(ctx context.Context, name, accountID string) (*character.Identity, error) {
	if _, err := s.inner.Onboard(ctx, name, accountID); err != nil {
		return nil, err
	}
	return nil, character.ErrConflict
}

func (s *racingStore) IdentityAccounts(ctx context.Context, identityID string) ([]*character.Account, error) {
	return s.inner.IdentityAccounts(ctx, identityID)
}

func TestOnboardConflictRecovery(t *testing.T) {
	inner, err := stores.NewFSIdentityStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create identity store: %v", err)
	}

	manager := scs.New()
	manager.Lifetime = time.Hour
	gateway := character.NewSessionGateway(manager, "test-secret")
	observer := &recordingObserver{}
	relay := &character.Relay{
		Identities: inner,
		Sessions:   gateway,
		Observer:   observer,
		Log:        discardLogger(),
	}

	cfg := &character.AuthenticatorConfig{SuccessRedirect: "/", FailureRedirect: "/login"}
	auth, err := character.MockFactory().New("mock", cfg, character.Deps{
		Identities: &racingStore{inner: inner},
		Sessions:   gateway,
		Log:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}

	handler := manager.LoadAndSave(relay.Handshake(auth, cfg))
	form := url.Values{"username": {"foo"}, "password": {"bar"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/mock", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("Expected success redirect, got %d %s", rr.Code, rr.Header().Get("Location"))
	}
	// The losing request signs in with the winner's identity and must not
	// claim the onboarding for itself.
	onboarded, authenticated := observer.counts()
	if onboarded != 0 {
		t.Errorf("Expected no onboard event from the losing request, got %d", onboarded)
	}
	if authenticated != 1 {
		t.Errorf("Expected 1 authenticate event, got %d", authenticated)
	}
}

// panickingAuth blows up during Authenticate.
type panickingAuth struct {
	character.AccountLinker
}

func (*panickingAuth) Authenticate(*character.RequestContext) (*character.AccountClaim, error) {
	panic("authenticator bug")
}

func TestHandshakePanicBecomesFailureRedirect(t *testing.T) {
	relay := &character.Relay{Log: discardLogger()}
	cfg := &character.AuthenticatorConfig{FailureRedirect: "/login"}
	auth := &panickingAuth{character.AccountLinker{AuthenticatorName: "boom"}}
	handler := relay.Handshake(auth, cfg)

	req := httptest.NewRequest(http.MethodPost, "/auth/boom", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("Expected 303, got %d", rr.Code)
	}
	expected := "/login?reason=" + url.QueryEscape(http.StatusText(http.StatusInternalServerError))
	if loc := rr.Header().Get("Location"); loc != expected {
		t.Errorf("Expected redirect %s, got %s", expected, loc)
	}
}

func TestFailureWithoutRedirectTarget(t *testing.T) {
	relay := &character.Relay{Log: discardLogger()}
	// No failure redirect configured: the browser gets the bare status.
	cfg := &character.AuthenticatorConfig{}
	auth, err := character.MockFactory().New("mock", cfg, character.Deps{Log: discardLogger()})
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}

	form := url.Values{"username": {"foo"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/mock", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	relay.Handshake(auth, cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected bare 401, got %d", rr.Code)
	}
}
