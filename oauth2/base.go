// Package oauth2 implements redirect-initiated authenticators on top of
// golang.org/x/oauth2. The entry leg at GET / sets a state cookie and
// redirects the browser to the provider; the provider redirects back to
// GET /callback, which runs the ordinary handshake with the authorization
// code as the credential.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/characterhq/character"
)

// UserInfoFunc turns an exchanged token into the provider-local account id
// plus the profile fields worth recording on the session user.
type UserInfoFunc func(ctx context.Context, client *http.Client, token *oauth2.Token) (accountID string, profile map[string]any, err error)

// OAuth2 is an authorization-code authenticator. Provider specifics live in
// the embedded oauth2.Config and the UserInfo function; Google and GitHub
// constructors in this package fill both in.
type OAuth2 struct {
	character.AccountLinker

	Config   *oauth2.Config
	UserInfo UserInfoFunc

	// HTTPClient overrides the client used for the token exchange and the
	// user-info fetch. Tests point it at a local server.
	HTTPClient *http.Client

	log *slog.Logger
}

func (o *OAuth2) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o *OAuth2) logger() *slog.Logger {
	if o.log != nil {
		return o.log
	}
	return slog.Default()
}

// Authenticate serves the callback leg: it checks the state cookie against
// the returned state, exchanges the code and fetches the user info. State
// mismatches are credential failures; provider trouble after a valid state
// is upstream failure.
func (o *OAuth2) Authenticate(rc *character.RequestContext) (*character.AccountClaim, error) {
	r := rc.Request

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.FormValue("state") != stateCookie.Value {
		return nil, character.ErrBadCredentials
	}
	if errCode := r.FormValue("error"); errCode != "" {
		// The provider reported denial or failure instead of a code.
		rc.Log.Info("provider returned error", "authenticator", o.Name(), "error", errCode)
		return nil, character.ErrBadCredentials
	}
	code := r.FormValue("code")
	if code == "" {
		return nil, character.ErrBadCredentials
	}

	ctx := context.WithValue(rc.Context(), oauth2.HTTPClient, o.client())
	token, err := o.Config.Exchange(ctx, code)
	if err != nil {
		return nil, &character.UpstreamError{Err: fmt.Errorf("code exchange: %w", err)}
	}

	accountID, profile, err := o.UserInfo(ctx, o.client(), token)
	if err != nil {
		return nil, &character.UpstreamError{Err: fmt.Errorf("user info: %w", err)}
	}
	if accountID == "" {
		return nil, &character.UpstreamError{Err: fmt.Errorf("provider returned no account id")}
	}
	return &character.AccountClaim{ID: accountID, Profile: profile}, nil
}

// MountRoutes mounts the entry redirect at GET / and the handshake at
// GET /callback.
func (o *OAuth2) MountRoutes(r *mux.Router, handshake http.Handler) {
	r.HandleFunc("", o.handleStart).Methods(http.MethodGet)
	r.HandleFunc("/", o.handleStart).Methods(http.MethodGet)
	r.Handle("/callback", handshake).Methods(http.MethodGet)
}

func (o *OAuth2) handleStart(w http.ResponseWriter, r *http.Request) {
	state := setStateCookie(w)
	o.logger().Info("redirecting to provider", "authenticator", o.Name())
	http.Redirect(w, r, o.Config.AuthCodeURL(state), http.StatusFound)
}

// fetchJSONUserInfo GETs a user-info endpoint with the token as a bearer
// credential and decodes the JSON body.
func fetchJSONUserInfo(ctx context.Context, client *http.Client, url string, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	return info, nil
}
