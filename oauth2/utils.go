package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/characterhq/character"
)

const stateCookieName = "oauthstate"

// setStateCookie mints the CSRF state for one authorization round trip and
// stores it in a short-lived cookie.
func setStateCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	rand.Read(b)
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		MaxAge:   600,
		HttpOnly: true,
	})
	return state
}

// providerCredentials resolves client id, secret and callback URL from the
// authenticator's extra config, falling back to OAUTH2_<PROVIDER>_* env
// vars so deployments can keep secrets out of config files.
func providerCredentials(provider string, cfg *character.AuthenticatorConfig) (clientID, clientSecret, callbackURL string, err error) {
	env := func(suffix string) string {
		return strings.TrimSpace(os.Getenv("OAUTH2_" + strings.ToUpper(provider) + "_" + suffix))
	}
	clientID = cfg.Extra["client_id"]
	if clientID == "" {
		clientID = env("CLIENT_ID")
	}
	clientSecret = cfg.Extra["client_secret"]
	if clientSecret == "" {
		clientSecret = env("CLIENT_SECRET")
	}
	callbackURL = cfg.Extra["callback_url"]
	if callbackURL == "" {
		callbackURL = env("CALLBACK_URL")
	}
	if clientID == "" || clientSecret == "" {
		err = errors.New(provider + " authenticator requires client_id and client_secret")
	}
	return
}

// newConfig assembles the x/oauth2 config for one provider.
func newConfig(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}
