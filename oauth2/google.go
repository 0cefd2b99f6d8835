package oauth2

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/characterhq/character"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// NewGoogle builds a Google authenticator. The account id is Google's
// stable subject id, falling back to the email address for responses that
// omit it.
func NewGoogle(name, clientID, clientSecret, callbackURL string, identities character.IdentityStore) *OAuth2 {
	return &OAuth2{
		AccountLinker: character.AccountLinker{AuthenticatorName: name, Identities: identities},
		Config: newConfig(clientID, clientSecret, callbackURL, google.Endpoint, []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		}),
		UserInfo: GoogleUserInfo(googleUserInfoURL),
	}
}

// GoogleFactory returns the registry factory for Google authenticators.
// Credentials come from the authenticator's extra config (client_id,
// client_secret, callback_url) or the OAUTH2_GOOGLE_* environment.
func GoogleFactory() character.Factory {
	return character.Factory{
		New: func(name string, cfg *character.AuthenticatorConfig, deps character.Deps) (character.Authenticator, error) {
			clientID, clientSecret, callbackURL, err := providerCredentials("google", cfg)
			if err != nil {
				return nil, err
			}
			auth := NewGoogle(name, clientID, clientSecret, callbackURL, deps.Identities)
			auth.log = deps.Log
			return auth, nil
		},
	}
}

// GoogleUserInfo fetches the user info document from the given endpoint.
// The endpoint is a parameter so tests can point it at a local server.
func GoogleUserInfo(url string) UserInfoFunc {
	return func(ctx context.Context, client *http.Client, token *oauth2.Token) (string, map[string]any, error) {
		info, err := fetchJSONUserInfo(ctx, client, url, token)
		if err != nil {
			return "", nil, err
		}
		id, _ := info["id"].(string)
		if id == "" {
			id, _ = info["email"].(string)
		}
		if id == "" {
			return "", nil, fmt.Errorf("google user info has no id or email")
		}
		return id, info, nil
	}
}
