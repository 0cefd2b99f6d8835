package oauth2

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/characterhq/character"
)

const githubUserInfoURL = "https://api.github.com/user"

// NewGitHub builds a GitHub authenticator. The account id is GitHub's
// numeric user id rendered as a string; it survives login renames.
func NewGitHub(name, clientID, clientSecret, callbackURL string, identities character.IdentityStore) *OAuth2 {
	return &OAuth2{
		AccountLinker: character.AccountLinker{AuthenticatorName: name, Identities: identities},
		Config: newConfig(clientID, clientSecret, callbackURL, github.Endpoint, []string{
			"read:user", "user:email",
		}),
		UserInfo: GitHubUserInfo(githubUserInfoURL),
	}
}

// GitHubFactory returns the registry factory for GitHub authenticators.
// Credentials come from the authenticator's extra config (client_id,
// client_secret, callback_url) or the OAUTH2_GITHUB_* environment.
func GitHubFactory() character.Factory {
	return character.Factory{
		New: func(name string, cfg *character.AuthenticatorConfig, deps character.Deps) (character.Authenticator, error) {
			clientID, clientSecret, callbackURL, err := providerCredentials("github", cfg)
			if err != nil {
				return nil, err
			}
			auth := NewGitHub(name, clientID, clientSecret, callbackURL, deps.Identities)
			auth.log = deps.Log
			return auth, nil
		},
	}
}

// GitHubUserInfo fetches the user document from the given endpoint. The
// endpoint is a parameter so tests can point it at a local server.
func GitHubUserInfo(url string) UserInfoFunc {
	return func(ctx context.Context, client *http.Client, token *oauth2.Token) (string, map[string]any, error) {
		info, err := fetchJSONUserInfo(ctx, client, url, token)
		if err != nil {
			return "", nil, err
		}
		// GitHub renders ids as JSON numbers.
		var id string
		switch v := info["id"].(type) {
		case float64:
			id = fmt.Sprintf("%.0f", v)
		case string:
			id = v
		}
		if id == "" {
			id, _ = info["login"].(string)
		}
		if id == "" {
			return "", nil, fmt.Errorf("github user info has no id or login")
		}
		return id, info, nil
	}
}
