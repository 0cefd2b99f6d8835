package character

// Mock is a fixed-credential authenticator for examples and test suites.
// It accepts exactly one username/password pair and claims the username as
// the account id.
type Mock struct {
	AccountLinker
	Username string
	Password string

	usernameField string
	passwordField string
}

// MockFactory returns the registry factory for mock authenticators. The
// accepted pair defaults to foo/bar and can be overridden through the
// authenticator's extra config ("username", "password").
func MockFactory() Factory {
	return Factory{
		New: func(name string, cfg *AuthenticatorConfig, deps Deps) (Authenticator, error) {
			m := &Mock{
				AccountLinker: AccountLinker{AuthenticatorName: name, Identities: deps.Identities},
				Username:      "foo",
				Password:      "bar",
				usernameField: "username",
				passwordField: "password",
			}
			if v := cfg.Extra["username"]; v != "" {
				m.Username = v
			}
			if v := cfg.Extra["password"]; v != "" {
				m.Password = v
			}
			return m, nil
		},
	}
}

func (m *Mock) Authenticate(rc *RequestContext) (*AccountClaim, error) {
	username, password, err := ParseCredentials(rc.Request, m.usernameField, m.passwordField)
	if err != nil {
		return nil, ErrBadCredentials
	}
	if username != m.Username || password != m.Password {
		return nil, ErrBadCredentials
	}
	return &AccountClaim{ID: username}, nil
}
