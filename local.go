package character

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// PasswordUser is one row in a local authenticator's credential table. The
// ID doubles as the authenticator-local account id linked to a core
// identity during onboarding.
type PasswordUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// UserStore is a local authenticator's own source of truth for
// credentials. It knows nothing about identities or sessions.
type UserStore interface {
	// FindByUsername returns the user row, or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*PasswordUser, error)

	// Create inserts a new user. Returns ErrConflict when the username is
	// taken; the unique constraint on username is the store's to enforce.
	Create(ctx context.Context, username, passwordHash string) (*PasswordUser, error)
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

// Local authenticates username/password pairs against a UserStore and
// serves a registration endpoint at POST /register.
type Local struct {
	AccountLinker
	Users UserStore

	// Form field names, defaulting to "username" and "password".
	UsernameField string
	PasswordField string

	// MinPasswordLength for registration. Defaults to 8.
	MinPasswordLength int

	cfg      *AuthenticatorConfig
	sessions *SessionGateway
	log      *slog.Logger
}

// LocalFactory returns the registry factory for local password
// authenticators, closed over their credential store.
func LocalFactory(users UserStore) Factory {
	loginAfterRegister := true
	return Factory{
		Defaults: &AuthenticatorConfig{LoginAfterRegister: &loginAfterRegister},
		New: func(name string, cfg *AuthenticatorConfig, deps Deps) (Authenticator, error) {
			if users == nil {
				return nil, errors.New("local authenticator requires a user store")
			}
			return &Local{
				AccountLinker: AccountLinker{AuthenticatorName: name, Identities: deps.Identities},
				Users:         users,
				cfg:           cfg,
				sessions:      deps.Sessions,
				log:           deps.Log,
			}, nil
		},
	}
}

func (l *Local) usernameField() string {
	if l.UsernameField != "" {
		return l.UsernameField
	}
	return "username"
}

func (l *Local) passwordField() string {
	if l.PasswordField != "" {
		return l.PasswordField
	}
	return "password"
}

func (l *Local) minPasswordLength() int {
	if l.MinPasswordLength > 0 {
		return l.MinPasswordLength
	}
	return 8
}

// Authenticate checks the submitted pair against the credential store.
// Unknown username and wrong password are indistinguishable in the result:
// both come back as ErrBadCredentials, so this endpoint cannot be used to
// probe which usernames exist.
func (l *Local) Authenticate(rc *RequestContext) (*AccountClaim, error) {
	username, password, err := ParseCredentials(rc.Request, l.usernameField(), l.passwordField())
	if err != nil {
		return nil, ErrBadCredentials
	}

	user, err := l.Users.FindByUsername(rc.Context(), username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	return &AccountClaim{
		ID:      user.ID,
		Profile: map[string]any{"username": user.Username},
	}, nil
}

// MountRoutes mounts the handshake at POST "/" and the registration
// endpoint at POST "/register".
func (l *Local) MountRoutes(r *mux.Router, handshake http.Handler) {
	r.Handle("", handshake).Methods(http.MethodPost)
	r.Handle("/", handshake).Methods(http.MethodPost)
	r.HandleFunc("/register", l.handleRegister).Methods(http.MethodPost)
}

// handleRegister creates a credential row, then onboards it: a core
// identity and account link are created together. With LoginAfterRegister
// the new user is signed in immediately.
func (l *Local) handleRegister(w http.ResponseWriter, r *http.Request) {
	username, password, err := ParseCredentials(r, l.usernameField(), l.passwordField())
	if err != nil {
		failRedirect(w, r, l.cfg, http.StatusBadRequest)
		return
	}
	if !usernamePattern.MatchString(username) || len(password) < l.minPasswordLength() {
		failRedirect(w, r, l.cfg, http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		l.log.Error("hashing password failed", "error", err)
		failRedirect(w, r, l.cfg, http.StatusInternalServerError)
		return
	}

	user, err := l.Users.Create(r.Context(), username, string(hash))
	if err != nil {
		if errors.Is(err, ErrConflict) {
			failRedirect(w, r, l.cfg, http.StatusConflict)
			return
		}
		l.log.Error("creating user failed", "error", err)
		failRedirect(w, r, l.cfg, http.StatusInternalServerError)
		return
	}

	claim := &AccountClaim{ID: user.ID, Profile: map[string]any{"username": user.Username}}
	identity, err := l.Onboard(r.Context(), claim)
	if err != nil {
		l.log.Error("onboarding registered user failed", "error", err)
		failRedirect(w, r, l.cfg, http.StatusInternalServerError)
		return
	}

	if l.cfg.LoginAfterRegistration() {
		sessionUser := &SessionUser{
			ID: identity.ID,
			Authenticator: AccountSource{
				Name:    l.Name(),
				Account: claim.ID,
				Profile: claim.Profile,
			},
		}
		if err := l.sessions.SetUser(w, r, sessionUser); err != nil {
			l.log.Error("session write failed after registration", "error", err)
			failRedirect(w, r, l.cfg, http.StatusInternalServerError)
			return
		}
	}
	http.Redirect(w, r, l.cfg.SuccessRedirect, http.StatusSeeOther)
}
