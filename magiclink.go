package character

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// LoginToken is a one-time magic-link token. The account id it carries is
// the email address the link was sent to.
type LoginToken struct {
	Value     string    `json:"value"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token can no longer be redeemed.
func (t *LoginToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// LoginTokenStore persists magic-link tokens.
type LoginTokenStore interface {
	Save(ctx context.Context, token *LoginToken) error

	// Consume redeems a token: it is deleted and returned in one step, so
	// a link works at most once. Missing, already-consumed and expired
	// tokens all return ErrNotFound.
	Consume(ctx context.Context, value string) (*LoginToken, error)
}

// LinkSender delivers a login link out-of-band.
type LinkSender interface {
	SendLoginLink(to string, link string) error
}

// ConsoleLinkSender is a development sender that logs links instead of
// mailing them.
type ConsoleLinkSender struct{}

func (ConsoleLinkSender) SendLoginLink(to string, link string) error {
	log.Printf("\n=== EMAIL: Login link ===")
	log.Printf("To: %s", to)
	log.Printf("Body: Sign in by clicking: %s", link)
	log.Printf("=========================\n")
	return nil
}

// MagicLink is a deferred authenticator: the first leg takes an email
// address, mints a one-time token and sends it out-of-band; no session is
// written. The second leg, GET /callback?token=..., redeems the token and
// completes an ordinary synchronous handshake.
type MagicLink struct {
	AccountLinker
	Tokens LoginTokenStore
	Sender LinkSender

	// BaseURL prefixes the callback link placed in the email.
	BaseURL string

	// TTL is the token lifetime. Defaults to 15 minutes.
	TTL time.Duration

	// EmailField names the form field carrying the address. Defaults to
	// "email".
	EmailField string

	cfg *AuthenticatorConfig
	log *slog.Logger
}

// MagicLinkFactory returns the registry factory for magic-link
// authenticators, closed over their token store and link sender. The
// callback base URL comes from the authenticator's extra config
// ("base_url").
func MagicLinkFactory(tokens LoginTokenStore, sender LinkSender) Factory {
	return Factory{
		New: func(name string, cfg *AuthenticatorConfig, deps Deps) (Authenticator, error) {
			if tokens == nil {
				return nil, errors.New("magic-link authenticator requires a token store")
			}
			if sender == nil {
				sender = ConsoleLinkSender{}
			}
			return &MagicLink{
				AccountLinker: AccountLinker{AuthenticatorName: name, Identities: deps.Identities},
				Tokens:        tokens,
				Sender:        sender,
				BaseURL:       cfg.Extra["base_url"],
				TTL:           15 * time.Minute,
				cfg:           cfg,
				log:           deps.Log,
			}, nil
		},
	}
}

func (m *MagicLink) emailField() string {
	if m.EmailField != "" {
		return m.EmailField
	}
	return "email"
}

// Authenticate serves both legs. A request carrying a token redeems it; a
// request carrying an email starts a deferred handshake.
func (m *MagicLink) Authenticate(rc *RequestContext) (*AccountClaim, error) {
	r := rc.Request

	token := r.URL.Query().Get("token")
	if token == "" && r.Method == http.MethodPost {
		fields, err := ParseFields(r, "token", m.emailField())
		if err != nil {
			return nil, ErrBadCredentials
		}
		token = fields["token"]
		if token == "" {
			return m.initiate(rc, fields[m.emailField()])
		}
	}
	if token == "" {
		return nil, ErrBadCredentials
	}

	redeemed, err := m.Tokens.Consume(rc.Context(), token)
	if err != nil {
		// Unknown, consumed and expired tokens are indistinguishable.
		return nil, ErrBadCredentials
	}
	return &AccountClaim{
		ID:      redeemed.AccountID,
		Profile: map[string]any{"email": redeemed.AccountID},
	}, nil
}

// initiate mints and delivers a login link, then defers the handshake.
func (m *MagicLink) initiate(rc *RequestContext, email string) (*AccountClaim, error) {
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrBadCredentials
	}

	token := &LoginToken{
		Value:     uuid.New().String(),
		AccountID: email,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(m.ttl()),
	}
	if err := m.Tokens.Save(rc.Context(), token); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s?token=%s", m.callbackURL(rc.Request), token.Value)
	if err := m.Sender.SendLoginLink(email, link); err != nil {
		return nil, &UpstreamError{Err: err}
	}

	m.log.Info("login link sent", "authenticator", m.Name())
	return &AccountClaim{Deferred: true}, nil
}

func (m *MagicLink) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return 15 * time.Minute
}

func (m *MagicLink) callbackURL(r *http.Request) string {
	base := m.BaseURL
	if base == "" {
		base = "http://" + r.Host
	}
	return strings.TrimSuffix(base, "/") + strings.TrimSuffix(r.URL.Path, "/") + "/callback"
}

// MountRoutes mounts the deferred leg at POST "/" and the redeeming leg at
// GET "/callback".
func (m *MagicLink) MountRoutes(r *mux.Router, handshake http.Handler) {
	r.Handle("", handshake).Methods(http.MethodPost)
	r.Handle("/", handshake).Methods(http.MethodPost)
	r.Handle("/callback", handshake).Methods(http.MethodGet)
}
