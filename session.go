package character

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

// SessionGateway is the thin read/set layer between the hub and the
// server-side session store. It owns a namespaced slice of the session
// payload so hub writes never clobber unrelated application session data,
// and it exposes the "current authenticated user" to the rest of the
// application.
//
// The gateway must run under Manager.LoadAndSave; the registry wraps every
// authenticator route with it.
type SessionGateway struct {
	Manager *scs.SessionManager

	// Namespace prefixes every key the hub writes. Defaults to
	// "character".
	Namespace string

	// JWT auth-token cookie minted alongside the session on login, so
	// non-session consumers (API middleware, RPC gateways) can verify
	// logins without a session store round trip.
	JWTIssuer           string
	JWTSecretKey        string
	AuthTokenCookieName string

	// CookieDomains lists extra domains the auth-token cookie is set on.
	// The request's own domain is always included.
	CookieDomains []string
}

// NewSessionGateway builds a gateway over an scs session manager. The
// secret signs the auth-token cookie.
func NewSessionGateway(manager *scs.SessionManager, secret string) *SessionGateway {
	g := &SessionGateway{Manager: manager, JWTSecretKey: secret}
	return g.EnsureDefaults()
}

// NewSessionGatewayFromConfig builds the session manager and the gateway
// from the hub's session configuration: the session cookie name, its
// lifetime and the auth-token signing secret.
func NewSessionGatewayFromConfig(cfg SessionConfig) *SessionGateway {
	manager := scs.New()
	if cfg.CookieName != "" {
		manager.Cookie.Name = cfg.CookieName
	}
	if cfg.MaxAge > 0 {
		manager.Lifetime = cfg.MaxAge
	}
	return NewSessionGateway(manager, cfg.Secret)
}

// EnsureDefaults fills zero fields with their defaults.
func (g *SessionGateway) EnsureDefaults() *SessionGateway {
	if g.Namespace == "" {
		g.Namespace = "character"
	}
	if g.JWTIssuer == "" {
		g.JWTIssuer = "character"
	}
	if g.AuthTokenCookieName == "" {
		g.AuthTokenCookieName = "CharacterAuthToken"
	}
	return g
}

func (g *SessionGateway) key(k string) string {
	return g.Namespace + ":" + k
}

// Get reads a value from the hub's slice of the session payload. Returns
// nil when the key was never set.
func (g *SessionGateway) Get(ctx context.Context, key string) any {
	return g.Manager.Get(ctx, g.key(key))
}

// Set merges values into the hub's slice of the session payload. The
// session itself is created lazily by the manager on the first write.
func (g *SessionGateway) Set(ctx context.Context, values map[string]any) {
	for k, v := range values {
		g.Manager.Put(ctx, g.key(k), v)
	}
}

// User returns the authenticated user recorded in the session, or nil.
// A request that never passed through the manager's middleware carries no
// session data at all; it reads as anonymous instead of panicking, so the
// auth-token fallback in Middleware can take over.
func (g *SessionGateway) User(ctx context.Context) (user *SessionUser) {
	defer func() {
		if recover() != nil {
			user = nil
		}
	}()
	raw := g.Manager.GetString(ctx, g.key("user"))
	if raw == "" {
		return nil
	}
	var decoded SessionUser
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		slog.Warn("discarding undecodable session user", "error", err)
		return nil
	}
	return &decoded
}

// IsAuthenticated reports whether the session records a logged-in user.
func (g *SessionGateway) IsAuthenticated(ctx context.Context) bool {
	return g.User(ctx) != nil
}

// SetUser records the authenticated user in the session and mints the
// auth-token cookie. Setting the same user twice leaves the payload
// unchanged from a single call.
func (g *SessionGateway) SetUser(w http.ResponseWriter, r *http.Request, user *SessionUser) error {
	g.EnsureDefaults()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding session user: %w", err)
	}
	g.Manager.Put(r.Context(), g.key("user"), string(data))

	token, err := g.mintAuthToken(user)
	if err != nil {
		return err
	}
	maxAge := int(g.Manager.Lifetime / time.Second)
	for _, domain := range g.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     g.AuthTokenCookieName,
			Value:    token,
			Domain:   domain,
			Path:     "/",
			MaxAge:   maxAge,
			Expires:  time.Now().Add(g.Manager.Lifetime),
			HttpOnly: true,
		})
	}
	return nil
}

// Logout destroys the entire session, clears the auth-token cookie and
// redirects to the root path.
func (g *SessionGateway) Logout(w http.ResponseWriter, r *http.Request) {
	g.EnsureDefaults()
	if err := g.Manager.Destroy(r.Context()); err != nil {
		slog.Warn("error destroying session", "error", err)
	}
	for _, domain := range g.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:    g.AuthTokenCookieName,
			Domain:  domain,
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Now(),
		})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (g *SessionGateway) cookieDomains() []string {
	for _, d := range g.CookieDomains {
		if d == "" {
			return g.CookieDomains
		}
	}
	return append(g.CookieDomains, "") // request's own domain
}

func (g *SessionGateway) mintAuthToken(user *SessionUser) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID,
		"iss": g.JWTIssuer,
		"iat": now.Unix(),
		"exp": now.Add(g.Manager.Lifetime).Unix(),
	})
	signed, err := token.SignedString([]byte(g.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("signing auth token: %w", err)
	}
	return signed, nil
}

// VerifyAuthToken checks a minted auth token and returns the identity id
// it was issued for.
func (g *SessionGateway) VerifyAuthToken(tokenString string) (string, error) {
	g.EnsureDefaults()
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(g.JWTSecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}
