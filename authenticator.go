package character

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// RequestContext carries the per-request collaborators an authenticator may
// need while authenticating. It is built by the relay for every handshake
// and passed explicitly down the call chain; there is no request-scoped
// global state anywhere in the hub.
type RequestContext struct {
	Request  *http.Request
	Sessions *SessionGateway
	Config   *AuthenticatorConfig
	Log      *slog.Logger
}

// Context returns the request's context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// Authenticator is the contract every authentication method implements.
// The relay composes the three operations into the full handshake; an
// authenticator never performs routing, session writes or redirects itself
// beyond the optional extra routes of RouteMounter.
type Authenticator interface {
	// Name is the authenticator's mount name, used as the route prefix
	// and as the account namespace in the identity store.
	Name() string

	// Authenticate validates the credentials carried by the request
	// against the authenticator's own source of truth and returns a
	// minimal account claim. Bad or unknown credentials must surface as
	// ErrBadCredentials - never as a distinct not-found error.
	Authenticate(rc *RequestContext) (*AccountClaim, error)

	// Identify looks up whether the claimed account is already linked to
	// an identity. Pure read; returns ErrNotFound when no link exists.
	Identify(ctx context.Context, claim *AccountClaim) (*Identity, error)

	// Onboard creates a new identity and links the claimed account to it
	// in a single atomic unit. A concurrent duplicate fails with
	// ErrConflict, which the relay recovers by re-running Identify.
	Onboard(ctx context.Context, claim *AccountClaim) (*Identity, error)
}

// RouteMounter is implemented by authenticators that own their route
// layout: redirect-initiated methods with entry and callback legs, or
// methods with auxiliary endpoints such as /register. The registry passes
// the prepared handshake handler; authenticators mount it wherever their
// protocol needs it. Authenticators without this interface get the default
// mounting: the handshake handler at POST "/".
type RouteMounter interface {
	MountRoutes(r *mux.Router, handshake http.Handler)
}

// AccountLinker provides the Identify and Onboard halves of the
// Authenticator contract on top of an IdentityStore. Concrete
// authenticators embed it and supply only Name and Authenticate.
type AccountLinker struct {
	AuthenticatorName string
	Identities        IdentityStore
}

func (l *AccountLinker) Name() string { return l.AuthenticatorName }

func (l *AccountLinker) Identify(ctx context.Context, claim *AccountClaim) (*Identity, error) {
	return l.Identities.IdentityByAccount(ctx, l.AuthenticatorName, claim.ID)
}

func (l *AccountLinker) Onboard(ctx context.Context, claim *AccountClaim) (*Identity, error) {
	return l.Identities.Onboard(ctx, l.AuthenticatorName, claim.ID)
}
