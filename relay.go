package character

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// handshake states, in the order one request moves through them.
type handshakeState string

const (
	stateReceived       handshakeState = "received"
	stateAuthenticating handshakeState = "authenticating"
	stateIdentifying    handshakeState = "identifying"
	stateResolved       handshakeState = "resolved"
)

// Relay is the hub's protocol engine. It receives an inbound handshake
// request, drives the authenticator through authenticate and
// identify-or-onboard, records the outcome in the session and converts it
// into a redirect. It is also the single error boundary of the handshake:
// authenticator implementations let errors propagate, and the relay turns
// every one of them into a user-visible redirect or, absent a redirect
// target, a plain 500.
type Relay struct {
	Identities IdentityStore
	Sessions   *SessionGateway
	Observer   Observer
	Log        *slog.Logger
}

func (h *Relay) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *Relay) observer() Observer {
	if h.Observer != nil {
		return h.Observer
	}
	return NopObserver{}
}

// Handshake returns the HTTP handler that runs one full handshake against
// the given authenticator. The registry mounts it at the authenticator's
// route prefix; the steps always execute strictly in order authenticate,
// identify or onboard, session write, redirect.
func (h *Relay) Handshake(auth Authenticator, cfg *AuthenticatorConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := h.logger().With("authenticator", auth.Name(), "state", stateReceived)

		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handshake panicked", "panic", rec)
				h.fail(w, r, cfg, http.StatusInternalServerError)
			}
		}()

		rc := &RequestContext{
			Request:  r,
			Sessions: h.Sessions,
			Config:   cfg,
			Log:      log,
		}

		log = log.With("state", stateAuthenticating)
		claim, err := auth.Authenticate(rc)
		if err != nil {
			log.Info("authentication refused", "reason", reasonFor(err))
			h.fail(w, r, cfg, statusFor(err))
			return
		}

		if claim.Deferred {
			// Out-of-band delivery is under way; there is no account to
			// attach yet and no session to write.
			log.Info("handshake deferred")
			http.Redirect(w, r, cfg.Deferred(), http.StatusSeeOther)
			return
		}

		log = log.With("state", stateIdentifying, "account", claim.ID)
		identity, err := h.resolveIdentity(auth, rc, claim)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				log.Error("identity resolution failed", "error", err)
			} else {
				log.Info("identity resolution refused", "reason", reasonFor(err))
			}
			h.fail(w, r, cfg, statusFor(err))
			return
		}

		user := &SessionUser{
			ID: identity.ID,
			Authenticator: AccountSource{
				Name:    auth.Name(),
				Account: claim.ID,
				Profile: claim.Profile,
			},
		}
		if err := h.Sessions.SetUser(w, r, user); err != nil {
			log.Error("session write failed", "error", err)
			h.fail(w, r, cfg, http.StatusInternalServerError)
			return
		}
		h.observer().UserAuthenticated(AuthenticateEvent{User: *user, Datetime: time.Now()})

		log.Info("handshake resolved", "state", stateResolved, "identity", identity.ID)
		http.Redirect(w, r, cfg.SuccessRedirect, http.StatusSeeOther)
	})
}

// resolveIdentity runs the identify-or-onboard decision. When the account
// has no link and onboarding is disabled the miss is reported as
// ErrBadCredentials, so the failure redirect is indistinguishable from a
// wrong password.
func (h *Relay) resolveIdentity(auth Authenticator, rc *RequestContext, claim *AccountClaim) (*Identity, error) {
	ctx := rc.Context()

	identity, err := auth.Identify(ctx, claim)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if !rc.Config.Onboarding() {
		return nil, ErrBadCredentials
	}

	identity, err = auth.Onboard(ctx, claim)
	if errors.Is(err, ErrConflict) {
		// Lost the onboarding race; the unique constraint guarantees the
		// winner's link is now in place.
		return auth.Identify(ctx, claim)
	}
	if err != nil {
		return nil, err
	}

	h.observer().AccountOnboarded(OnboardEvent{
		Account: Account{
			AuthenticatorName: auth.Name(),
			AccountID:         claim.ID,
			IdentityID:        identity.ID,
		},
		Identity: *identity,
		Datetime: time.Now(),
	})
	return identity, nil
}

func (h *Relay) fail(w http.ResponseWriter, r *http.Request, cfg *AuthenticatorConfig, status int) {
	failRedirect(w, r, cfg, status)
}

// failRedirect resolves a handshake as a failure: a 303 to the failure
// redirect with the status text as the reason, or a bare status code when
// no redirect target is configured. Internal detail never reaches the
// reason text.
func failRedirect(w http.ResponseWriter, r *http.Request, cfg *AuthenticatorConfig, status int) {
	if cfg == nil || cfg.FailureRedirect == "" {
		http.Error(w, http.StatusText(status), status)
		return
	}
	query := url.Values{"reason": {http.StatusText(status)}}
	http.Redirect(w, r, cfg.FailureRedirect+"?"+query.Encode(), http.StatusSeeOther)
}
