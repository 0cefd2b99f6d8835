package character

import (
	"context"
	"time"
)

// Identity is the hub's canonical representation of a person, independent
// of which authenticator they used to sign in.
type Identity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account links an authenticator-local account to an identity.
// The (AuthenticatorName, AccountID) pair is unique across the store;
// one identity may carry many accounts.
type Account struct {
	AuthenticatorName string    `json:"authenticator_name"`
	AccountID         string    `json:"account_id"`
	IdentityID        string    `json:"identity_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// IdentityStore manages identities and the accounts linked to them.
//
// Implementations provide their own concurrency control. The uniqueness
// constraint on (authenticator name, account id) is the sole mechanism
// preventing duplicate identity creation when the same account is onboarded
// concurrently: the second Onboard must fail with ErrConflict rather than
// create a second identity.
type IdentityStore interface {
	// IdentityByAccount returns the identity linked to the given
	// authenticator account, or ErrNotFound when no link exists.
	IdentityByAccount(ctx context.Context, authenticatorName, accountID string) (*Identity, error)

	// Onboard atomically creates a new identity and links the account to
	// it. Both writes succeed or neither does. Returns ErrConflict if the
	// account is already linked.
	Onboard(ctx context.Context, authenticatorName, accountID string) (*Identity, error)

	// IdentityAccounts returns all accounts linked to an identity.
	IdentityAccounts(ctx context.Context, identityID string) ([]*Account, error)
}

// AccountClaim is the minimal result of a successful Authenticate call:
// the authenticator-local account id plus whatever profile data the
// authenticator wants recorded on the session user.
//
// Deferred marks asynchronous methods (a magic link sent out-of-band) where
// there is no synchronous account to attach yet; the relay acknowledges the
// request without writing a session.
type AccountClaim struct {
	ID       string
	Deferred bool
	Profile  map[string]any
}

// SessionUser is the value the hub writes into the session on login. It is
// the minimum needed to record a successful authentication; applications
// query the stores for anything richer.
type SessionUser struct {
	ID            string        `json:"id"`
	Authenticator AccountSource `json:"authenticator"`
}

// AccountSource records which authenticator account produced a login.
type AccountSource struct {
	Name    string         `json:"name"`
	Account string         `json:"account"`
	Profile map[string]any `json:"profile,omitempty"`
}
