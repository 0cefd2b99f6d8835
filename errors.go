package character

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by stores and authenticators.
var (
	// ErrNotFound is returned by IdentityByAccount when an account has no
	// linked identity, and by credential stores for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by Onboard when the account is already
	// linked, and by credential stores on duplicate keys. The relay
	// recovers from it by re-running Identify; it never reaches the
	// browser as a distinct error class.
	ErrConflict = errors.New("already exists")

	// ErrBadCredentials is the single failure an Authenticate call may
	// surface for bad input. Unknown account and wrong password produce
	// this same value so the failure redirect cannot be used to probe
	// which accounts exist.
	ErrBadCredentials = errors.New("invalid credentials")
)

// UpstreamError wraps a failure from an authenticator's external call (a
// token exchange that timed out, an IdP that answered garbage). The relay
// maps it to a generic internal-error redirect and never retries.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// ConfigError reports invalid hub configuration. Fatal at startup in
// production mode; in development the affected authenticator is disabled
// with a warning and its routes are simply not mounted.
type ConfigError struct {
	Authenticator string // empty for hub-wide problems
	Message       string
}

func (e *ConfigError) Error() string {
	if e.Authenticator == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: authenticator %q: %s", e.Authenticator, e.Message)
}

// statusFor maps a handshake error to the HTTP status class the browser
// sees. Credential failures and missing links both map to Unauthorized;
// everything else is an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// reasonFor renders the redirect reason text for a handshake error. The
// text is the bare HTTP status text; internal detail never leaks into it.
func reasonFor(err error) string {
	return http.StatusText(statusFor(err))
}
