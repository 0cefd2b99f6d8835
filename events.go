package character

import "time"

// OnboardEvent is emitted after a new identity is created for a previously
// unseen authenticator account.
type OnboardEvent struct {
	Account  Account
	Identity Identity
	Datetime time.Time
}

// AuthenticateEvent is emitted after a successful handshake, once the user
// has been written to the session.
type AuthenticateEvent struct {
	User     SessionUser
	Datetime time.Time
}

// Observer receives domain events from the relay. Events are notifications
// for audit logging and analytics, not control flow: the relay never waits
// on an observer's outcome. Observers are injected at relay construction so
// tests can assert exactly which notifications fired.
type Observer interface {
	AccountOnboarded(OnboardEvent)
	UserAuthenticated(AuthenticateEvent)
}

// NopObserver discards all events. The relay uses it when no observer is
// configured.
type NopObserver struct{}

func (NopObserver) AccountOnboarded(OnboardEvent)       {}
func (NopObserver) UserAuthenticated(AuthenticateEvent) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (os Observers) AccountOnboarded(e OnboardEvent) {
	for _, o := range os {
		o.AccountOnboarded(e)
	}
}

func (os Observers) UserAuthenticated(e AuthenticateEvent) {
	for _, o := range os {
		o.UserAuthenticated(e)
	}
}
