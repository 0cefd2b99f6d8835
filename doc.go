// Package character is a pluggable authentication hub for web applications.
//
// Character separates authentication into three layers: core identities,
// authenticator accounts, and authenticators. This design lets one person
// sign in through any number of independent authentication methods while
// the application sees a single durable identity.
//
// # Architecture
//
// Identity: the hub's canonical representation of a person. Identities are
// created exactly once, during onboarding, and never change afterwards.
//
// Account: the link between an authenticator-local account id and an
// identity. Each (authenticator, account id) pair maps to at most one
// identity; an identity may carry many accounts.
//
// Authenticator: a pluggable implementation of one authentication method
// (local password, OAuth provider, magic link, mock). Authenticators
// implement a fixed contract - Authenticate, Identify, Onboard - which the
// handshake relay composes into the full login sequence.
//
// # Basic Usage
//
// Build stores, a session gateway and a relay, then mount configured
// authenticators through the registry:
//
//	identities, _ := stores.NewFSIdentityStore(storagePath)
//	sessions := character.NewSessionGateway(scs.New(), "mysecretkey")
//
//	relay := &character.Relay{
//	    Identities: identities,
//	    Sessions:   sessions,
//	}
//
//	registry := character.NewRegistry()
//	registry.Register("local", character.LocalFactory(userStore))
//	registry.Register("mock-local", character.MockFactory())
//
//	router := mux.NewRouter()
//	err := registry.Mount(router.PathPrefix("/auth").Subrouter(), relay, cfg)
//
// Every authenticator is then reachable at /auth/<name>. A successful
// handshake writes the authenticated user into the server-side session and
// answers with a 303 redirect to the configured success URL; failures
// redirect to the failure URL with a reason query parameter.
package character
