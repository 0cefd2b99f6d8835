// Package grpc propagates the hub's identity id between HTTP handlers and
// gRPC services via metadata, so backend services see who the edge
// authenticated without re-running authentication themselves.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/characterhq/character"
)

// Default metadata keys for identity propagation. These can be customized
// via Config if needed.
const (
	// DefaultMetadataKeyIdentityID is the default gRPC metadata key for the
	// authenticated identity id
	DefaultMetadataKeyIdentityID = "x-identity-id"

	// DefaultMetadataKeySwitchIdentity is the default gRPC metadata key for
	// impersonating a different identity (testing only)
	DefaultMetadataKeySwitchIdentity = "x-switch-identity"
)

// Config holds the metadata key configuration for identity propagation.
type Config struct {
	// MetadataKeyIdentityID is the gRPC metadata key for the authenticated
	// identity id. Defaults to "x-identity-id".
	MetadataKeyIdentityID string

	// MetadataKeySwitchIdentity is the gRPC metadata key for impersonating
	// a different identity. Only used when switch auth is enabled.
	// Defaults to "x-switch-identity".
	MetadataKeySwitchIdentity string

	// EnableSwitchAuth when true allows the switch-identity header to
	// override the identity id. Should only be enabled in
	// development/testing environments.
	EnableSwitchAuth bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyIdentityID:     DefaultMetadataKeyIdentityID,
		MetadataKeySwitchIdentity: DefaultMetadataKeySwitchIdentity,
		EnableSwitchAuth:          false,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyIdentityID == "" {
		c.MetadataKeyIdentityID = DefaultMetadataKeyIdentityID
	}
	if c.MetadataKeySwitchIdentity == "" {
		c.MetadataKeySwitchIdentity = DefaultMetadataKeySwitchIdentity
	}
}

// IdentityFromContext extracts the authenticated identity id from the gRPC
// context metadata. Returns empty string when nobody is authenticated.
func IdentityFromContext(ctx context.Context) string {
	return IdentityFromContextWithConfig(ctx, nil)
}

// IdentityFromContextWithConfig extracts the identity id using the
// specified config.
func IdentityFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	// Check for a switched identity first (only if enabled)
	if config.EnableSwitchAuth {
		if values := md.Get(config.MetadataKeySwitchIdentity); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}

	if values := md.Get(config.MetadataKeyIdentityID); len(values) > 0 {
		return values[0]
	}

	return ""
}

// IdentityToOutgoingContext adds the identity id to outgoing gRPC context
// metadata.
func IdentityToOutgoingContext(ctx context.Context, identityID string) context.Context {
	return IdentityToOutgoingContextWithKey(ctx, identityID, DefaultMetadataKeyIdentityID)
}

// IdentityToOutgoingContextWithKey adds the identity id with a custom key.
func IdentityToOutgoingContextWithKey(ctx context.Context, identityID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, identityID)
}

// UserToOutgoingContext annotates an outgoing context with the identity id
// of a session user, typically taken from the hub's HTTP middleware on the
// way into a backend call.
func UserToOutgoingContext(ctx context.Context, user *character.SessionUser) context.Context {
	if user == nil || user.ID == "" {
		return ctx
	}
	return IdentityToOutgoingContext(ctx, user.ID)
}

// SwitchIdentityToOutgoingContext adds a switch-identity header to outgoing
// gRPC context metadata. This is only effective when EnableSwitchAuth is
// set on the server.
func SwitchIdentityToOutgoingContext(ctx context.Context, switchToIdentityID string) context.Context {
	return SwitchIdentityToOutgoingContextWithKey(ctx, switchToIdentityID, DefaultMetadataKeySwitchIdentity)
}

// SwitchIdentityToOutgoingContextWithKey adds a switch-identity header with
// a custom key.
func SwitchIdentityToOutgoingContextWithKey(ctx context.Context, switchToIdentityID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, switchToIdentityID)
}

// IsAuthenticated returns true if there is an authenticated identity in the
// context.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityFromContext(ctx) != ""
}

// IsAuthenticatedWithConfig returns true if there is an authenticated
// identity using the specified config.
func IsAuthenticatedWithConfig(ctx context.Context, config *Config) bool {
	return IdentityFromContextWithConfig(ctx, config) != ""
}
