package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the identity interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// RequireAuth when true rejects requests without an identity.
	// When false, requests proceed but IdentityFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require an
	// identity. Only used when RequireAuth is true. Keys are full method
	// names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires an identity for
// all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that lets unauthenticated requests
// through.
func OptionalAuthConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   false,
		PublicMethods: make(map[string]bool),
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that enforces the
// presence of a propagated identity id. It honors the switch-identity
// header when EnableSwitchAuth is set in the config.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = normalized(config)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if extractIdentityID(ctx, config) == "" {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns the stream counterpart of
// UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = normalized(config)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if extractIdentityID(ss.Context(), config) == "" {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}
		return handler(srv, ss)
	}
}

func normalized(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	return config
}

// extractIdentityID extracts the identity id from context using the
// interceptor config.
func extractIdentityID(ctx context.Context, config *InterceptorConfig) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	if config.Config.EnableSwitchAuth {
		if values := md.Get(config.Config.MetadataKeySwitchIdentity); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}

	if values := md.Get(config.Config.MetadataKeyIdentityID); len(values) > 0 {
		return values[0]
	}

	return ""
}
