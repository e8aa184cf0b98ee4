package core

import (
	"context"
	"time"
)

// Verifier is responsible for validating upstream identity assertions.
// Implementations: OIDC verifier, static verifier (dev/tests).
type Verifier interface {
	// Name returns the identifier of this verifier (as used in config).
	Name() string

	// Verify validates a raw assertion and returns a Principal.
	Verify(ctx context.Context, assertion string) (*Principal, error)
}

// Backend mints and destroys resource-native credentials.
// One implementation exists per resource type; concrete instances are
// selected through the role configuration.
type Backend interface {
	// Name returns the identifier of this backend instance (as used in config).
	Name() string

	// Type returns the backend type (e.g. "postgres").
	Type() string

	// Generate creates a resource-side principal scoped to the role's
	// template, valid for the given ttl. The returned artifact carries
	// the one-time secret and the opaque revocation reference.
	// Implementations must make revocation of a partially-created
	// principal a no-op-safe operation.
	Generate(ctx context.Context, role Role, ttl time.Duration) (*CredentialArtifact, error)

	// Revoke destroys the resource-side principal. It must be safely
	// retryable: revoking twice, or revoking a nonexistent principal,
	// is a success.
	Revoke(ctx context.Context, revocationRef string) error
}
