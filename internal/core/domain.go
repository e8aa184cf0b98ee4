package core

import (
	"time"
)

// Role is a named credential-generation configuration.
// A lease captures a full copy of its role at issuance time, so
// administrative replacement never affects already-issued leases.
type Role struct {
	// Name is the unique role identifier.
	Name string `yaml:"name" json:"name"`

	// Backend is the name of the backend instance (defined in config)
	// that mints and destroys credentials for this role.
	Backend string `yaml:"backend" json:"backend"`

	// Connection holds backend-specific connection parameters.
	// The core treats it as opaque.
	Connection map[string]any `yaml:"connection,omitempty" json:"connection,omitempty"`

	// Template is the backend-specific credential-generation template.
	// For the postgres backend this is a semicolon-separated list of SQL
	// statements with {{name}}, {{password}} and {{expiration}} placeholders.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// DefaultTTL is granted when the caller requests no explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// MaxTTL is the absolute lifetime ceiling, enforced across renewals.
	MaxTTL time.Duration `yaml:"max_ttl" json:"max_ttl"`
}

// Validate checks the TTL bounds. Invariant: 0 < default_ttl <= max_ttl.
func (r Role) Validate() error {
	if r.Name == "" {
		return E(KindInvalidRoleConfig, "role name must not be empty")
	}
	if r.Backend == "" {
		return E(KindInvalidRoleConfig, "role '%s' missing backend", r.Name)
	}
	if r.MaxTTL <= 0 {
		return E(KindInvalidRoleConfig, "role '%s': max_ttl must be > 0", r.Name)
	}
	if r.DefaultTTL <= 0 {
		return E(KindInvalidRoleConfig, "role '%s': default_ttl must be > 0", r.Name)
	}
	if r.DefaultTTL > r.MaxTTL {
		return E(KindInvalidRoleConfig, "role '%s': default_ttl exceeds max_ttl", r.Name)
	}
	return nil
}

// LeaseState describes where a lease is in its lifecycle.
type LeaseState string

const (
	// LeaseStateActive is the normal state from issuance until the record
	// is deleted by revocation or the expiry sweep.
	LeaseStateActive LeaseState = "active"

	// LeaseStateRevocationFailed marks a lease whose backend revocation
	// exhausted its retries; the record is retained for the operator.
	LeaseStateRevocationFailed LeaseState = "revocation_failed"
)

// Lease is the durable record of an issued credential.
// It never contains the plaintext secret, only the backend-opaque
// revocation reference needed to destroy it.
type Lease struct {
	// ID is the unique lease identifier.
	ID string `json:"id"`

	// Role is the name of the role this lease was issued under.
	Role string `json:"role"`

	// RoleSnapshot is the role configuration captured at issuance time.
	// Revocation uses this snapshot, so deleting or replacing the role
	// keeps existing leases revocable.
	RoleSnapshot Role `json:"role_snapshot"`

	// RevocationRef is the backend-opaque reference sufficient to destroy
	// the credential. Distinct from the secret itself.
	RevocationRef string `json:"revocation_ref"`

	// Fingerprint is a non-reversible identifier of the issued credential,
	// usable for audit correlation.
	Fingerprint string `json:"fingerprint,omitempty"`

	State LeaseState `json:"state"`

	IssuedAt  time.Time     `json:"issued_at"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Time     `json:"expires_at"`

	// Renewals counts successful renewals; it doubles as the logical
	// version used to detect concurrent renewal races.
	Renewals int `json:"renewals"`

	// RevokeAttempts counts failed backend revocations across sweeps.
	RevokeAttempts int `json:"revoke_attempts,omitempty"`
}

// MaxExpiry is the absolute ceiling for this lease: issue time + max TTL
// of the role snapshot.
func (l Lease) MaxExpiry() time.Time {
	return l.IssuedAt.Add(l.RoleSnapshot.MaxTTL)
}

// Expired reports whether the lease expiry has passed at the given time.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Credential is a resource-native secret pair. It is handed to the caller
// exactly once and never persisted by the core.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BackendInfo identifies the backend that minted a credential.
type BackendInfo struct {
	// Type is the backend type (e.g. "postgres", "stub").
	Type string `json:"type"`

	// Version is the backend implementation version.
	Version string `json:"version"`
}

// CredentialArtifact is the result of a successful Generate operation.
type CredentialArtifact struct {
	// Credential is the one-time secret payload.
	Credential Credential `json:"credential"`

	// Fingerprint is a non-reversible credential identifier for tracing.
	Fingerprint string `json:"fingerprint"`

	// ExpiresAt indicates when the backend-side principal becomes invalid.
	ExpiresAt time.Time `json:"expires_at"`

	// Backend contains information about the minting backend.
	Backend BackendInfo `json:"backend"`

	// Metadata contains extra backend-specific information.
	Metadata map[string]any `json:"metadata,omitempty"`

	// internal state passed from the backend to the lease manager.
	// It holds the backend-opaque reference needed for revocation.
	revocationRef string
}

// SetRevocationRef is used by backends to attach the revocation reference
// during Generate. Internal usage only.
func (a *CredentialArtifact) SetRevocationRef(ref string) {
	a.revocationRef = ref
}

func (a *CredentialArtifact) RevocationRef() string {
	return a.revocationRef
}
