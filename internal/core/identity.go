package core

import (
	"time"

	"github.com/expr-lang/expr/vm"
)

// Principal represents the verified identity of the caller.
// It is produced by a Verifier after validating an upstream assertion.
type Principal struct {
	// ID is the unique subject identifier (e.g., email, sub claim).
	ID string `json:"id"`

	// Verifier is the name of the trusted verifier that validated
	// this principal.
	Verifier string `json:"verifier"`

	// Claims are the attributes extracted from the upstream assertion.
	Claims map[string]any `json:"claims,omitempty"`
}

// IdentityMapping associates a verified external identity with a set of
// named policies. Lookup happens at authentication time; no mapping
// matching means default deny.
type IdentityMapping struct {
	// Name is a unique, human-readable identifier.
	Name string `yaml:"name" json:"name"`

	// Subject is the subject-claim pattern: an exact subject or a
	// prefix glob ending in '*'.
	Subject string `yaml:"subject" json:"subject"`

	// Verifier optionally restricts the mapping to principals produced
	// by a specific verifier.
	Verifier string `yaml:"verifier,omitempty" json:"verifier,omitempty"`

	// Audience optionally requires the assertion's 'aud' claim to
	// contain this value.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// Expr is an optional expression over the principal's claims for
	// more complex matching logic.
	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`

	// CompiledExpr holds the pre-compiled form of Expr.
	CompiledExpr *vm.Program `yaml:"-" json:"-"`

	// Policies are the policy names granted when this mapping matches.
	Policies []string `yaml:"policies" json:"policies"`

	// MaxSessionTTL caps the lifetime of session tokens minted through
	// this mapping. Zero means the broker default applies.
	MaxSessionTTL time.Duration `yaml:"max_session_ttl,omitempty" json:"max_session_ttl,omitempty"`
}

// Session is a successfully authenticated principal as carried by a
// session token. It lives only as long as its token and is never persisted.
type Session struct {
	// Subject is the verified principal identifier.
	Subject string `json:"subject"`

	// Policies is the resolved policy-name set.
	Policies []string `json:"policies"`

	ExpiresAt time.Time `json:"expires_at"`
}
