package identity

import (
	"context"
	"fmt"

	"github.com/jmelchers/arvon/internal/config"
	"github.com/jmelchers/arvon/internal/core"
)

// Registry holds the configured verifiers and supports auto-discovery of
// the right verifier from an assertion's 'iss' claim.
type Registry struct {
	verifiers map[string]core.Verifier
}

func BuildRegistry(ctx context.Context, cfgs []config.VerifierConfig) (*Registry, error) {
	verifiers := make(map[string]core.Verifier)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "static":
			v, err := NewStaticVerifier(cfg.Name, cfg.Config)
			if err != nil {
				return nil, fmt.Errorf("building static verifier %q: %w", cfg.Name, err)
			}
			verifiers[cfg.Name] = v
		case "oidc":
			v, err := NewOIDCVerifier(ctx, cfg.Name, cfg.Config)
			if err != nil {
				return nil, fmt.Errorf("building oidc verifier %q: %w", cfg.Name, err)
			}
			verifiers[cfg.Name] = v
		default:
			return nil, fmt.Errorf("unknown verifier type %q for verifier %q", cfg.Type, cfg.Name)
		}
	}
	return &Registry{verifiers: verifiers}, nil
}

// NewRegistry wraps pre-built verifiers, mainly for tests.
func NewRegistry(verifiers ...core.Verifier) *Registry {
	m := make(map[string]core.Verifier, len(verifiers))
	for _, v := range verifiers {
		m[v.Name()] = v
	}
	return &Registry{verifiers: m}
}

func (r *Registry) Get(name string) (core.Verifier, bool) {
	v, ok := r.verifiers[name]
	return v, ok
}

// Identify picks the verifier whose issuer URL matches the assertion's
// unverified 'iss' claim. The chosen verifier still performs full
// validation; this only routes the assertion.
func (r *Registry) Identify(assertion string) (core.Verifier, error) {
	issuerURL, err := ExtractIssuerURL(assertion)
	if err != nil {
		return nil, fmt.Errorf("extracting issuer: %w", err)
	}
	for _, v := range r.verifiers {
		if o, ok := v.(*OIDCVerifier); ok && o.IssuerURL() == issuerURL {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no verifier configured for issuer '%s'", issuerURL)
}
