package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"

	"github.com/jmelchers/arvon/internal/core"
)

// OIDCVerifier validates externally-issued OIDC ID tokens. Cryptographic
// verification (signature, issuer, audience, expiry) is delegated to the
// go-oidc verifier against the provider's discovery document.
type OIDCVerifier struct {
	name      string
	issuerURL string
	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
}

var _ core.Verifier = (*OIDCVerifier)(nil)

type OIDCConfig struct {
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
}

func NewOIDCVerifier(ctx context.Context, name string, raw map[string]any) (*OIDCVerifier, error) {
	var cfg OIDCConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding oidc verifier '%s' config: %w", name, err)
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("oidc verifier '%s' missing 'issuer_url'", name)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oidc verifier '%s' missing 'client_id'", name)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for verifier '%s': %w", name, err)
	}

	return &OIDCVerifier{
		name:      name,
		issuerURL: cfg.IssuerURL,
		provider:  provider,
		verifier:  provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (o *OIDCVerifier) Name() string {
	return o.name
}

// IssuerURL is used for verifier auto-discovery from the assertion's
// 'iss' claim.
func (o *OIDCVerifier) IssuerURL() string {
	return o.issuerURL
}

func (o *OIDCVerifier) Verify(ctx context.Context, assertion string) (*core.Principal, error) {
	idToken, err := o.verifier.Verify(ctx, assertion)
	if err != nil {
		if isExpiry(err) {
			return nil, core.Wrap(core.KindIdentityExpired, err, "assertion expired")
		}
		return nil, core.Wrap(core.KindIdentityInvalid, err, "oidc verification failed")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, core.Wrap(core.KindIdentityInvalid, err, "extracting oidc claims")
	}

	id := ""
	if sub, ok := claims["sub"]; ok {
		subStr, ok := sub.(string)
		if !ok {
			return nil, core.E(core.KindIdentityInvalid, "invalid 'sub' claim type")
		}
		id = subStr
	}
	if id == "" {
		return nil, core.E(core.KindIdentityInvalid, "assertion missing 'sub' claim")
	}

	return &core.Principal{
		ID:       id,
		Verifier: o.name,
		Claims:   claims,
	}, nil
}

func isExpiry(err error) bool {
	var expired *oidc.TokenExpiredError
	return errors.As(err, &expired)
}

// ExtractIssuerURL extracts the 'iss' claim from a JWT assertion without
// verifying it. Used only to pick the verifier; the chosen verifier does
// the actual validation.
func ExtractIssuerURL(assertion string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(assertion, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parsing assertion: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid assertion claims")
	}

	issRaw, ok := claims["iss"]
	if !ok {
		return "", fmt.Errorf("assertion missing 'iss' claim")
	}
	iss, ok := issRaw.(string)
	if !ok {
		return "", fmt.Errorf("invalid 'iss' claim type")
	}
	return iss, nil
}
