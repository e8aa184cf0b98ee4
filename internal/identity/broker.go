// Package identity implements the identity broker: it validates external
// identity assertions through pluggable verifiers, resolves verified
// subjects to policy sets via persisted mappings, and mints short-lived
// session tokens.
package identity

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/core"
)

const DefaultSessionTTL = time.Hour

type Broker struct {
	verifiers  *Registry
	mappings   *MappingRegistry
	signingKey []byte
	defaultTTL time.Duration

	now func() time.Time
}

func NewBroker(verifiers *Registry, mappings *MappingRegistry, signingKey []byte, defaultTTL time.Duration) *Broker {
	if defaultTTL <= 0 {
		defaultTTL = DefaultSessionTTL
	}
	return &Broker{
		verifiers:  verifiers,
		mappings:   mappings,
		signingKey: signingKey,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// LoginResult carries the minted session token and its resolution, for
// auditing by the caller.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Policies  []string  `json:"policies"`

	Principal *core.Principal `json:"-"`
}

// Authenticate validates the assertion, resolves the subject to a policy
// set and mints a session token. verifierName may be empty, in which case
// the verifier is auto-discovered from the assertion.
//
// Failure modes: identity_invalid (bad signature/claims), identity_expired,
// identity_unmapped (no mapping exists; deliberate default deny).
func (b *Broker) Authenticate(ctx context.Context, assertion, verifierName string) (*LoginResult, error) {
	logger := log.Ctx(ctx)

	var verifier core.Verifier
	if verifierName != "" {
		var ok bool
		if verifier, ok = b.verifiers.Get(verifierName); !ok {
			return nil, core.E(core.KindIdentityInvalid, "requested verifier '%s' not found", verifierName)
		}
		logger.Debug().Str("verifier", verifier.Name()).Msg("using explicit verifier")
	} else {
		var err error
		if verifier, err = b.verifiers.Identify(assertion); err != nil {
			return nil, core.Wrap(core.KindIdentityInvalid, err, "verifier auto-discovery failed")
		}
		logger.Debug().Str("verifier", verifier.Name()).Msg("using discovered verifier")
	}

	principal, err := verifier.Verify(ctx, assertion)
	if err != nil {
		var classified *core.Error
		if errors.As(err, &classified) {
			return nil, err
		}
		return nil, core.Wrap(core.KindIdentityInvalid, err, "verification failed")
	}

	matched, err := b.mappings.Resolve(ctx, principal)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, err, "resolving identity mappings")
	}
	if len(matched) == 0 {
		// default deny: a verified identity with no mapping gets nothing
		return nil, core.E(core.KindIdentityUnmapped, "no identity mapping for subject")
	}

	policies, ttl := collapseMappings(matched, b.defaultTTL)

	now := b.now()
	expiresAt := now.Add(ttl)
	token, err := b.mintSession(principal.ID, policies, now, expiresAt)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, err, "minting session token")
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Policies:  policies,
		Principal: principal,
	}, nil
}

// collapseMappings unions the policy sets of all matched mappings and
// takes the tightest session TTL cap among them.
func collapseMappings(matched []core.IdentityMapping, defaultTTL time.Duration) ([]string, time.Duration) {
	seen := make(map[string]struct{})
	var policies []string
	ttl := defaultTTL

	for _, m := range matched {
		for _, p := range m.Policies {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			policies = append(policies, p)
		}
		if m.MaxSessionTTL > 0 && m.MaxSessionTTL < ttl {
			ttl = m.MaxSessionTTL
		}
	}
	sort.Strings(policies)
	return policies, ttl
}

type sessionClaims struct {
	Policies []string `json:"policies"`
	jwt.RegisteredClaims
}

func (b *Broker) mintSession(subject string, policies []string, now, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		Policies: policies,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
}

// ParseSession validates a session token and returns the session it
// represents. Sessions are stateless; nothing is looked up.
func (b *Broker) ParseSession(tokenStr string) (*core.Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return b.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return b.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.E(core.KindIdentityExpired, "session token expired")
		}
		return nil, core.Wrap(core.KindIdentityInvalid, err, "invalid session token")
	}
	if !token.Valid {
		return nil, core.E(core.KindIdentityInvalid, "invalid session token")
	}

	return &core.Session{
		Subject:   claims.Subject,
		Policies:  claims.Policies,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
