package identity

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/jmelchers/arvon/internal/core"
)

// StaticVerifier maps fixed assertion strings to claims. Intended for
// development and tests only; it performs no cryptographic verification.
type StaticVerifier struct {
	name         string
	assertionMap map[string]map[string]any
}

var _ core.Verifier = (*StaticVerifier)(nil)

type StaticConfig struct {
	// Assertions maps a raw assertion string to the claims it proves.
	// Each claim set should include a 'sub'.
	Assertions map[string]map[string]any `mapstructure:"assertions"`
}

func NewStaticVerifier(name string, raw map[string]any) (*StaticVerifier, error) {
	var cfg StaticConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding static verifier '%s' config: %w", name, err)
	}

	// no assertions configured means verification always fails
	if cfg.Assertions == nil {
		cfg.Assertions = make(map[string]map[string]any)
	}

	return &StaticVerifier{
		name:         name,
		assertionMap: cfg.Assertions,
	}, nil
}

func (s *StaticVerifier) Name() string {
	return s.name
}

func (s *StaticVerifier) Verify(_ context.Context, assertion string) (*core.Principal, error) {
	claims, ok := s.assertionMap[assertion]
	if !ok {
		return nil, core.E(core.KindIdentityInvalid, "unknown assertion")
	}

	id := "static-user"
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		id = sub
	}

	return &core.Principal{
		ID:       id,
		Verifier: s.name,
		Claims:   claims,
	}, nil
}
