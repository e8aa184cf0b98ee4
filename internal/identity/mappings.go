package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/store"
)

const keyPrefix = "identity/"

const casRetries = 8

// MappingRegistry persists identity mappings: subject-claim patterns
// resolved to policy sets at authentication time.
type MappingRegistry struct {
	store store.Store
}

func NewMappingRegistry(s store.Store) *MappingRegistry {
	return &MappingRegistry{store: s}
}

func validateMapping(m *core.IdentityMapping) error {
	if m.Name == "" {
		return fmt.Errorf("mapping name must not be empty")
	}
	if m.Subject == "" {
		return fmt.Errorf("mapping '%s' missing subject pattern", m.Name)
	}
	if len(m.Policies) == 0 {
		return fmt.Errorf("mapping '%s' grants no policies", m.Name)
	}
	if m.Expr != "" {
		program, err := expr.Compile(m.Expr, expr.AsBool())
		if err != nil {
			return fmt.Errorf("compiling expr for mapping '%s': %w", m.Name, err)
		}
		m.CompiledExpr = program
	}
	return nil
}

func (r *MappingRegistry) Put(ctx context.Context, m core.IdentityMapping) error {
	if err := validateMapping(&m); err != nil {
		return core.Wrap(core.KindInvalidRoleConfig, err, "invalid identity mapping")
	}

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding mapping '%s': %w", m.Name, err)
	}

	key := keyPrefix + m.Name
	for attempt := 0; attempt < casRetries; attempt++ {
		cas := uint64(0)
		if entry, err := r.store.Get(ctx, key); err == nil {
			cas = entry.Version
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading mapping '%s': %w", m.Name, err)
		}

		_, err := r.store.Put(ctx, key, value, cas)
		if errors.Is(err, store.ErrCASMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing mapping '%s': %w", m.Name, err)
		}
		return nil
	}
	return core.E(core.KindStoreConflict, "storing mapping '%s': retries exhausted", m.Name)
}

func (r *MappingRegistry) Delete(ctx context.Context, name string) error {
	err := r.store.Delete(ctx, keyPrefix+name, store.VersionAny)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Resolve returns every mapping that matches the principal.
// Expressions are re-compiled lazily after a round-trip through the store.
func (r *MappingRegistry) Resolve(ctx context.Context, principal *core.Principal) ([]core.IdentityMapping, error) {
	keys, err := r.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	var matched []core.IdentityMapping
	for _, key := range keys {
		entry, err := r.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted between list and get
		}
		if err != nil {
			return nil, err
		}

		var m core.IdentityMapping
		if err := json.Unmarshal(entry.Value, &m); err != nil {
			return nil, fmt.Errorf("decoding mapping '%s': %w", key, err)
		}
		if mappingMatches(&m, principal) {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

func mappingMatches(m *core.IdentityMapping, principal *core.Principal) bool {
	if m.Verifier != "" && m.Verifier != principal.Verifier {
		return false
	}
	if !subjectMatches(m.Subject, principal.ID) {
		return false
	}
	if m.Audience != "" && !audienceContains(principal.Claims["aud"], m.Audience) {
		return false
	}
	if m.Expr != "" {
		if m.CompiledExpr == nil {
			program, err := expr.Compile(m.Expr, expr.AsBool())
			if err != nil {
				log.Warn().Err(err).Str("mapping", m.Name).Msg("mapping expr no longer compiles, skipping")
				return false
			}
			m.CompiledExpr = program
		}
		out, err := expr.Run(m.CompiledExpr, map[string]any{
			"subject": principal.ID,
			"claims":  principal.Claims,
		})
		if err != nil {
			log.Warn().Err(err).Str("mapping", m.Name).Msg("error evaluating mapping expr")
			return false
		}
		ok, isBool := out.(bool)
		if !isBool || !ok {
			return false
		}
	}
	return true
}

func subjectMatches(pattern, subject string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == subject
}

// audienceContains handles the common 'aud' claim shapes: a single string
// or a list of strings.
func audienceContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []string:
		for _, a := range v {
			if a == want {
				return true
			}
		}
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
