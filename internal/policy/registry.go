package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/store"
)

const keyPrefix = "policies/"

// casRetries bounds internal compare-and-swap retry loops. A conflict is
// only surfaced when the loop exhausts.
const casRetries = 8

// Registry persists named policies in the store. Writes replace the
// policy atomically through the store's compare-and-swap contract.
type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

func (r *Registry) Get(ctx context.Context, name string) (*core.Policy, error) {
	entry, err := r.store.Get(ctx, keyPrefix+name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.E(core.KindUnauthorized, "permission denied")
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy '%s': %w", name, err)
	}

	var p core.Policy
	if err := json.Unmarshal(entry.Value, &p); err != nil {
		return nil, fmt.Errorf("decoding policy '%s': %w", name, err)
	}
	return &p, nil
}

func (r *Registry) Put(ctx context.Context, p core.Policy) error {
	if err := p.Validate(); err != nil {
		return core.Wrap(core.KindInvalidRoleConfig, err, "invalid policy")
	}

	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding policy '%s': %w", p.Name, err)
	}

	key := keyPrefix + p.Name
	for attempt := 0; attempt < casRetries; attempt++ {
		cas := uint64(0)
		if entry, err := r.store.Get(ctx, key); err == nil {
			cas = entry.Version
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading policy '%s': %w", p.Name, err)
		}

		_, err := r.store.Put(ctx, key, value, cas)
		if errors.Is(err, store.ErrCASMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing policy '%s': %w", p.Name, err)
		}
		return nil
	}
	return core.E(core.KindStoreConflict, "storing policy '%s': retries exhausted", p.Name)
}

func (r *Registry) Delete(ctx context.Context, name string) error {
	err := r.store.Delete(ctx, keyPrefix+name, store.VersionAny)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (r *Registry) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, keyPrefix))
	}
	return names, nil
}

// Load resolves a set of policy names into policies, skipping nothing:
// an unknown name is an authorization failure, not a lookup miss, so the
// caller cannot probe for policy existence.
func (r *Registry) Load(ctx context.Context, names []string) ([]core.Policy, error) {
	policies := make([]core.Policy, 0, len(names))
	for _, name := range names {
		p, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, nil
}
