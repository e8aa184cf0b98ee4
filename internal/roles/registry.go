// Package roles persists named role configurations. A role maps a name to
// a credential backend, connection parameters and TTL bounds.
package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/store"
)

const keyPrefix = "roles/"

const casRetries = 8

type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

func (r *Registry) Get(ctx context.Context, name string) (*core.Role, error) {
	entry, err := r.store.Get(ctx, keyPrefix+name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.E(core.KindRoleNotFound, "role '%s' not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading role '%s': %w", name, err)
	}

	var role core.Role
	if err := json.Unmarshal(entry.Value, &role); err != nil {
		return nil, fmt.Errorf("decoding role '%s': %w", name, err)
	}
	return &role, nil
}

// Put validates and stores the role. Replacement is atomic and does not
// affect leases already issued under the previous configuration; those
// carry their own snapshot.
func (r *Registry) Put(ctx context.Context, role core.Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("encoding role '%s': %w", role.Name, err)
	}

	key := keyPrefix + role.Name
	for attempt := 0; attempt < casRetries; attempt++ {
		cas := uint64(0)
		if entry, err := r.store.Get(ctx, key); err == nil {
			cas = entry.Version
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reading role '%s': %w", role.Name, err)
		}

		_, err := r.store.Put(ctx, key, value, cas)
		if errors.Is(err, store.ErrCASMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("writing role '%s': %w", role.Name, err)
		}
		return nil
	}
	return core.E(core.KindStoreConflict, "storing role '%s': retries exhausted", role.Name)
}

// Delete removes the role. Existing leases remain revocable through their
// snapshots; only new issuance is affected.
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
