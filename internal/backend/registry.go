// Package backend builds credential backend instances from configuration.
package backend

import (
	"fmt"

	"github.com/jmelchers/arvon/internal/backend/postgres"
	"github.com/jmelchers/arvon/internal/backend/stub"
	"github.com/jmelchers/arvon/internal/config"
	"github.com/jmelchers/arvon/internal/core"
)

func BuildRegistry(cfgs []config.BackendConfig) (map[string]core.Backend, error) {
	registry := make(map[string]core.Backend)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case stub.Type:
			registry[cfg.Name] = stub.New(cfg.Name)
		case postgres.Type:
			b, err := postgres.NewFromConfig(cfg.Name, cfg.Config)
			if err != nil {
				return nil, fmt.Errorf("building postgres backend %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = b
		default:
			return nil, fmt.Errorf("unknown backend type %q for backend %q", cfg.Type, cfg.Name)
		}
	}
	return registry, nil
}
