package roles

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/store"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(store.NewInMemoryStore())
}

func TestRegistry_PutGet(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	role := core.Role{
		Name:       "readonly",
		Backend:    "pg-main",
		Template:   `CREATE ROLE "{{name}}" WITH LOGIN PASSWORD '{{password}}'`,
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
	}
	if err := r.Put(ctx, role); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := r.Get(ctx, "readonly")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(role, *got); diff != "" {
		t.Fatalf("role mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_Validation(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	tests := []struct {
		name string
		role core.Role
	}{
		{"missing backend", core.Role{Name: "r", DefaultTTL: time.Hour, MaxTTL: time.Hour}},
		{"zero max ttl", core.Role{Name: "r", Backend: "pg", DefaultTTL: time.Hour}},
		{"default exceeds max", core.Role{Name: "r", Backend: "pg", DefaultTTL: 2 * time.Hour, MaxTTL: time.Hour}},
		{"zero default ttl", core.Role{Name: "r", Backend: "pg", MaxTTL: time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Put(ctx, tt.role)
			if err == nil {
				t.Fatal("Put() accepted invalid role")
			}
			if kind := core.KindOf(err); kind != core.KindInvalidRoleConfig {
				t.Fatalf("Put() kind = %s, want %s", kind, core.KindInvalidRoleConfig)
			}
		})
	}
}

func TestRegistry_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	role := core.Role{Name: "r1", Backend: "pg", DefaultTTL: time.Hour, MaxTTL: 2 * time.Hour}
	if err := r.Put(ctx, role); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	role.DefaultTTL = 30 * time.Minute
	if err := r.Put(ctx, role); err != nil {
		t.Fatalf("replace Put() error = %v", err)
	}
	got, err := r.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DefaultTTL != 30*time.Minute {
		t.Fatalf("DefaultTTL = %v after replace, want 30m", got.DefaultTTL)
	}

	if err := r.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(ctx, "r1"); core.KindOf(err) != core.KindRoleNotFound {
		t.Fatalf("Get() after delete kind = %v, want role_not_found", core.KindOf(err))
	}

	// deleting an absent role is not an error
	if err := r.Delete(ctx, "r1"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}
