package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/store"
)

var signingKey = []byte("test-signing-key")

func newTestBroker(t *testing.T, mappings ...core.IdentityMapping) *Broker {
	t.Helper()

	verifier, err := NewStaticVerifier("dev", map[string]any{
		"assertions": map[string]map[string]any{
			"alice-token": {"sub": "alice@example.com", "team": "data", "aud": "arvon"},
			"bob-token":   {"sub": "bob@example.com", "team": "infra"},
		},
	})
	if err != nil {
		t.Fatalf("NewStaticVerifier() error = %v", err)
	}

	reg := NewMappingRegistry(store.NewInMemoryStore())
	for _, m := range mappings {
		if err := reg.Put(context.Background(), m); err != nil {
			t.Fatalf("Put(%s) error = %v", m.Name, err)
		}
	}

	return NewBroker(NewRegistry(verifier), reg, signingKey, time.Hour)
}

func TestBroker_Authenticate(t *testing.T) {
	b := newTestBroker(t,
		core.IdentityMapping{
			Name:     "data-team",
			Subject:  "*",
			Verifier: "dev",
			Expr:     `claims.team == "data"`,
			Policies: []string{"db-reader"},
		},
		core.IdentityMapping{
			Name:          "alice",
			Subject:       "alice@example.com",
			Policies:      []string{"db-admin"},
			MaxSessionTTL: 30 * time.Minute,
		},
	)

	result, err := b.Authenticate(context.Background(), "alice-token", "dev")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	// both mappings match: policies union, tightest TTL cap wins
	if diff := cmp.Diff([]string{"db-admin", "db-reader"}, result.Policies); diff != "" {
		t.Fatalf("policies mismatch (-want +got):\n%s", diff)
	}
	if ttl := time.Until(result.ExpiresAt); ttl > 31*time.Minute {
		t.Fatalf("session TTL = %v, want capped at 30m", ttl)
	}

	session, err := b.ParseSession(result.Token)
	if err != nil {
		t.Fatalf("ParseSession() error = %v", err)
	}
	if session.Subject != "alice@example.com" {
		t.Fatalf("session subject = %q", session.Subject)
	}
	if diff := cmp.Diff(result.Policies, session.Policies); diff != "" {
		t.Fatalf("session policies mismatch (-want +got):\n%s", diff)
	}
}

func TestBroker_AuthenticateFailures(t *testing.T) {
	b := newTestBroker(t, core.IdentityMapping{
		Name:     "data-only",
		Subject:  "*",
		Expr:     `claims.team == "data"`,
		Policies: []string{"db-reader"},
	})

	tests := []struct {
		name      string
		assertion string
		wantKind  core.Kind
	}{
		{"unknown assertion", "not-a-token", core.KindIdentityInvalid},
		{"verified but unmapped", "bob-token", core.KindIdentityUnmapped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Authenticate(context.Background(), tt.assertion, "dev")
			if err == nil {
				t.Fatal("Authenticate() succeeded")
			}
			if kind := core.KindOf(err); kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", kind, tt.wantKind)
			}
		})
	}
}

func TestBroker_AudienceConstraint(t *testing.T) {
	b := newTestBroker(t, core.IdentityMapping{
		Name:     "aud-bound",
		Subject:  "*",
		Audience: "arvon",
		Policies: []string{"db-reader"},
	})

	if _, err := b.Authenticate(context.Background(), "alice-token", "dev"); err != nil {
		t.Fatalf("Authenticate() with matching audience error = %v", err)
	}

	// bob's claims carry no matching audience
	_, err := b.Authenticate(context.Background(), "bob-token", "dev")
	if core.KindOf(err) != core.KindIdentityUnmapped {
		t.Fatalf("kind = %v, want identity_unmapped", core.KindOf(err))
	}
}

func TestBroker_SessionExpiry(t *testing.T) {
	b := newTestBroker(t, core.IdentityMapping{
		Name:     "all",
		Subject:  "*",
		Policies: []string{"db-reader"},
	})

	result, err := b.Authenticate(context.Background(), "alice-token", "dev")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	// move the broker clock past the session expiry
	b.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = b.ParseSession(result.Token)
	if core.KindOf(err) != core.KindIdentityExpired {
		t.Fatalf("kind = %v, want identity_expired", core.KindOf(err))
	}
}

func TestBroker_TamperedSession(t *testing.T) {
	b := newTestBroker(t, core.IdentityMapping{
		Name:     "all",
		Subject:  "*",
		Policies: []string{"db-reader"},
	})

	result, err := b.Authenticate(context.Background(), "alice-token", "dev")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	other := NewBroker(b.verifiers, b.mappings, []byte("different-key"), time.Hour)
	if _, err := other.ParseSession(result.Token); core.KindOf(err) != core.KindIdentityInvalid {
		t.Fatalf("kind = %v, want identity_invalid", core.KindOf(err))
	}
}
