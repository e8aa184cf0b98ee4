package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmelchers/arvon/internal/backend/stub"
	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/store"
)

var testRole = core.Role{
	Name:       "app",
	Backend:    "db",
	DefaultTTL: time.Hour,
	MaxTTL:     24 * time.Hour,
}

func newTestManager(t *testing.T) (*Manager, *stub.Backend, store.Store) {
	t.Helper()

	s := store.NewInMemoryStore()
	reg := roles.NewRegistry(s)
	if err := reg.Put(context.Background(), testRole); err != nil {
		t.Fatalf("seeding role: %v", err)
	}

	backend := stub.New("db")
	m := NewManager(s, reg, map[string]core.Backend{"db": backend}, Config{
		BackendTimeout:     time.Second,
		RevokeRetryCeiling: 5,
		RevokeBackoffBase:  time.Millisecond,
		RevokeBackoffCap:   4 * time.Millisecond,
	}, nil)
	return m, backend, s
}

func fixTime(m *Manager, at time.Time) {
	m.now = func() time.Time { return at }
}

func TestIssueClampsTTL(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero means default", 0, time.Hour},
		{"within bounds", 2 * time.Hour, 2 * time.Hour},
		{"above max is clamped, not rejected", 48 * time.Hour, 24 * time.Hour},
		{"below floor is raised", 100 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t)
			t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			fixTime(m, t0)

			lease, artifact, err := m.Issue(context.Background(), "app", tt.requested)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			if lease.TTL != tt.want {
				t.Errorf("TTL = %v, want %v", lease.TTL, tt.want)
			}
			if got := lease.ExpiresAt; !got.Equal(t0.Add(tt.want)) {
				t.Errorf("ExpiresAt = %v, want %v", got, t0.Add(tt.want))
			}
			if artifact.Credential.Username == "" || artifact.Credential.Password == "" {
				t.Error("expected a populated credential")
			}
		})
	}
}

func TestIssueUnknownRole(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, _, err := m.Issue(context.Background(), "nope", 0)
	if core.KindOf(err) != core.KindRoleNotFound {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindRoleNotFound)
	}
}

func TestIssueGenerateFailureLeavesNoLease(t *testing.T) {
	m, backend, s := newTestManager(t)
	backend.FailGenerate(errors.New("connection refused"))

	_, _, err := m.Issue(context.Background(), "app", 0)
	if core.KindOf(err) != core.KindBackendUnavailable {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindBackendUnavailable)
	}

	keys, err := s.List(context.Background(), keyPrefix)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no lease records, got %d", len(keys))
	}
}

// failingStore rejects writes under the lease prefix so the
// credential-cleanup path after a bookkeeping failure can be observed.
type failingStore struct {
	store.Store
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, cas uint64) (uint64, error) {
	if len(key) >= len(keyPrefix) && key[:len(keyPrefix)] == keyPrefix {
		return 0, errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value, cas)
}

func TestIssueRevokesCredentialWhenPersistFails(t *testing.T) {
	inner := store.NewInMemoryStore()
	reg := roles.NewRegistry(inner)
	if err := reg.Put(context.Background(), testRole); err != nil {
		t.Fatalf("seeding role: %v", err)
	}

	backend := stub.New("db")
	m := NewManager(&failingStore{Store: inner}, reg, map[string]core.Backend{"db": backend}, Config{}, nil)

	_, _, err := m.Issue(context.Background(), "app", 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if backend.GeneratedCount() != 1 {
		t.Fatalf("GeneratedCount = %d, want 1", backend.GeneratedCount())
	}
	if backend.ActiveCount() != 0 {
		t.Errorf("credential leaked: %d still active", backend.ActiveCount())
	}
}

func TestRenewExtendsFromNow(t *testing.T) {
	m, _, _ := newTestManager(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixTime(m, t0)

	lease, _, err := m.Issue(context.Background(), "app", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// 3500s in, ask for another 3600s: expiry moves to t0+7100s
	fixTime(m, t0.Add(3500*time.Second))
	renewed, err := m.Renew(context.Background(), lease.ID, 3600*time.Second)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if want := t0.Add(7100 * time.Second); !renewed.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", renewed.ExpiresAt, want)
	}
	if renewed.TTL != 3600*time.Second {
		t.Errorf("TTL = %v, want %v", renewed.TTL, 3600*time.Second)
	}
	if renewed.Renewals != 1 {
		t.Errorf("Renewals = %d, want 1", renewed.Renewals)
	}
}

func TestRenewClampedToMaxExpiry(t *testing.T) {
	m, _, _ := newTestManager(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixTime(m, t0)

	lease, _, err := m.Issue(context.Background(), "app", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// 30 minutes before the absolute ceiling
	fixTime(m, t0.Add(24*time.Hour-30*time.Minute))
	renewed, err := m.Renew(context.Background(), lease.ID, time.Hour)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if want := t0.Add(24 * time.Hour); !renewed.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want ceiling %v", renewed.ExpiresAt, want)
	}

	// at the ceiling a further renewal is a no-op, not an error
	again, err := m.Renew(context.Background(), lease.ID, time.Hour)
	if err != nil {
		t.Fatalf("Renew at ceiling: %v", err)
	}
	if !again.ExpiresAt.Equal(renewed.ExpiresAt) {
		t.Errorf("ExpiresAt moved past ceiling: %v", again.ExpiresAt)
	}
	if again.Renewals != renewed.Renewals {
		t.Errorf("Renewals = %d, want unchanged %d", again.Renewals, renewed.Renewals)
	}
}

func TestRenewNeverShortens(t *testing.T) {
	m, _, _ := newTestManager(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixTime(m, t0)

	lease, _, err := m.Issue(context.Background(), "app", 4*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	fixTime(m, t0.Add(time.Minute))
	renewed, err := m.Renew(context.Background(), lease.ID, time.Second)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.ExpiresAt.Before(lease.ExpiresAt) {
		t.Errorf("renewal shortened the lease: %v < %v", renewed.ExpiresAt, lease.ExpiresAt)
	}
}

func TestRenewUnknownLease(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Renew(context.Background(), "missing", time.Hour)
	if core.KindOf(err) != core.KindLeaseNotFound {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindLeaseNotFound)
	}
}

func TestRevokeDestroysCredentialThenRecord(t *testing.T) {
	m, backend, _ := newTestManager(t)

	lease, _, err := m.Issue(context.Background(), "app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := m.Revoke(context.Background(), lease.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := backend.RevokeCount(lease.RevocationRef); got != 1 {
		t.Errorf("RevokeCount = %d, want 1", got)
	}
	if _, err := m.Get(context.Background(), lease.ID); core.KindOf(err) != core.KindLeaseNotFound {
		t.Errorf("record still readable after revoke: %v", err)
	}

	// second revoke of the same lease
	if err := m.Revoke(context.Background(), lease.ID); core.KindOf(err) != core.KindLeaseNotFound {
		t.Errorf("kind = %v, want %v", core.KindOf(err), core.KindLeaseNotFound)
	}
}

func TestRevokeKeepsRecordOnBackendFailure(t *testing.T) {
	m, backend, _ := newTestManager(t)

	lease, _, err := m.Issue(context.Background(), "app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	backend.FailRevokeTimes(1)
	if err := m.Revoke(context.Background(), lease.ID); err == nil {
		t.Fatal("expected revoke to fail")
	}
	if _, err := m.Get(context.Background(), lease.ID); err != nil {
		t.Fatalf("record must survive a failed revoke: %v", err)
	}

	if err := m.Revoke(context.Background(), lease.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRevokableAfterRoleDeleted(t *testing.T) {
	m, backend, s := newTestManager(t)

	lease, _, err := m.Issue(context.Background(), "app", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := roles.NewRegistry(s).Delete(context.Background(), "app"); err != nil {
		t.Fatalf("deleting role: %v", err)
	}
	if err := m.Revoke(context.Background(), lease.ID); err != nil {
		t.Fatalf("Revoke after role deletion: %v", err)
	}
	if got := backend.RevokeCount(lease.RevocationRef); got != 1 {
		t.Errorf("RevokeCount = %d, want 1", got)
	}
}

func TestConcurrentIssueYieldsDistinctLeases(t *testing.T) {
	m, backend, _ := newTestManager(t)

	const n = 16
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, _, err := m.Issue(context.Background(), "app", 0)
			if err != nil {
				t.Errorf("Issue: %v", err)
				return
			}
			ids <- lease.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate lease id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d leases, want %d", len(seen), n)
	}
	if backend.GeneratedCount() != n {
		t.Errorf("GeneratedCount = %d, want %d", backend.GeneratedCount(), n)
	}

	leases, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leases) != n {
		t.Errorf("List = %d records, want %d", len(leases), n)
	}
}
