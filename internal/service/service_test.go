package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmelchers/arvon/internal/audit"
	"github.com/jmelchers/arvon/internal/backend/stub"
	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/identity"
	"github.com/jmelchers/arvon/internal/lease"
	"github.com/jmelchers/arvon/internal/policy"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/store"
)

type fixture struct {
	svc     *BrokerService
	backend *stub.Backend
	auditor *audit.InMemoryAuditor
	barrier *store.Barrier
}

// newFixture wires a full broker against in-memory everything: a static
// verifier with two known assertions, a reader identity limited to the
// readonly role and an admin identity with the sys tree.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	barrier := store.NewBarrier(store.NewInMemoryStore())
	if err := barrier.Unseal(ctx, []byte("test-master-key")); err != nil {
		t.Fatalf("unseal: %v", err)
	}

	verifier, err := identity.NewStaticVerifier("static", map[string]any{
		"assertions": map[string]map[string]any{
			"reader-assertion": {"sub": "repo:app/ci"},
			"admin-assertion":  {"sub": "ops:admin"},
		},
	})
	if err != nil {
		t.Fatalf("static verifier: %v", err)
	}

	mappings := identity.NewMappingRegistry(barrier)
	for _, m := range []core.IdentityMapping{
		{Name: "ci", Subject: "repo:app/*", Verifier: "static", Policies: []string{"app"}},
		{Name: "ops", Subject: "ops:admin", Verifier: "static", Policies: []string{"admin"}},
	} {
		if err := mappings.Put(ctx, m); err != nil {
			t.Fatalf("seeding mapping %s: %v", m.Name, err)
		}
	}

	policyReg := policy.NewRegistry(barrier)
	for _, p := range []core.Policy{
		{Name: "app", Rules: []core.PathRule{
			{Path: "creds/readonly", Capabilities: []core.Capability{core.CapCreate, core.CapRead, core.CapUpdate, core.CapDelete}},
		}},
		{Name: "admin", Rules: []core.PathRule{
			{Path: "creds/*", Capabilities: []core.Capability{core.CapCreate, core.CapRead, core.CapUpdate, core.CapDelete}},
			{Path: "sys/*", Capabilities: []core.Capability{core.CapCreate, core.CapRead, core.CapUpdate, core.CapDelete, core.CapList}},
		}},
	} {
		if err := policyReg.Put(ctx, p); err != nil {
			t.Fatalf("seeding policy %s: %v", p.Name, err)
		}
	}

	roleReg := roles.NewRegistry(barrier)
	for _, r := range []core.Role{
		{Name: "readonly", Backend: "db", DefaultTTL: time.Hour, MaxTTL: 24 * time.Hour},
		{Name: "writer", Backend: "db", DefaultTTL: time.Hour, MaxTTL: 24 * time.Hour},
	} {
		if err := roleReg.Put(ctx, r); err != nil {
			t.Fatalf("seeding role %s: %v", r.Name, err)
		}
	}

	backend := stub.New("db")
	leaseMgr := lease.NewManager(barrier, roleReg, map[string]core.Backend{"db": backend}, lease.Config{}, nil)
	broker := identity.NewBroker(identity.NewRegistry(verifier), mappings, []byte("0123456789abcdef"), time.Hour)
	auditor := audit.NewInMemoryAuditor()

	return &fixture{
		svc:     NewBrokerService(broker, leaseMgr, roleReg, policyReg, mappings, barrier, auditor),
		backend: backend,
		auditor: auditor,
		barrier: barrier,
	}
}

func (f *fixture) login(t *testing.T, assertion string) string {
	t.Helper()
	result, err := f.svc.Authenticate(context.Background(), assertion, "static")
	if err != nil {
		t.Fatalf("login with %q: %v", assertion, err)
	}
	return result.Token
}

func TestAuthenticateUnknownAssertion(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate(context.Background(), "forged", "static")
	if core.KindOf(err) != core.KindIdentityInvalid {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindIdentityInvalid)
	}

	entries, _ := f.auditor.GetRecent(10)
	if len(entries) != 1 || entries[0].Granted {
		t.Error("expected a denied auth.login audit entry")
	}
}

func TestIssueWithinPolicy(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "reader-assertion")

	leaseRec, artifact, err := f.svc.IssueLease(context.Background(), token, "readonly", 0)
	if err != nil {
		t.Fatalf("IssueLease: %v", err)
	}
	if artifact.Credential.Password == "" {
		t.Error("expected a credential")
	}
	if leaseRec.Role != "readonly" {
		t.Errorf("Role = %q, want readonly", leaseRec.Role)
	}

	entries, _ := f.auditor.GetRecent(10)
	last := entries[len(entries)-1]
	if last.Action != "lease.issue" || !last.Granted {
		t.Errorf("audit entry = %+v, want granted lease.issue", last)
	}
	if last.CredentialFingerprint == "" {
		t.Error("audit entry should carry the credential fingerprint")
	}
	if last.CredentialFingerprint == artifact.Credential.Password {
		t.Error("audit entry must not carry the secret itself")
	}
}

func TestIssueOutsidePolicyDenied(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "reader-assertion")

	_, _, err := f.svc.IssueLease(context.Background(), token, "writer", 0)
	if core.KindOf(err) != core.KindUnauthorized {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindUnauthorized)
	}
	if f.backend.GeneratedCount() != 0 {
		t.Error("no credential may be generated for a denied request")
	}

	entries, _ := f.auditor.GetRecent(10)
	last := entries[len(entries)-1]
	if last.Granted || last.Action != "lease.issue" {
		t.Errorf("audit entry = %+v, want denied lease.issue", last)
	}
}

func TestIssueWithoutToken(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.IssueLease(context.Background(), "", "readonly", 0)
	if core.KindOf(err) != core.KindUnauthorized {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindUnauthorized)
	}

	_, _, err = f.svc.IssueLease(context.Background(), "garbage.token.here", "readonly", 0)
	if core.KindOf(err) != core.KindIdentityInvalid {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindIdentityInvalid)
	}
}

func TestLeaseLifecycleThroughService(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "reader-assertion")
	ctx := context.Background()

	leaseRec, _, err := f.svc.IssueLease(ctx, token, "readonly", time.Hour)
	if err != nil {
		t.Fatalf("IssueLease: %v", err)
	}

	renewed, err := f.svc.RenewLease(ctx, token, leaseRec.ID, 2*time.Hour)
	if err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if !renewed.ExpiresAt.After(leaseRec.ExpiresAt) {
		t.Error("renewal did not extend the lease")
	}

	looked, err := f.svc.LookupLease(ctx, token, leaseRec.ID)
	if err != nil {
		t.Fatalf("LookupLease: %v", err)
	}
	if looked.ID != leaseRec.ID {
		t.Errorf("LookupLease returned %q", looked.ID)
	}

	if err := f.svc.RevokeLease(ctx, token, leaseRec.ID); err != nil {
		t.Fatalf("RevokeLease: %v", err)
	}
	if _, err := f.svc.LookupLease(ctx, token, leaseRec.ID); core.KindOf(err) != core.KindLeaseNotFound {
		t.Errorf("kind = %v, want %v", core.KindOf(err), core.KindLeaseNotFound)
	}
}

// A bad token must fail identically whether or not the lease exists;
// otherwise the error kind leaks which lease ids are live.
func TestLeaseOpsBadTokenNoExistenceOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.login(t, "reader-assertion")

	leaseRec, _, err := f.svc.IssueLease(ctx, token, "readonly", time.Hour)
	if err != nil {
		t.Fatalf("IssueLease: %v", err)
	}

	for _, id := range []string{leaseRec.ID, "no-such-lease"} {
		if _, err := f.svc.RenewLease(ctx, "garbage.token.here", id, 0); core.KindOf(err) != core.KindIdentityInvalid {
			t.Errorf("RenewLease(%q) kind = %v, want %v", id, core.KindOf(err), core.KindIdentityInvalid)
		}
		if err := f.svc.RevokeLease(ctx, "garbage.token.here", id); core.KindOf(err) != core.KindIdentityInvalid {
			t.Errorf("RevokeLease(%q) kind = %v, want %v", id, core.KindOf(err), core.KindIdentityInvalid)
		}
		if _, err := f.svc.LookupLease(ctx, "garbage.token.here", id); core.KindOf(err) != core.KindIdentityInvalid {
			t.Errorf("LookupLease(%q) kind = %v, want %v", id, core.KindOf(err), core.KindIdentityInvalid)
		}
	}

	if f.backend.ActiveCount() != 1 {
		t.Error("no revocation may run for an unauthenticated request")
	}
}

func TestSysTreeRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reader := f.login(t, "reader-assertion")
	admin := f.login(t, "admin-assertion")

	newRole := core.Role{Name: "analytics", Backend: "db", DefaultTTL: time.Minute, MaxTTL: time.Hour}

	if err := f.svc.PutRole(ctx, reader, newRole); core.KindOf(err) != core.KindUnauthorized {
		t.Fatalf("reader PutRole kind = %v, want %v", core.KindOf(err), core.KindUnauthorized)
	}
	if err := f.svc.PutRole(ctx, admin, newRole); err != nil {
		t.Fatalf("admin PutRole: %v", err)
	}

	names, err := f.svc.ListRoles(ctx, admin)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	found := false
	for _, n := range names {
		found = found || n == "analytics"
	}
	if !found {
		t.Errorf("ListRoles = %v, want analytics included", names)
	}

	if _, err := f.svc.ListLeases(ctx, reader); core.KindOf(err) != core.KindUnauthorized {
		t.Errorf("reader ListLeases kind = %v, want %v", core.KindOf(err), core.KindUnauthorized)
	}
	if _, err := f.svc.ListLeases(ctx, admin); err != nil {
		t.Errorf("admin ListLeases: %v", err)
	}

	if _, err := f.svc.RecentAudit(ctx, reader, 10); core.KindOf(err) != core.KindUnauthorized {
		t.Errorf("reader RecentAudit kind = %v, want %v", core.KindOf(err), core.KindUnauthorized)
	}
	if _, err := f.svc.RecentAudit(ctx, admin, 10); err != nil {
		t.Errorf("admin RecentAudit: %v", err)
	}
}

func TestSealedBrokerRejectsEverything(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "reader-assertion")

	f.barrier.Seal()

	if _, err := f.svc.Authenticate(context.Background(), "reader-assertion", "static"); core.KindOf(err) != core.KindSealed {
		t.Errorf("Authenticate kind = %v, want %v", core.KindOf(err), core.KindSealed)
	}
	if _, _, err := f.svc.IssueLease(context.Background(), token, "readonly", 0); core.KindOf(err) != core.KindSealed {
		t.Errorf("IssueLease kind = %v, want %v", core.KindOf(err), core.KindSealed)
	}
	if !f.svc.Sealed() {
		t.Error("Sealed() = false, want true")
	}
}

func TestUnsealWithWrongKey(t *testing.T) {
	f := newFixture(t)
	f.barrier.Seal()

	// 'deadbeef' decodes fine but is not the barrier's master key
	if err := f.svc.Unseal(context.Background(), "deadbeef"); core.KindOf(err) != core.KindSealed {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindSealed)
	}
	if !f.svc.Sealed() {
		t.Error("barrier must stay sealed after a failed unseal")
	}

	if err := f.svc.Unseal(context.Background(), "not-hex!"); core.KindOf(err) != core.KindSealed {
		t.Fatalf("kind = %v, want %v", core.KindOf(err), core.KindSealed)
	}
}
