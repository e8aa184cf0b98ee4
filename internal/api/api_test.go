package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmelchers/arvon/internal/audit"
	"github.com/jmelchers/arvon/internal/backend/stub"
	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/identity"
	"github.com/jmelchers/arvon/internal/lease"
	"github.com/jmelchers/arvon/internal/policy"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/service"
	"github.com/jmelchers/arvon/internal/store"
	"github.com/jmelchers/arvon/internal/tasks"
)

// newTestServer wires the full broker with a static verifier and a stub
// backend and serves it over httptest.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	barrier := store.NewBarrier(store.NewInMemoryStore())
	if err := barrier.Unseal(ctx, []byte("test-master-key")); err != nil {
		t.Fatalf("unseal: %v", err)
	}

	verifier, err := identity.NewStaticVerifier("static", map[string]any{
		"assertions": map[string]map[string]any{
			"ci-assertion": {"sub": "repo:app/ci"},
		},
	})
	if err != nil {
		t.Fatalf("static verifier: %v", err)
	}

	mappings := identity.NewMappingRegistry(barrier)
	if err := mappings.Put(ctx, core.IdentityMapping{
		Name: "ci", Subject: "repo:app/*", Verifier: "static", Policies: []string{"app"},
	}); err != nil {
		t.Fatalf("seeding mapping: %v", err)
	}

	policyReg := policy.NewRegistry(barrier)
	if err := policyReg.Put(ctx, core.Policy{
		Name: "app",
		Rules: []core.PathRule{
			{Path: "creds/readonly", Capabilities: []core.Capability{core.CapCreate, core.CapRead, core.CapUpdate, core.CapDelete}},
		},
	}); err != nil {
		t.Fatalf("seeding policy: %v", err)
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
	svc := service.NewBrokerService(broker, leaseMgr, roleReg, policyReg, mappings, barrier, audit.NewInMemoryAuditor())

	taskManager := tasks.NewManager()
	t.Cleanup(taskManager.Close)

	srv := httptest.NewServer(NewServer(svc, taskManager).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, route, token string, payload, dest any) int {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+route, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", route, err)
	}
	defer resp.Body.Close()

	if dest != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			t.Fatalf("decoding response from %s: %v", route, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, srv *httptest.Server, route, token string, dest any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+route, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", route, err)
	}
	defer resp.Body.Close()

	if dest != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			t.Fatalf("decoding response from %s: %v", route, err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	var result struct {
		Token string `json:"token"`
	}
	status := postJSON(t, srv, LoginRoute, "", LoginPayload{Assertion: "ci-assertion", Verifier: "static"}, &result)
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	if result.Token == "" {
		t.Fatal("login returned no token")
	}
	return result.Token
}

func TestHealthAndSealStatus(t *testing.T) {
	srv := newTestServer(t)

	if status := getJSON(t, srv, HealthCheckRoute, "", nil); status != http.StatusOK {
		t.Errorf("healthz status = %d", status)
	}

	var seal SealStatusResponse
	if status := getJSON(t, srv, SealStatusRoute, "", &seal); status != http.StatusOK {
		t.Fatalf("seal status = %d", status)
	}
	if seal.Sealed {
		t.Error("expected unsealed broker")
	}
}

func TestLoginRejectsUnknownAssertion(t *testing.T) {
	srv := newTestServer(t)

	status := postJSON(t, srv, LoginRoute, "", LoginPayload{Assertion: "forged", Verifier: "static"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	var issued IssueLeaseResponse
	status := postJSON(t, srv, IssueLeaseRoute, token, IssueLeasePayload{Role: "readonly", TTL: "1h"}, &issued)
	if status != http.StatusCreated {
		t.Fatalf("issue status = %d", status)
	}
	if issued.Credential.Username == "" || issued.Credential.Password == "" {
		t.Fatal("issue returned no credential")
	}
	if issued.LeaseID == "" {
		t.Fatal("issue returned no lease id")
	}

	var looked LeaseResponse
	if status := getJSON(t, srv, "/v1/lease/"+issued.LeaseID, token, &looked); status != http.StatusOK {
		t.Fatalf("lookup status = %d", status)
	}
	// lookup must never return the credential again
	if looked.LeaseID != issued.LeaseID {
		t.Errorf("lookup returned lease %q", looked.LeaseID)
	}

	var renewed LeaseResponse
	if status := postJSON(t, srv, RenewLeaseRoute, token, RenewLeasePayload{LeaseID: issued.LeaseID, TTL: "2h"}, &renewed); status != http.StatusOK {
		t.Fatalf("renew status = %d", status)
	}
	if !renewed.ExpiresAt.After(issued.ExpiresAt) {
		t.Error("renewal did not extend the lease")
	}

	if status := postJSON(t, srv, RevokeLeaseRoute, token, RevokeLeasePayload{LeaseID: issued.LeaseID}, nil); status != http.StatusOK {
		t.Fatalf("revoke status = %d", status)
	}
	if status := getJSON(t, srv, "/v1/lease/"+issued.LeaseID, token, nil); status != http.StatusNotFound {
		t.Fatalf("lookup after revoke status = %d, want %d", status, http.StatusNotFound)
	}
}

func TestIssueDeniedOutsidePolicy(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	status := postJSON(t, srv, IssueLeaseRoute, token, IssueLeasePayload{Role: "writer"}, nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", status, http.StatusForbidden)
	}
}

func TestIssueWithoutToken(t *testing.T) {
	srv := newTestServer(t)

	status := postJSON(t, srv, IssueLeaseRoute, "", IssueLeasePayload{Role: "readonly"}, nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", status, http.StatusForbidden)
	}
}

func TestSysTreeDeniedForAppPolicy(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	status := getJSON(t, srv, ListLeasesRoute, token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("list leases status = %d, want %d", status, http.StatusForbidden)
	}
}

func TestCorrelationIDPropagates(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+SealStatusRoute, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Correlation-ID", "test-corr-1")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Correlation-ID"); got != "test-corr-1" {
		t.Errorf("X-Correlation-ID = %q, want test-corr-1", got)
	}
}

func TestUnsealOverHTTP(t *testing.T) {
	ctx := context.Background()

	barrier := store.NewBarrier(store.NewInMemoryStore())
	if err := barrier.Unseal(ctx, []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("priming barrier: %v", err)
	}
	barrier.Seal()

	roleReg := roles.NewRegistry(barrier)
	policyReg := policy.NewRegistry(barrier)
	mappings := identity.NewMappingRegistry(barrier)
	broker := identity.NewBroker(identity.NewRegistry(), mappings, []byte("0123456789abcdef"), time.Hour)
	leaseMgr := lease.NewManager(barrier, roleReg, nil, lease.Config{}, nil)
	svc := service.NewBrokerService(broker, leaseMgr, roleReg, policyReg, mappings, barrier, audit.NewNoopAuditor())

	taskManager := tasks.NewManager()
	defer taskManager.Close()
	srv := httptest.NewServer(NewServer(svc, taskManager).Routes())
	defer srv.Close()

	var seal SealStatusResponse
	getJSON(t, srv, SealStatusRoute, "", &seal)
	if !seal.Sealed {
		t.Fatal("expected sealed broker")
	}

	if status := postJSON(t, srv, UnsealRoute, "", UnsealPayload{MasterKey: "badbad"}, nil); status != http.StatusForbidden {
		t.Fatalf("wrong-key unseal status = %d, want %d", status, http.StatusForbidden)
	}

	if status := postJSON(t, srv, UnsealRoute, "", UnsealPayload{MasterKey: "deadbeef"}, nil); status != http.StatusOK {
		t.Fatalf("unseal status = %d", status)
	}

	getJSON(t, srv, SealStatusRoute, "", &seal)
	if seal.Sealed {
		t.Error("broker still sealed after unseal")
	}
}
