// Package stub provides an in-memory credential backend for development
// and tests. Generated credentials exist only inside the process; revoke
// calls are recorded so tests can assert on them.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/audit"
	"github.com/jmelchers/arvon/internal/backend/creds"
	"github.com/jmelchers/arvon/internal/core"
)

const Type = "stub"

var info = core.BackendInfo{
	Type:    Type,
	Version: "v1",
}

var _ core.Backend = (*Backend)(nil)

type Backend struct {
	name string

	mu         sync.Mutex
	active     map[string]core.Credential // revocation ref -> credential
	revoked    map[string]int             // revocation ref -> revoke calls
	generated  int
	failGen    error
	failRevoke int // fail this many Revoke calls, then succeed
}

func New(name string) *Backend {
	return &Backend{
		name:    name,
		active:  make(map[string]core.Credential),
		revoked: make(map[string]int),
	}
}

func (s *Backend) Name() string { return s.name }
func (s *Backend) Type() string { return Type }

// FailGenerate makes subsequent Generate calls fail with err.
func (s *Backend) FailGenerate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGen = err
}

// FailRevokeTimes makes the next n Revoke calls fail before succeeding.
func (s *Backend) FailRevokeTimes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRevoke = n
}

func (s *Backend) Generate(ctx context.Context, role core.Role, ttl time.Duration) (*core.CredentialArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failGen != nil {
		return nil, core.Wrap(core.KindBackendUnavailable, s.failGen, "stub generate failure")
	}

	s.generated++
	username, err := creds.Username(role.Name)
	if err != nil {
		return nil, fmt.Errorf("generating username: %w", err)
	}
	password, err := creds.Password()
	if err != nil {
		return nil, fmt.Errorf("generating password: %w", err)
	}

	credential := core.Credential{Username: username, Password: password}
	s.active[username] = credential

	log.Ctx(ctx).Debug().
		Str("backend", s.name).
		Str("role", role.Name).
		Msg("stub backend generated credential")

	artifact := &core.CredentialArtifact{
		Credential:  credential,
		Fingerprint: audit.Fingerprint(password),
		ExpiresAt:   time.Now().Add(ttl),
		Backend:     info,
	}
	artifact.SetRevocationRef(username)
	return artifact, nil
}

// Revoke destroys the credential. Revoking an unknown or already-revoked
// reference succeeds, matching the backend contract.
func (s *Backend) Revoke(_ context.Context, revocationRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRevoke > 0 {
		s.failRevoke--
		return core.E(core.KindBackendUnavailable, "stub revoke failure")
	}

	delete(s.active, revocationRef)
	s.revoked[revocationRef]++
	return nil
}

// RevokeCount reports how many times the reference was successfully revoked.
func (s *Backend) RevokeCount(revocationRef string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[revocationRef]
}

// ActiveCount reports how many credentials are currently live.
func (s *Backend) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// GeneratedCount reports the total number of Generate calls that succeeded.
func (s *Backend) GeneratedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generated
}
