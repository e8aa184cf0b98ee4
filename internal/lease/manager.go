// Package lease orchestrates credential issuance and tracks every issued
// credential as a lease until it is renewed, revoked or expires.
//
// Correctness leans entirely on the store's compare-and-swap contract:
// no in-process lock is held across a backend call, and a lease record is
// never deleted before backend-side revocation is confirmed. Losing the
// record while the credential is still live is the worst failure mode and
// is structurally prevented by the delete-after-revoke ordering.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/metrics"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/store"
)

const keyPrefix = "leases/"

const casRetries = 8

// minTTL is the lower clamp bound for requested TTLs.
const minTTL = time.Second

// Config tunes backend call deadlines and sweep revocation retries.
type Config struct {
	BackendTimeout     time.Duration
	RevokeRetryCeiling int
	RevokeBackoffBase  time.Duration
	RevokeBackoffCap   time.Duration
}

// Alert is sent on the operator channel when a lease exhausts its
// revocation retries. The lease record stays in the store.
type Alert struct {
	LeaseID string
	Role    string
	Reason  string
}

type Manager struct {
	store    store.Store
	roles    *roles.Registry
	backends map[string]core.Backend
	cfg      Config

	// alerts is the operator escalation channel. Sends never block;
	// a full channel drops the alert after logging it.
	alerts chan<- Alert

	now func() time.Time
}

func NewManager(s store.Store, roleReg *roles.Registry, backends map[string]core.Backend, cfg Config, alerts chan<- Alert) *Manager {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 10 * time.Second
	}
	if cfg.RevokeRetryCeiling <= 0 {
		cfg.RevokeRetryCeiling = 5
	}
	if cfg.RevokeBackoffBase <= 0 {
		cfg.RevokeBackoffBase = 250 * time.Millisecond
	}
	if cfg.RevokeBackoffCap <= 0 {
		cfg.RevokeBackoffCap = 8 * time.Second
	}
	return &Manager{
		store:    s,
		roles:    roleReg,
		backends: backends,
		cfg:      cfg,
		alerts:   alerts,
		now:      time.Now,
	}
}

// Issue mints a credential for the role and persists a new active lease.
// requestedTTL is clamped to [1s, role.MaxTTL]; zero means the role's
// default. On any failure after the credential was created, the credential
// is destroyed again before the error is returned, so a failed issuance
// never leaks a live credential.
func (m *Manager) Issue(ctx context.Context, roleName string, requestedTTL time.Duration) (*core.Lease, *core.CredentialArtifact, error) {
	role, err := m.roles.Get(ctx, roleName)
	if err != nil {
		return nil, nil, err
	}
	ttl := clampTTL(requestedTTL, *role)

	backend, err := m.backendFor(*role)
	if err != nil {
		return nil, nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, m.cfg.BackendTimeout)
	defer cancel()

	artifact, err := backend.Generate(genCtx, *role, ttl)
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			err = core.Wrap(core.KindBackendUnavailable, err, "backend generate failed")
		}
		return nil, nil, err
	}

	now := m.now()
	lease := core.Lease{
		Role:          role.Name,
		RoleSnapshot:  *role,
		RevocationRef: artifact.RevocationRef(),
		Fingerprint:   artifact.Fingerprint,
		State:         core.LeaseStateActive,
		IssuedAt:      now,
		TTL:           ttl,
		ExpiresAt:     now.Add(ttl),
	}

	// ids carry enough entropy that a collision is not expected; the CAS
	// insert still guards against one by retrying with a fresh id
	var insertErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		lease.ID = uuid.NewString()
		data, err := json.Marshal(lease)
		if err != nil {
			insertErr = fmt.Errorf("encoding lease: %w", err)
			break
		}
		if _, insertErr = m.store.Put(ctx, keyPrefix+lease.ID, data, 0); !errors.Is(insertErr, store.ErrCASMismatch) {
			break
		}
	}
	if insertErr != nil {
		// bookkeeping failed: destroy the credential rather than leak it
		m.revokeBestEffort(backend, artifact.RevocationRef())
		return nil, nil, core.Wrap(core.KindStoreConflict, insertErr, "persisting lease")
	}

	metrics.LeasesIssued.WithLabelValues(role.Name).Inc()
	log.Ctx(ctx).Info().
		Str("lease_id", lease.ID).
		Str("role", role.Name).
		Dur("ttl", ttl).
		Msg("lease issued")

	return &lease, artifact, nil
}

// Renew extends the lease expiry from the current time, never past
// issue time + max TTL. A lease already at its ceiling is returned
// unchanged so callers can poll safely. A renewal race is detected by
// the record version; the losing writer retries with fresh state.
func (m *Manager) Renew(ctx context.Context, leaseID string, requestedTTL time.Duration) (*core.Lease, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		entry, lease, err := m.read(ctx, leaseID)
		if err != nil {
			return nil, err
		}

		now := m.now()
		ceiling := lease.MaxExpiry()
		if !lease.ExpiresAt.Before(ceiling) {
			// already at the ceiling: a no-op, not an error
			return lease, nil
		}

		req := requestedTTL
		if req <= 0 {
			req = lease.RoleSnapshot.DefaultTTL
		}
		newExpiry := now.Add(req)
		if newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
		if newExpiry.Before(lease.ExpiresAt) {
			// renewal extends, never shortens
			newExpiry = lease.ExpiresAt
		}

		lease.ExpiresAt = newExpiry
		lease.TTL = newExpiry.Sub(now)
		lease.Renewals++
		lease.State = core.LeaseStateActive

		data, err := json.Marshal(lease)
		if err != nil {
			return nil, fmt.Errorf("encoding lease: %w", err)
		}
		_, err = m.store.Put(ctx, keyPrefix+leaseID, data, entry.Version)
		if errors.Is(err, store.ErrCASMismatch) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.E(core.KindLeaseNotFound, "lease '%s' not found", leaseID)
		}
		if err != nil {
			return nil, fmt.Errorf("persisting renewal: %w", err)
		}

		metrics.LeasesRenewed.WithLabelValues(lease.Role).Inc()
		return lease, nil
	}
	return nil, core.E(core.KindStoreConflict, "renewing lease '%s': retries exhausted", leaseID)
}

// Revoke terminates the lease early. The backend credential is destroyed
// first; the record is deleted last. Revoking an unknown (or already
// revoked) lease returns lease_not_found.
func (m *Manager) Revoke(ctx context.Context, leaseID string) error {
	entry, lease, err := m.read(ctx, leaseID)
	if err != nil {
		return err
	}

	backend, err := m.backendFor(lease.RoleSnapshot)
	if err != nil {
		return err
	}

	revokeCtx, cancel := context.WithTimeout(ctx, m.cfg.BackendTimeout)
	defer cancel()
	if err := backend.Revoke(revokeCtx, lease.RevocationRef); err != nil {
		if core.KindOf(err) == core.KindInternal {
			err = core.Wrap(core.KindBackendUnavailable, err, "backend revoke failed")
		}
		return err
	}

	if err := m.deleteRecord(ctx, leaseID, entry.Version); err != nil {
		return err
	}

	metrics.LeasesRevoked.WithLabelValues("explicit").Inc()
	log.Ctx(ctx).Info().
		Str("lease_id", leaseID).
		Str("role", lease.Role).
		Msg("lease revoked")
	return nil
}

// Get returns the lease record for metadata lookup.
func (m *Manager) Get(ctx context.Context, leaseID string) (*core.Lease, error) {
	_, lease, err := m.read(ctx, leaseID)
	return lease, err
}

// List returns all lease records, expired ones included.
func (m *Manager) List(ctx context.Context) ([]core.Lease, error) {
	keys, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	leases := make([]core.Lease, 0, len(keys))
	for _, key := range keys {
		entry, err := m.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted between list and get
		}
		if err != nil {
			return nil, err
		}
		var lease core.Lease
		if err := json.Unmarshal(entry.Value, &lease); err != nil {
			return nil, fmt.Errorf("decoding lease '%s': %w", key, err)
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

func (m *Manager) read(ctx context.Context, leaseID string) (*store.Entry, *core.Lease, error) {
	entry, err := m.store.Get(ctx, keyPrefix+leaseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, core.E(core.KindLeaseNotFound, "lease '%s' not found", leaseID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading lease '%s': %w", leaseID, err)
	}
	var lease core.Lease
	if err := json.Unmarshal(entry.Value, &lease); err != nil {
		return nil, nil, fmt.Errorf("decoding lease '%s': %w", leaseID, err)
	}
	return entry, &lease, nil
}

// deleteRecord removes the lease record once revocation is confirmed.
// A version mismatch means a renewal raced the revocation; the credential
// is already destroyed at that point, so the record is removed anyway.
func (m *Manager) deleteRecord(ctx context.Context, leaseID string, version uint64) error {
	key := keyPrefix + leaseID
	for attempt := 0; attempt < casRetries; attempt++ {
		err := m.store.Delete(ctx, key, version)
		if errors.Is(err, store.ErrNotFound) {
			return nil // already gone: treat as revoked
		}
		if errors.Is(err, store.ErrCASMismatch) {
			entry, err := m.store.Get(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			version = entry.Version
			continue
		}
		return err
	}
	return core.E(core.KindStoreConflict, "deleting lease '%s': retries exhausted", leaseID)
}

func (m *Manager) backendFor(role core.Role) (core.Backend, error) {
	backend, ok := m.backends[role.Backend]
	if !ok {
		return nil, core.E(core.KindBackendUnavailable, "backend '%s' is not configured", role.Backend)
	}
	return backend, nil
}

func (m *Manager) revokeBestEffort(backend core.Backend, revocationRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BackendTimeout)
	defer cancel()
	if err := backend.Revoke(ctx, revocationRef); err != nil {
		log.Error().Err(err).Msg("failed to destroy credential after bookkeeping failure")
	}
}

func clampTTL(requested time.Duration, role core.Role) time.Duration {
	switch {
	case requested <= 0:
		return role.DefaultTTL
	case requested < minTTL:
		return minTTL
	case requested > role.MaxTTL:
		return role.MaxTTL
	}
	return requested
}
