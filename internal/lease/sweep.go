package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/logging"
	"github.com/jmelchers/arvon/internal/metrics"
	"github.com/jmelchers/arvon/internal/store"
)

// Sweep scans all leases and revokes the expired ones. It is registered
// as the "lease-sweep" background task and safe to trigger concurrently
// with explicit revocations: the record version plus a re-read right
// before each revocation attempt keep the two paths from double-acting.
func (m *Manager) Sweep(ctx context.Context, logger logging.InternalLogger) error {
	keys, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("listing leases: %w", err)
	}

	var failed int
	for _, key := range keys {
		leaseID := key[len(keyPrefix):]
		if err := m.sweepOne(ctx, logger, leaseID); err != nil {
			failed++
			logger.Error("lease %s: %v", leaseID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	metrics.SweepRuns.Inc()
	if failed > 0 {
		return fmt.Errorf("%d lease(s) could not be revoked", failed)
	}
	return nil
}

// sweepOne revokes a single expired lease with exponential backoff.
// Expiry is re-checked on every attempt so a concurrent renewal aborts
// the sweep instead of killing a freshly extended credential.
func (m *Manager) sweepOne(ctx context.Context, logger logging.InternalLogger, leaseID string) error {
	backoff := m.cfg.RevokeBackoffBase

	for attempt := 1; attempt <= m.cfg.RevokeRetryCeiling; attempt++ {
		entry, lease, err := m.read(ctx, leaseID)
		if core.KindOf(err) == core.KindLeaseNotFound {
			return nil // revoked explicitly in the meantime
		}
		if err != nil {
			return err
		}
		if !lease.Expired(m.now()) {
			return nil // renewed since it was listed
		}

		backend, err := m.backendFor(lease.RoleSnapshot)
		if err != nil {
			return m.markFailed(ctx, logger, entry, lease, err)
		}

		revokeCtx, cancel := context.WithTimeout(ctx, m.cfg.BackendTimeout)
		err = backend.Revoke(revokeCtx, lease.RevocationRef)
		cancel()
		if err == nil {
			if err := m.deleteRecord(ctx, leaseID, entry.Version); err != nil {
				return err
			}
			metrics.LeasesRevoked.WithLabelValues("sweep").Inc()
			logger.Info("revoked expired lease %s (role %s)", leaseID, lease.Role)
			return nil
		}

		if attempt == m.cfg.RevokeRetryCeiling {
			lease.RevokeAttempts += attempt
			return m.markFailed(ctx, logger, entry, lease, err)
		}

		logger.Warn("revoking lease %s failed (attempt %d): %v", leaseID, attempt, err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > m.cfg.RevokeBackoffCap {
			backoff = m.cfg.RevokeBackoffCap
		}
	}
	return nil
}

// markFailed records the exhausted revocation on the lease and raises an
// operator alert. The record is kept so the credential remains visible
// until an operator intervenes.
func (m *Manager) markFailed(ctx context.Context, logger logging.InternalLogger, entry *store.Entry, lease *core.Lease, cause error) error {
	alreadyFailed := lease.State == core.LeaseStateRevocationFailed
	lease.State = core.LeaseStateRevocationFailed

	if data, err := json.Marshal(lease); err == nil {
		if _, err := m.store.Put(ctx, keyPrefix+lease.ID, data, entry.Version); err != nil && !errors.Is(err, store.ErrCASMismatch) {
			logger.Error("persisting failed state for lease %s: %v", lease.ID, err)
		}
	}

	metrics.RevocationFailures.Inc()
	if !alreadyFailed {
		m.alert(Alert{
			LeaseID: lease.ID,
			Role:    lease.Role,
			Reason:  cause.Error(),
		})
	}
	return core.Wrap(core.KindRevocationFailed, cause, "revoking lease '%s'", lease.ID)
}

func (m *Manager) alert(a Alert) {
	if m.alerts == nil {
		return
	}
	select {
	case m.alerts <- a:
	default:
		// a stalled operator channel must not stall the sweep
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
