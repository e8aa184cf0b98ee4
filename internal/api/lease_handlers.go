package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/api/presenter"
	"github.com/jmelchers/arvon/internal/core"
)

type IssueLeasePayload struct {
	// Role names the role to issue a credential under.
	Role string `json:"role"`

	// TTL optionally requests a lifetime ("30m", "2h"). Empty means the
	// role default; values above the role maximum are clamped.
	TTL string `json:"ttl,omitempty"`
}

// LeaseResponse is the credential-free view of a lease.
type LeaseResponse struct {
	LeaseID   string    `json:"lease_id"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TTL       string    `json:"ttl"`
	Renewals  int       `json:"renewals"`
}

func leaseResponse(l *core.Lease) LeaseResponse {
	return LeaseResponse{
		LeaseID:   l.ID,
		Role:      l.Role,
		State:     string(l.State),
		IssuedAt:  l.IssuedAt,
		ExpiresAt: l.ExpiresAt,
		TTL:       l.TTL.String(),
		Renewals:  l.Renewals,
	}
}

// IssueLeaseResponse carries the credential exactly once. It is never
// retrievable again through any endpoint.
type IssueLeaseResponse struct {
	LeaseResponse
	Credential  core.Credential  `json:"credential"`
	Backend     core.BackendInfo `json:"backend"`
	Fingerprint string           `json:"fingerprint,omitempty"`
}

// handleIssueLease processes credential issuance requests.
func (s *Server) handleIssueLease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload IssueLeasePayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode issue payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Role == "" {
		presenter.Error(w, r, "missing role", http.StatusBadRequest)
		return
	}
	ttl, err := parseTTL(payload.TTL)
	if err != nil {
		presenter.Error(w, r, "invalid ttl", http.StatusBadRequest)
		return
	}

	lease, artifact, err := s.broker.IssueLease(ctx, bearerToken(r), payload.Role, ttl)
	if err != nil {
		logger.Warn().Err(err).Str("role", payload.Role).Msg("lease issuance failed")
		presenter.Err(w, r, err, "lease issuance failed")
		return
	}

	logger.Info().
		Str("lease_id", lease.ID).
		Str("role", lease.Role).
		Msg("lease issued successfully")

	presenter.JSON(w, r, IssueLeaseResponse{
		LeaseResponse: leaseResponse(lease),
		Credential:    artifact.Credential,
		Backend:       artifact.Backend,
		Fingerprint:   artifact.Fingerprint,
	}, http.StatusCreated)
}

type RenewLeasePayload struct {
	LeaseID string `json:"lease_id"`

	// TTL requests the extension; empty means the role default.
	TTL string `json:"ttl,omitempty"`
}

// handleRenewLease extends a lease before it expires.
func (s *Server) handleRenewLease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload RenewLeasePayload
	if err := DecodePayload(r, &payload, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.LeaseID == "" {
		presenter.Error(w, r, "missing lease_id", http.StatusBadRequest)
		return
	}
	ttl, err := parseTTL(payload.TTL)
	if err != nil {
		presenter.Error(w, r, "invalid ttl", http.StatusBadRequest)
		return
	}

	lease, err := s.broker.RenewLease(ctx, bearerToken(r), payload.LeaseID, ttl)
	if err != nil {
		logger.Warn().Err(err).Str("lease_id", payload.LeaseID).Msg("lease renewal failed")
		presenter.Err(w, r, err, "lease renewal failed")
		return
	}

	presenter.JSON(w, r, leaseResponse(lease), http.StatusOK)
}

type RevokeLeasePayload struct {
	LeaseID string `json:"lease_id"`
}

type RevokeLeaseResponse struct {
	Status string `json:"status"`
}

// handleRevokeLease terminates a lease early.
func (s *Server) handleRevokeLease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload RevokeLeasePayload
	if err := DecodePayload(r, &payload, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.LeaseID == "" {
		presenter.Error(w, r, "missing lease_id", http.StatusBadRequest)
		return
	}

	if err := s.broker.RevokeLease(ctx, bearerToken(r), payload.LeaseID); err != nil {
		logger.Warn().Err(err).Str("lease_id", payload.LeaseID).Msg("lease revocation failed")
		presenter.Err(w, r, err, "lease revocation failed")
		return
	}

	presenter.JSON(w, r, RevokeLeaseResponse{Status: "revoked"}, http.StatusOK)
}

// handleLookupLease returns lease metadata by id.
func (s *Server) handleLookupLease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		presenter.Error(w, r, "missing lease id", http.StatusBadRequest)
		return
	}

	lease, err := s.broker.LookupLease(r.Context(), bearerToken(r), id)
	if err != nil {
		presenter.Err(w, r, err, "lease lookup failed")
		return
	}

	presenter.JSON(w, r, leaseResponse(lease), http.StatusOK)
}
