package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/api/presenter"
	"github.com/jmelchers/arvon/internal/core"
)

type StatusResponse struct {
	Status string `json:"status"`
}

// handlePutRole creates or replaces a role.
func (s *Server) handlePutRole(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var role core.Role
	if err := DecodePayload(r, &role, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	// the path is authoritative for the name
	role.Name = name

	if err := s.broker.PutRole(r.Context(), bearerToken(r), role); err != nil {
		presenter.Err(w, r, err, "storing role failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "stored"}, http.StatusOK)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.broker.GetRole(r.Context(), bearerToken(r), r.PathValue("name"))
	if err != nil {
		presenter.Err(w, r, err, "reading role failed")
		return
	}
	presenter.JSON(w, r, role, http.StatusOK)
}

// handleDeleteRole removes a role. Leases issued under it stay revocable
// through their snapshots.
func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.DeleteRole(r.Context(), bearerToken(r), r.PathValue("name")); err != nil {
		presenter.Err(w, r, err, "deleting role failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "deleted"}, http.StatusOK)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	names, err := s.broker.ListRoles(r.Context(), bearerToken(r))
	if err != nil {
		presenter.Err(w, r, err, "listing roles failed")
		return
	}
	presenter.JSON(w, r, names, http.StatusOK)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var p core.Policy
	if err := DecodePayload(r, &p, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	p.Name = name

	if err := s.broker.PutPolicy(r.Context(), bearerToken(r), p); err != nil {
		presenter.Err(w, r, err, "storing policy failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "stored"}, http.StatusOK)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.DeletePolicy(r.Context(), bearerToken(r), r.PathValue("name")); err != nil {
		presenter.Err(w, r, err, "deleting policy failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "deleted"}, http.StatusOK)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	names, err := s.broker.ListPolicies(r.Context(), bearerToken(r))
	if err != nil {
		presenter.Err(w, r, err, "listing policies failed")
		return
	}
	presenter.JSON(w, r, names, http.StatusOK)
}

func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var m core.IdentityMapping
	if err := DecodePayload(r, &m, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	m.Name = name

	if err := s.broker.PutMapping(r.Context(), bearerToken(r), m); err != nil {
		presenter.Err(w, r, err, "storing identity mapping failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "stored"}, http.StatusOK)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.DeleteMapping(r.Context(), bearerToken(r), r.PathValue("name")); err != nil {
		presenter.Err(w, r, err, "deleting identity mapping failed")
		return
	}
	presenter.JSON(w, r, StatusResponse{Status: "deleted"}, http.StatusOK)
}

// handleListLeases returns all lease records for operators.
func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := s.broker.ListLeases(r.Context(), bearerToken(r))
	if err != nil {
		presenter.Err(w, r, err, "listing leases failed")
		return
	}

	out := make([]LeaseResponse, 0, len(leases))
	for i := range leases {
		out = append(out, leaseResponse(&leases[i]))
	}
	presenter.JSON(w, r, out, http.StatusOK)
}

// handleListAudits returns recent audit log entries.
func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			logger.Warn().Err(err).Str("limit", limitStr).Msg("invalid limit parameter")
			presenter.Error(w, r, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = v
	}

	entries, err := s.broker.RecentAudit(r.Context(), bearerToken(r), limit)
	if err != nil {
		presenter.Err(w, r, err, "retrieving audit logs failed")
		return
	}
	presenter.JSON(w, r, entries, http.StatusOK)
}
