package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/api/presenter"
)

// handleHealth responds with a simple OK status to indicate the server is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type SealStatusResponse struct {
	Sealed bool `json:"sealed"`
}

// handleSealStatus reports whether the barrier is sealed.
func (s *Server) handleSealStatus(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, SealStatusResponse{Sealed: s.broker.Sealed()}, http.StatusOK)
}

type UnsealPayload struct {
	// MasterKey is the hex-encoded barrier master key.
	MasterKey string `json:"master_key"`
}

// handleUnseal unlocks the storage barrier. Intentionally unauthenticated:
// nothing can authenticate against a sealed broker.
func (s *Server) handleUnseal(w http.ResponseWriter, r *http.Request) {
	var payload UnsealPayload
	if err := DecodePayload(r, &payload, false); err != nil {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	if err := s.broker.Unseal(r.Context(), payload.MasterKey); err != nil {
		// the payload never reaches the log
		log.Ctx(r.Context()).Warn().Msg("unseal attempt failed")
		presenter.Error(w, r, "unseal failed", http.StatusForbidden)
		return
	}

	presenter.JSON(w, r, SealStatusResponse{Sealed: false}, http.StatusOK)
}
