package api

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/api/presenter"
)

type LoginPayload struct {
	// Assertion is the external identity document (e.g. an OIDC token).
	Assertion string `json:"assertion"`

	// Verifier optionally names the verifier to validate against,
	// skipping auto-discovery.
	Verifier string `json:"verifier,omitempty"`
}

// handleLogin exchanges an external identity assertion for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload LoginPayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode login payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Assertion == "" {
		presenter.Error(w, r, "missing assertion", http.StatusBadRequest)
		return
	}

	result, err := s.broker.Authenticate(ctx, payload.Assertion, payload.Verifier)
	if err != nil {
		// the error text is classification only; the assertion is not logged
		logger.Warn().Err(err).Msg("login failed")
		presenter.Err(w, r, err, "login failed")
		return
	}

	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("sub", result.Principal.ID)
	})
	logger.Info().Msg("session issued")

	presenter.JSON(w, r, result, http.StatusOK)
}
