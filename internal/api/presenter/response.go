package presenter

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/core"
)

type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

func Error(w http.ResponseWriter, r *http.Request, msg string, status int) {
	JSON(w, r, ErrorResponse{
		Error:         msg,
		CorrelationID: core.CorrelationID(r.Context()),
	}, status)
}

// Err maps a classified error to its HTTP status. Unclassified errors
// are reported as internal without exposing their message.
func Err(w http.ResponseWriter, r *http.Request, err error, short string) {
	kind := core.KindOf(err)
	msg := short + ": " + err.Error()
	if kind == core.KindInternal {
		msg = short
	}
	JSON(w, r, ErrorResponse{
		Error:         msg,
		Kind:          string(kind),
		CorrelationID: core.CorrelationID(r.Context()),
	}, StatusOf(kind))
}

// StatusOf maps error kinds to HTTP status codes.
func StatusOf(kind core.Kind) int {
	switch kind {
	case core.KindIdentityInvalid, core.KindIdentityExpired:
		return http.StatusUnauthorized
	case core.KindIdentityUnmapped, core.KindUnauthorized:
		return http.StatusForbidden
	case core.KindRoleNotFound, core.KindLeaseNotFound:
		return http.StatusNotFound
	case core.KindInvalidRoleConfig, core.KindMaxTTLExceeded:
		return http.StatusBadRequest
	case core.KindBackendUnavailable, core.KindBackendRejected, core.KindRevocationFailed:
		return http.StatusBadGateway
	case core.KindStoreConflict:
		return http.StatusConflict
	case core.KindSealed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
