package core

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
// The HTTP layer maps kinds to status codes; clients can switch on them.
type Kind string

const (
	KindIdentityInvalid    Kind = "identity_invalid"
	KindIdentityExpired    Kind = "identity_expired"
	KindIdentityUnmapped   Kind = "identity_unmapped"
	KindUnauthorized       Kind = "unauthorized"
	KindRoleNotFound       Kind = "role_not_found"
	KindInvalidRoleConfig  Kind = "invalid_role_config"
	KindLeaseNotFound      Kind = "lease_not_found"
	KindMaxTTLExceeded     Kind = "max_ttl_exceeded"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendRejected    Kind = "backend_rejected"
	KindRevocationFailed   Kind = "revocation_failed"
	KindStoreConflict      Kind = "store_conflict"
	KindSealed             Kind = "sealed"
	KindInternal           Kind = "internal"
)

// Error carries a Kind plus a human-readable cause.
// Secrets must never end up in the message.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// E creates a new classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// KindOf extracts the Kind of an error, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
