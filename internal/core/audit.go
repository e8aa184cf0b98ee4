package core

import "time"

type AuditEntry struct {
	// ID is the unique request ID (X-Correlation-ID)
	ID string `json:"id"`

	// Time is the timestamp of the event
	Time time.Time `json:"time"`

	// Action describing what happened (e.g. "lease.issue", "auth.login")
	Action string `json:"action"`

	// Principal identifies who made the request
	Principal *Principal `json:"principal,omitempty"`

	// Subject is the session subject for lease operations.
	Subject string `json:"subject,omitempty"`

	// Role that was targeted
	Role string `json:"role,omitempty"`

	// LeaseID of the affected lease
	LeaseID string `json:"lease_id,omitempty"`

	// Decision details
	PolicyPath string `json:"policy_path,omitempty"`
	Granted    bool   `json:"granted"`
	Error      string `json:"error,omitempty"`

	// CredentialFingerprint correlates the entry with an issued credential
	// without recording the secret itself.
	CredentialFingerprint string `json:"credential_fingerprint,omitempty"`

	// Metadata contains extra details
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Auditor interface {
	Log(entry AuditEntry) error
	Close() error
}
