// Package service is the authorization boundary of the broker. Every
// operation that the HTTP layer exposes passes through here: the session
// token is validated, the caller's policies are compiled into an ACL, the
// request path is checked, and the outcome is audited. Handlers below this
// layer never see an unauthorized request.
package service

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/identity"
	"github.com/jmelchers/arvon/internal/lease"
	"github.com/jmelchers/arvon/internal/policy"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/store"
)

// Request paths checked against the caller's ACL. Lease operations are
// authorized on the role they touch; administrative operations live under
// the sys/ tree.
const (
	pathCreds    = "creds/"
	pathRoles    = "sys/roles/"
	pathPolicies = "sys/policies/"
	pathIdentity = "sys/identity/"
	pathLeases   = "sys/leases"
	pathAudit    = "sys/audit"
)

// auditReader is implemented by auditors that retain entries for querying.
type auditReader interface {
	GetRecent(limit int) ([]core.AuditEntry, error)
}

type BrokerService struct {
	broker   *identity.Broker
	leases   *lease.Manager
	roles    *roles.Registry
	policies *policy.Registry
	mappings *identity.MappingRegistry
	barrier  *store.Barrier
	auditor  core.Auditor
}

func NewBrokerService(
	broker *identity.Broker,
	leases *lease.Manager,
	roleReg *roles.Registry,
	policyReg *policy.Registry,
	mappings *identity.MappingRegistry,
	barrier *store.Barrier,
	auditor core.Auditor,
) *BrokerService {
	return &BrokerService{
		broker:   broker,
		leases:   leases,
		roles:    roleReg,
		policies: policyReg,
		mappings: mappings,
		barrier:  barrier,
		auditor:  auditor,
	}
}

// Authenticate exchanges an external identity assertion for a session token.
func (s *BrokerService) Authenticate(ctx context.Context, assertion, verifierName string) (*identity.LoginResult, error) {
	if err := s.checkSeal(); err != nil {
		return nil, err
	}

	result, err := s.broker.Authenticate(ctx, assertion, verifierName)
	if err != nil {
		s.audit(ctx, core.AuditEntry{
			Action:  "auth.login",
			Granted: false,
			Error:   err.Error(),
		})
		return nil, err
	}

	s.audit(ctx, core.AuditEntry{
		Action:    "auth.login",
		Principal: result.Principal,
		Subject:   result.Principal.ID,
		Granted:   true,
		Metadata:  map[string]any{"policies": result.Policies},
	})
	return result, nil
}

// IssueLease mints a credential for the role on behalf of the session.
func (s *BrokerService) IssueLease(ctx context.Context, token, roleName string, ttl time.Duration) (*core.Lease, *core.CredentialArtifact, error) {
	path := pathCreds + roleName
	session, err := s.authorize(ctx, token, path, core.CapCreate)
	if err != nil {
		s.auditDenied(ctx, "lease.issue", path, roleName, err)
		return nil, nil, err
	}

	leaseRec, artifact, err := s.leases.Issue(ctx, roleName, ttl)
	if err != nil {
		s.audit(ctx, core.AuditEntry{
			Action:     "lease.issue",
			Subject:    session.Subject,
			Role:       roleName,
			PolicyPath: path,
			Granted:    true,
			Error:      err.Error(),
		})
		return nil, nil, err
	}

	s.audit(ctx, core.AuditEntry{
		Action:                "lease.issue",
		Subject:               session.Subject,
		Role:                  roleName,
		LeaseID:               leaseRec.ID,
		PolicyPath:            path,
		Granted:               true,
		CredentialFingerprint: artifact.Fingerprint,
	})
	return leaseRec, artifact, nil
}

// RenewLease extends a lease. Authorization is checked against the role
// the lease was issued under.
func (s *BrokerService) RenewLease(ctx context.Context, token, leaseID string, ttl time.Duration) (*core.Lease, error) {
	if err := s.precheck(token); err != nil {
		return nil, err
	}
	current, err := s.leases.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	path := pathCreds + current.Role
	session, err := s.authorize(ctx, token, path, core.CapUpdate)
	if err != nil {
		s.auditDenied(ctx, "lease.renew", path, current.Role, err)
		return nil, err
	}

	renewed, err := s.leases.Renew(ctx, leaseID, ttl)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, core.AuditEntry{
		Action:     "lease.renew",
		Subject:    session.Subject,
		Role:       renewed.Role,
		LeaseID:    renewed.ID,
		PolicyPath: path,
		Granted:    true,
	})
	return renewed, nil
}

// RevokeLease terminates a lease early.
func (s *BrokerService) RevokeLease(ctx context.Context, token, leaseID string) error {
	if err := s.precheck(token); err != nil {
		return err
	}
	current, err := s.leases.Get(ctx, leaseID)
	if err != nil {
		return err
	}

	path := pathCreds + current.Role
	session, err := s.authorize(ctx, token, path, core.CapDelete)
	if err != nil {
		s.auditDenied(ctx, "lease.revoke", path, current.Role, err)
		return err
	}

	if err := s.leases.Revoke(ctx, leaseID); err != nil {
		return err
	}

	s.audit(ctx, core.AuditEntry{
		Action:     "lease.revoke",
		Subject:    session.Subject,
		Role:       current.Role,
		LeaseID:    leaseID,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

// LookupLease returns lease metadata. The credential itself is never
// retrievable after issuance.
func (s *BrokerService) LookupLease(ctx context.Context, token, leaseID string) (*core.Lease, error) {
	if err := s.precheck(token); err != nil {
		return nil, err
	}
	current, err := s.leases.Get(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	path := pathCreds + current.Role
	if _, err := s.authorize(ctx, token, path, core.CapRead); err != nil {
		s.auditDenied(ctx, "lease.lookup", path, current.Role, err)
		return nil, err
	}
	return current, nil
}

// ListLeases returns all lease records. Operator surface.
func (s *BrokerService) ListLeases(ctx context.Context, token string) ([]core.Lease, error) {
	if _, err := s.authorize(ctx, token, pathLeases, core.CapList); err != nil {
		s.auditDenied(ctx, "lease.list", pathLeases, "", err)
		return nil, err
	}
	return s.leases.List(ctx)
}

func (s *BrokerService) PutRole(ctx context.Context, token string, role core.Role) error {
	path := pathRoles + role.Name
	session, err := s.authorize(ctx, token, path, core.CapUpdate)
	if err != nil {
		s.auditDenied(ctx, "sys.role.write", path, role.Name, err)
		return err
	}
	if err := s.roles.Put(ctx, role); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.role.write",
		Subject:    session.Subject,
		Role:       role.Name,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

func (s *BrokerService) DeleteRole(ctx context.Context, token, name string) error {
	path := pathRoles + name
	session, err := s.authorize(ctx, token, path, core.CapDelete)
	if err != nil {
		s.auditDenied(ctx, "sys.role.delete", path, name, err)
		return err
	}
	if err := s.roles.Delete(ctx, name); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.role.delete",
		Subject:    session.Subject,
		Role:       name,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

func (s *BrokerService) ListRoles(ctx context.Context, token string) ([]string, error) {
	if _, err := s.authorize(ctx, token, pathRoles, core.CapList); err != nil {
		return nil, err
	}
	return s.roles.List(ctx)
}

func (s *BrokerService) GetRole(ctx context.Context, token, name string) (*core.Role, error) {
	if _, err := s.authorize(ctx, token, pathRoles+name, core.CapRead); err != nil {
		return nil, err
	}
	return s.roles.Get(ctx, name)
}

func (s *BrokerService) PutPolicy(ctx context.Context, token string, p core.Policy) error {
	path := pathPolicies + p.Name
	session, err := s.authorize(ctx, token, path, core.CapUpdate)
	if err != nil {
		s.auditDenied(ctx, "sys.policy.write", path, "", err)
		return err
	}
	if err := s.policies.Put(ctx, p); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.policy.write",
		Subject:    session.Subject,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

func (s *BrokerService) DeletePolicy(ctx context.Context, token, name string) error {
	path := pathPolicies + name
	session, err := s.authorize(ctx, token, path, core.CapDelete)
	if err != nil {
		s.auditDenied(ctx, "sys.policy.delete", path, "", err)
		return err
	}
	if err := s.policies.Delete(ctx, name); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.policy.delete",
		Subject:    session.Subject,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

func (s *BrokerService) ListPolicies(ctx context.Context, token string) ([]string, error) {
	if _, err := s.authorize(ctx, token, pathPolicies, core.CapList); err != nil {
		return nil, err
	}
	return s.policies.List(ctx)
}

func (s *BrokerService) PutMapping(ctx context.Context, token string, m core.IdentityMapping) error {
	path := pathIdentity + m.Name
	session, err := s.authorize(ctx, token, path, core.CapUpdate)
	if err != nil {
		s.auditDenied(ctx, "sys.mapping.write", path, "", err)
		return err
	}
	if err := s.mappings.Put(ctx, m); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.mapping.write",
		Subject:    session.Subject,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

func (s *BrokerService) DeleteMapping(ctx context.Context, token, name string) error {
	path := pathIdentity + name
	session, err := s.authorize(ctx, token, path, core.CapDelete)
	if err != nil {
		s.auditDenied(ctx, "sys.mapping.delete", path, "", err)
		return err
	}
	if err := s.mappings.Delete(ctx, name); err != nil {
		return err
	}
	s.audit(ctx, core.AuditEntry{
		Action:     "sys.mapping.delete",
		Subject:    session.Subject,
		PolicyPath: path,
		Granted:    true,
	})
	return nil
}

// RecentAudit returns the most recent audit entries, newest last. Only
// auditors that retain entries support this; others report internal.
func (s *BrokerService) RecentAudit(ctx context.Context, token string, limit int) ([]core.AuditEntry, error) {
	if _, err := s.authorize(ctx, token, pathAudit, core.CapRead); err != nil {
		return nil, err
	}
	reader, ok := s.auditor.(auditReader)
	if !ok {
		return nil, core.E(core.KindInternal, "configured auditor does not retain entries")
	}
	return reader.GetRecent(limit)
}

// Unseal unlocks the storage barrier. It deliberately requires no session:
// authentication itself needs an unsealed store.
func (s *BrokerService) Unseal(ctx context.Context, masterKeyHex string) error {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return core.E(core.KindSealed, "master key must be hex encoded")
	}
	if err := s.barrier.Unseal(ctx, key); err != nil {
		return core.Wrap(core.KindSealed, err, "unseal failed")
	}
	log.Ctx(ctx).Info().Msg("barrier unsealed")
	s.audit(ctx, core.AuditEntry{Action: "sys.seal.unseal", Granted: true})
	return nil
}

// Sealed reports the barrier state.
func (s *BrokerService) Sealed() bool {
	return s.barrier.Sealed()
}

// authorize validates the session token, compiles the caller's policies
// and checks the capability on the request path. Missing sessions, unknown
// policies and denied paths all collapse into the same unauthorized error.
func (s *BrokerService) authorize(ctx context.Context, token, path string, capability core.Capability) (*core.Session, error) {
	if err := s.checkSeal(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, core.E(core.KindUnauthorized, "missing session token")
	}

	session, err := s.broker.ParseSession(token)
	if err != nil {
		return nil, err
	}

	pols, err := s.policies.Load(ctx, session.Policies)
	if err != nil {
		return nil, err
	}

	if !policy.NewACL(pols).Allowed(path, capability) {
		return nil, core.E(core.KindUnauthorized, "permission denied")
	}
	return session, nil
}

// CheckAccess exposes the ACL check for callers that own resources the
// service does not manage, like the task manager surface.
func (s *BrokerService) CheckAccess(ctx context.Context, token, path string, capability core.Capability) error {
	_, err := s.authorize(ctx, token, path, capability)
	return err
}

// precheck runs the parts of authorization that need no request path, so
// operations that must read state to learn their path reject unauthenticated
// requests before touching the store. Without the session check here, a bad
// token would yield lease_not_found for missing ids but unauthorized for
// existing ones, turning the error into an existence oracle.
func (s *BrokerService) precheck(token string) error {
	if err := s.checkSeal(); err != nil {
		return err
	}
	if token == "" {
		return core.E(core.KindUnauthorized, "missing session token")
	}
	if _, err := s.broker.ParseSession(token); err != nil {
		return err
	}
	return nil
}

func (s *BrokerService) checkSeal() error {
	if s.barrier.Sealed() {
		return core.E(core.KindSealed, "broker is sealed")
	}
	return nil
}

func (s *BrokerService) audit(ctx context.Context, entry core.AuditEntry) {
	entry.ID = core.CorrelationID(ctx)
	entry.Time = time.Now()
	if err := s.auditor.Log(entry); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", entry.Action).Msg("failed to write audit entry")
	}
}

func (s *BrokerService) auditDenied(ctx context.Context, action, path, role string, cause error) {
	s.audit(ctx, core.AuditEntry{
		Action:     action,
		Role:       role,
		PolicyPath: path,
		Granted:    false,
		Error:      cause.Error(),
	})
}
