package api

const (
	HealthCheckRoute = "/healthz"
	MetricsRoute     = "/metrics"

	LoginRoute = "/v1/auth/login"

	IssueLeaseRoute  = "/v1/lease/issue"
	RenewLeaseRoute  = "/v1/lease/renew"
	RevokeLeaseRoute = "/v1/lease/revoke"
	LookupLeaseRoute = "/v1/lease/{id}"

	SysParent = "/v1/sys/"

	RoleRoute      = SysParent + "roles/{name}"
	ListRolesRoute = SysParent + "roles"

	PolicyRoute       = SysParent + "policies/{name}"
	ListPoliciesRoute = SysParent + "policies"

	MappingRoute = SysParent + "identity/{name}"

	ListLeasesRoute = SysParent + "leases"
	ListAuditsRoute = SysParent + "audit"

	SealStatusRoute = SysParent + "seal/status"
	UnsealRoute     = SysParent + "seal/unseal"

	TaskParent       = SysParent + "tasks"
	ListTasksRoute   = TaskParent
	TriggerTaskRoute = TaskParent + "/{name}/trigger"
	LogsForTaskRoute = TaskParent + "/{name}/logs"
)
