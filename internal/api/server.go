package api

import (
	"net/http"

	"github.com/jmelchers/arvon/internal/api/middleware"
	"github.com/jmelchers/arvon/internal/metrics"
	"github.com/jmelchers/arvon/internal/service"
	"github.com/jmelchers/arvon/internal/tasks"
)

type Server struct {
	broker      *service.BrokerService
	taskManager *tasks.Manager
}

func NewServer(broker *service.BrokerService, taskManager *tasks.Manager) *Server {
	return &Server{
		broker:      broker,
		taskManager: taskManager,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.Handle("GET "+MetricsRoute, metrics.Handler())
	mux.HandleFunc("GET "+SealStatusRoute, s.handleSealStatus)
	mux.HandleFunc("POST "+UnsealRoute, s.handleUnseal)

	mux.HandleFunc("POST "+LoginRoute, s.handleLogin)

	// lease routes; authorization happens in the service layer
	mux.HandleFunc("POST "+IssueLeaseRoute, s.handleIssueLease)
	mux.HandleFunc("POST "+RenewLeaseRoute, s.handleRenewLease)
	mux.HandleFunc("POST "+RevokeLeaseRoute, s.handleRevokeLease)
	mux.HandleFunc("GET "+LookupLeaseRoute, s.handleLookupLease)

	// sys routes
	mux.HandleFunc("PUT "+RoleRoute, s.handlePutRole)
	mux.HandleFunc("GET "+RoleRoute, s.handleGetRole)
	mux.HandleFunc("DELETE "+RoleRoute, s.handleDeleteRole)
	mux.HandleFunc("GET "+ListRolesRoute, s.handleListRoles)

	mux.HandleFunc("PUT "+PolicyRoute, s.handlePutPolicy)
	mux.HandleFunc("DELETE "+PolicyRoute, s.handleDeletePolicy)
	mux.HandleFunc("GET "+ListPoliciesRoute, s.handleListPolicies)

	mux.HandleFunc("PUT "+MappingRoute, s.handlePutMapping)
	mux.HandleFunc("DELETE "+MappingRoute, s.handleDeleteMapping)

	mux.HandleFunc("GET "+ListLeasesRoute, s.handleListLeases)
	mux.HandleFunc("GET "+ListAuditsRoute, s.handleListAudits)

	mux.HandleFunc("GET "+ListTasksRoute, s.handleListTasks)
	mux.HandleFunc("POST "+TriggerTaskRoute, s.handleTriggerTask)
	mux.HandleFunc("GET "+LogsForTaskRoute, s.handleLogsForTask)

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				metrics.Instrument(mux))))
}
