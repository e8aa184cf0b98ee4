package api

import (
	"net/http"

	"github.com/jmelchers/arvon/internal/api/presenter"
	"github.com/jmelchers/arvon/internal/core"
)

const tasksACLPath = "sys/tasks"

// handleListTasks responds with the list of background tasks and their
// statuses.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.CheckAccess(r.Context(), bearerToken(r), tasksACLPath, core.CapList); err != nil {
		presenter.Err(w, r, err, "listing tasks failed")
		return
	}
	presenter.JSON(w, r, s.taskManager.ListStatus(), http.StatusOK)
}

type TriggerTaskResponse struct {
	Status string `json:"status"`
}

// handleTriggerTask triggers a background task by name.
func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.CheckAccess(r.Context(), bearerToken(r), tasksACLPath, core.CapUpdate); err != nil {
		presenter.Err(w, r, err, "triggering task failed")
		return
	}

	name := r.PathValue("name")
	if name == "" {
		presenter.Error(w, r, "missing task name", http.StatusBadRequest)
		return
	}
	if err := s.taskManager.Trigger(name); err != nil {
		presenter.Error(w, r, err.Error(), http.StatusInternalServerError)
		return
	}
	presenter.JSON(w, r, TriggerTaskResponse{Status: "triggered"}, http.StatusOK)
}

// handleLogsForTask retrieves captured logs for a background task.
func (s *Server) handleLogsForTask(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.CheckAccess(r.Context(), bearerToken(r), tasksACLPath, core.CapRead); err != nil {
		presenter.Err(w, r, err, "reading task logs failed")
		return
	}

	name := r.PathValue("name")
	if name == "" {
		presenter.Error(w, r, "missing task name", http.StatusBadRequest)
		return
	}
	logs, err := s.taskManager.GetLogs(name)
	if err != nil {
		presenter.Error(w, r, err.Error(), http.StatusInternalServerError)
		return
	}
	presenter.JSON(w, r, logs, http.StatusOK)
}
