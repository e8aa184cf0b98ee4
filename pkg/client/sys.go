package client

import (
	"context"
	"fmt"

	"github.com/jmelchers/arvon/internal/api"
	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/tasks"
)

// ListLeases retrieves all lease records. Requires list on sys/leases.
func (c *Client) ListLeases(ctx context.Context) ([]api.LeaseResponse, string, error) {
	var resp []api.LeaseResponse
	correlation, err := c.get(ctx, c.url().
		setPath(api.ListLeasesRoute).
		build(), &resp)
	return resp, correlation, err
}

// ListAudits retrieves the latest audit entries from the server, limited
// to the specified number.
func (c *Client) ListAudits(ctx context.Context, limit uint) ([]core.AuditEntry, string, error) {
	ub := c.url().setPath(api.ListAuditsRoute)
	if limit > 0 {
		ub = ub.addQueryParam("limit", limit)
	}
	var resp []core.AuditEntry
	correlation, err := c.get(ctx, ub.build(), &resp)
	return resp, correlation, err
}

// PutRole creates or replaces a role.
func (c *Client) PutRole(ctx context.Context, role core.Role) (string, error) {
	return c.put(ctx, c.url().
		setPath(api.RoleRoute).
		setPathParam("name", role.Name).
		build(), role, nil)
}

// DeleteRole removes a role. Already-issued leases stay revocable.
func (c *Client) DeleteRole(ctx context.Context, name string) (string, error) {
	return c.delete(ctx, c.url().
		setPath(api.RoleRoute).
		setPathParam("name", name).
		build())
}

// ListRoles retrieves the configured role names.
func (c *Client) ListRoles(ctx context.Context) ([]string, string, error) {
	var resp []string
	correlation, err := c.get(ctx, c.url().
		setPath(api.ListRolesRoute).
		build(), &resp)
	return resp, correlation, err
}

// PutPolicy creates or replaces a policy.
func (c *Client) PutPolicy(ctx context.Context, p core.Policy) (string, error) {
	return c.put(ctx, c.url().
		setPath(api.PolicyRoute).
		setPathParam("name", p.Name).
		build(), p, nil)
}

// DeletePolicy removes a policy. Sessions already carrying the name fail
// closed on their next request.
func (c *Client) DeletePolicy(ctx context.Context, name string) (string, error) {
	return c.delete(ctx, c.url().
		setPath(api.PolicyRoute).
		setPathParam("name", name).
		build())
}

// SealStatus reports whether the broker is sealed.
func (c *Client) SealStatus(ctx context.Context) (bool, string, error) {
	var resp api.SealStatusResponse
	correlation, err := c.get(ctx, c.url().
		setPath(api.SealStatusRoute).
		build(), &resp)
	return resp.Sealed, correlation, err
}

// Unseal submits the hex-encoded master key.
func (c *Client) Unseal(ctx context.Context, masterKeyHex string) (string, error) {
	return c.post(ctx, c.url().
		setPath(api.UnsealRoute).
		build(), api.UnsealPayload{MasterKey: masterKeyHex}, nil)
}

func (c *Client) ListTasks(ctx context.Context) ([]tasks.TaskStatus, error) {
	var res []tasks.TaskStatus
	_, err := c.get(ctx, c.url().
		setPath(api.ListTasksRoute).
		build(), &res)
	return res, err
}

func (c *Client) TriggerTask(ctx context.Context, name string) error {
	var res api.TriggerTaskResponse
	_, err := c.post(ctx, c.url().
		setPath(api.TriggerTaskRoute).
		setPathParam("name", name).
		build(), nil, &res)
	if err != nil {
		return err
	}
	if res.Status != "triggered" {
		return fmt.Errorf("unexpected response status: %s", res.Status)
	}
	return nil
}

func (c *Client) GetTaskLogs(ctx context.Context, name string) ([]tasks.LogEntry, error) {
	var res []tasks.LogEntry
	_, err := c.get(ctx, c.url().
		setPath(api.LogsForTaskRoute).
		setPathParam("name", name).
		build(), &res)
	return res, err
}
