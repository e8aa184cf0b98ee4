package client

import (
	"context"
	"fmt"

	"github.com/jmelchers/arvon/internal/api"
)

// IssueLeaseOptions contains optional parameters for issuing a lease.
type IssueLeaseOptions struct {
	// TTL requests a lifetime ("30m", "2h"). Empty means the role default;
	// values above the role maximum are clamped server-side.
	TTL string
}

// IssueLease requests a fresh credential under the given role. The
// returned credential is delivered exactly once.
func (c *Client) IssueLease(ctx context.Context, role string, opts IssueLeaseOptions) (*api.IssueLeaseResponse, string, error) {
	var result api.IssueLeaseResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.IssueLeaseRoute).
		build(), api.IssueLeasePayload{
		Role: role,
		TTL:  opts.TTL,
	}, &result)
	if err != nil {
		return nil, correlation, err
	}
	return &result, correlation, nil
}

// RenewLease extends a lease before it expires.
func (c *Client) RenewLease(ctx context.Context, leaseID, ttl string) (*api.LeaseResponse, string, error) {
	var result api.LeaseResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.RenewLeaseRoute).
		build(), api.RenewLeasePayload{
		LeaseID: leaseID,
		TTL:     ttl,
	}, &result)
	if err != nil {
		return nil, correlation, err
	}
	return &result, correlation, nil
}

// RevokeLease terminates a lease early and destroys its credential.
func (c *Client) RevokeLease(ctx context.Context, leaseID string) (string, error) {
	var result api.RevokeLeaseResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.RevokeLeaseRoute).
		build(), api.RevokeLeasePayload{
		LeaseID: leaseID,
	}, &result)
	if err != nil {
		return correlation, err
	}
	if result.Status != "revoked" {
		return correlation, fmt.Errorf("unexpected response status: %s", result.Status)
	}
	return correlation, nil
}

// LookupLease retrieves lease metadata. The credential itself is never
// returned after issuance.
func (c *Client) LookupLease(ctx context.Context, leaseID string) (*api.LeaseResponse, string, error) {
	var result api.LeaseResponse
	correlation, err := c.get(ctx, c.url().
		setPath(api.LookupLeaseRoute).
		setPathParam("id", leaseID).
		build(), &result)
	if err != nil {
		return nil, correlation, err
	}
	return &result, correlation, nil
}
