package client

import (
	"context"
	"time"

	"github.com/jmelchers/arvon/internal/api"
)

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Policies  []string  `json:"policies"`
}

// Login exchanges an external identity assertion for a broker session
// token. verifier may be empty to let the broker auto-discover it.
func (c *Client) Login(ctx context.Context, assertion, verifier string) (*LoginResult, string, error) {
	var result LoginResult
	correlation, err := c.post(ctx, c.url().
		setPath(api.LoginRoute).
		build(), api.LoginPayload{
		Assertion: assertion,
		Verifier:  verifier,
	}, &result)
	if err != nil {
		return nil, correlation, err
	}
	return &result, correlation, nil
}
