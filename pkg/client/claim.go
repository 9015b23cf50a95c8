package client

import "context"

// Claim is a handle on a held lock.
type Claim struct {
	client       *Client
	lockID       string
	claimID      string
	fencingToken uint64
}

func (c *Claim) Token() uint64 {
	return c.fencingToken
}

func (c *Claim) LockID() string {
	return c.lockID
}

func (c *Claim) Release(ctx context.Context) error {
	return c.client.release(ctx, c.lockID, c.claimID)
}
