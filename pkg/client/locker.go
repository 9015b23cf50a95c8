package client

import (
	"context"
	"time"
)

// ClaimLocker adapts a Client to the groups.Locker shape: blocking acquire
// of a claim with a fixed TTL, release via the returned func.
type ClaimLocker struct {
	client *Client
	ttl    time.Duration
}

func NewClaimLocker(c *Client, ttl time.Duration) *ClaimLocker {
	return &ClaimLocker{client: c, ttl: ttl}
}

func (l *ClaimLocker) Acquire(ctx context.Context, lockID string) (func(), error) {
	claim, err := l.client.Acquire(ctx, lockID, l.ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = claim.Release(relCtx)
	}, nil
}
