package scheduler

import (
	"context"
	"time"

	"github.com/dian4554/otter/pkg/client"
)

// ClientBucketLocker claims buckets through the lock service.
type ClientBucketLocker struct {
	c *client.Client
}

func NewClientBucketLocker(c *client.Client) *ClientBucketLocker {
	return &ClientBucketLocker{c: c}
}

func (l *ClientBucketLocker) TryAcquire(ctx context.Context, lockID string, ttl time.Duration) (BucketLock, error) {
	claim, err := l.c.TryAcquire(ctx, lockID, ttl)
	if err != nil {
		return nil, err
	}
	return claim, nil
}
