package clock

import "time"

// Clock provides time as a duration since the Unix epoch, anchored at
// construction and advanced by Go's monotonic reading. Within one process
// it never moves backward regardless of wall-clock jumps; across processes
// (a new leader taking over stamping) readings stay roughly continuous.
type Clock struct {
	base  time.Duration
	start time.Time
}

func New() *Clock {
	now := time.Now()
	return &Clock{
		base:  time.Duration(now.UnixNano()),
		start: now,
	}
}

// current instant, always moves forward
func (c *Clock) Elapsed() time.Duration {
	return c.base + time.Since(c.start)
}

// expiry point for a row written now with the given TTL
func (c *Clock) ExpiresAt(ttl time.Duration) time.Duration {
	return c.Elapsed() + ttl
}
