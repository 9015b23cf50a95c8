package fsm

import (
	"fmt"
	"sync"

	tm "time"

	"github.com/google/uuid"

	"github.com/dian4554/otter/pkg/clock"
	"github.com/dian4554/otter/pkg/types"
)

// manages the claim table
// critical :
// - claims under a lock stay ordered by claim ID (creation order)
// - the holder is the earliest live claim, promoted only via the log
// - fencing tokens must be strictly monotonic
// - tombstones survive at least the gc grace period
type FSM struct {
	mu sync.RWMutex

	table *ClaimTable
	clock *clock.Clock
}

func NewFSM(opts Options) *FSM {
	return &FSM{
		table: NewClaimTable(opts),
		clock: clock.New(),
	}
}

// applies a command to the FSM and returns the result or error.
// the effect time comes from the command, stamped at submission, never
// from the local clock: a replayed log must land on identical state.
// clamping against the last applied instant keeps table time monotone
// even if a new leader stamps behind its predecessor
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cmd == nil {
		return nil, fmt.Errorf("nil command")
	}

	now := cmd.At()
	if now < f.table.lastApplied {
		now = f.table.lastApplied
	} else {
		f.table.lastApplied = now
	}

	switch c := cmd.(type) {
	case types.AcquireClaimCmd:
		return f.table.acquire(c, now)
	case types.HeartbeatClaimCmd:
		return f.table.heartbeat(c, now)
	case types.ReleaseClaimCmd:
		return f.table.release(c, now)
	case types.ExpireClaimsCmd:
		return f.table.expire(c, now), nil
	case types.CompactTableCmd:
		return f.table.compact(now), nil
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a claim is inserted (or re-acquired)
type AcquireClaimResponse struct {
	ClaimID      uuid.UUID
	Position     int
	Holding      bool
	HolderID     uuid.UUID
	FencingToken uint64
	ExpiresAt    tm.Duration
}

// returned when a claim is heartbeated
type HeartbeatClaimResponse struct {
	ExpiresAt tm.Duration
	Holding   bool
}

// returned when a claim is released
type ReleaseClaimResponse struct {
	Released  bool
	NewHolder uuid.UUID
}

// returned by the expiry sweep
type ExpireClaimsResponse struct {
	Expired int
}

// returned by a compaction pass
type CompactTableResponse struct {
	SegmentsMerged int
	Purged         int
}

// returns the current state of a lock
func (f *FSM) LockView(lockID string) (LockView, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table.lockView(lockID, f.clock.Elapsed())
}

// returns refs of claims whose TTL has lapsed without a heartbeat
func (f *FSM) ExpiredClaims() []types.ClaimRef {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table.expiredClaims(f.clock.Elapsed())
}

// current fsm stats
type Stats struct {
	Locks          int
	Claims         int
	LiveClaims     int
	Tombstones     int
	Segments       int
	FencingCounter uint64
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.clock.Elapsed()
	s := Stats{
		Locks:          len(f.table.partitions),
		Segments:       len(f.table.sealed) + 1,
		FencingCounter: f.table.fencing,
	}
	for _, p := range f.table.partitions {
		for _, c := range p.Claims {
			s.Claims++
			if c.IsLive(now) {
				s.LiveClaims++
			}
			if c.Released {
				s.Tombstones++
			}
		}
	}
	return s
}

func (f *FSM) CurrentTime() tm.Duration {
	return f.clock.Elapsed()
}
