package types

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Claim is one row of the claim table. A lock is held by the earliest
// live claim in its partition, ordered by ClaimID.
//
// All instants are durations since the Unix epoch, taken from the effect
// time the leader stamped on the mutating command. The applier's own clock
// never enters the table, so replicas replaying the same log converge on
// identical state.
type Claim struct {
	LockID    string        `json:"lock_id"`
	ClaimID   uuid.UUID     `json:"claim_id"`
	OwnerID   string        `json:"owner_id"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Duration `json:"expires_at"`
	Released  bool          `json:"released,omitempty"`
	DeletedAt time.Duration `json:"deleted_at,omitempty"`
}

// IsLive reports whether the claim still counts toward holder election.
func (c *Claim) IsLive(now time.Duration) bool {
	return !c.Released && now < c.ExpiresAt
}

// Purgeable reports whether a tombstoned claim is past the gc grace
// window and can be physically removed during compaction.
func (c *Claim) Purgeable(now, gcGrace time.Duration) bool {
	return c.Released && now >= c.DeletedAt+gcGrace
}

// ClaimRef names a claim without carrying its state.
type ClaimRef struct {
	LockID  string    `json:"lock_id"`
	ClaimID uuid.UUID `json:"claim_id"`
}

// NewClaimID returns a time-ordered claim ID. V7 UUIDs sort by creation
// time under byte comparison, which is what orders claims in a partition.
func NewClaimID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// CompareClaimIDs orders claim IDs the way the table stores them.
func CompareClaimIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
