package fsm

import (
	"math/bits"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dian4554/otter/pkg/types"
)

// Options are the claim table's storage knobs. They mirror the table's
// schema options: tombstones survive at least GCGrace before purge, and
// sealed claim-log segments merge size-tiered once MinThreshold segments
// share a tier.
type Options struct {
	GCGrace        time.Duration
	MinThreshold   int
	SegmentMaxRows int
}

func DefaultOptions() Options {
	return Options{
		GCGrace:        3600 * time.Second,
		MinThreshold:   2,
		SegmentMaxRows: 128,
	}
}

// one sealed (or in-flight) run of writes. rows reference claims in the
// partitions; a row belongs to exactly one segment at a time
type segment struct {
	ID   uint64           `json:"id"`
	Rows []types.ClaimRef `json:"rows"`
}

func (s *segment) tier() int {
	n := len(s.Rows)
	if n < 1 {
		n = 1
	}
	return bits.Len(uint(n)) - 1
}

// all claims of one lock, ordered by claim ID. the holder is the first
// live claim; Token is the fencing token minted when it became holder
type partition struct {
	Claims   []*types.Claim `json:"claims"`
	HolderID uuid.UUID      `json:"holder_id"`
	Token    uint64         `json:"token"`
}

func (p *partition) find(claimID uuid.UUID) *types.Claim {
	for _, c := range p.Claims {
		if c.ClaimID == claimID {
			return c
		}
	}
	return nil
}

// first live claim in clustering order
func (p *partition) holder(now time.Duration) *types.Claim {
	for _, c := range p.Claims {
		if c.IsLive(now) {
			return c
		}
	}
	return nil
}

// 1-based rank of claimID among live claims, 0 if not live
func (p *partition) position(claimID uuid.UUID, now time.Duration) int {
	pos := 0
	for _, c := range p.Claims {
		if !c.IsLive(now) {
			continue
		}
		pos++
		if c.ClaimID == claimID {
			return pos
		}
	}
	return 0
}

// ClaimTable is the replicated state: claim rows grouped by lock,
// time-ordered within each lock, plus the segment log that drives
// compaction. Not safe for concurrent use; the FSM serializes access.
type ClaimTable struct {
	opts       Options
	partitions map[string]*partition
	active     *segment
	sealed     []*segment
	fencing    uint64
	nextSegID  uint64

	// effect time of the last applied command; command time never runs
	// backward past it
	lastApplied time.Duration
}

func NewClaimTable(opts Options) *ClaimTable {
	if opts.MinThreshold < 2 {
		opts.MinThreshold = 2
	}
	if opts.SegmentMaxRows <= 0 {
		opts.SegmentMaxRows = DefaultOptions().SegmentMaxRows
	}
	if opts.GCGrace <= 0 {
		opts.GCGrace = DefaultOptions().GCGrace
	}
	return &ClaimTable{
		opts:       opts,
		partitions: make(map[string]*partition),
		active:     &segment{ID: 1},
		nextSegID:  2,
	}
}

// updates the partition's holder after any mutation. a promoted claim gets
// a fresh fencing token; the counter is table-global and strictly monotonic
func (t *ClaimTable) refreshHolder(p *partition, now time.Duration) {
	h := p.holder(now)
	if h == nil {
		p.HolderID = uuid.Nil
		p.Token = 0
		return
	}
	if h.ClaimID != p.HolderID {
		t.fencing++
		p.HolderID = h.ClaimID
		p.Token = t.fencing
	}
}

func (t *ClaimTable) appendRow(ref types.ClaimRef) {
	t.active.Rows = append(t.active.Rows, ref)
	if len(t.active.Rows) >= t.opts.SegmentMaxRows {
		t.sealed = append(t.sealed, t.active)
		t.active = &segment{ID: t.nextSegID}
		t.nextSegID++
	}
}

func (t *ClaimTable) acquire(cmd types.AcquireClaimCmd, now time.Duration) (AcquireClaimResponse, error) {
	if cmd.TTL <= 0 {
		return AcquireClaimResponse{}, types.ErrInvalidClaimTTL
	}

	p, ok := t.partitions[cmd.LockID]
	if !ok {
		p = &partition{}
		t.partitions[cmd.LockID] = p
	}
	t.refreshHolder(p, now)

	// an owner re-acquiring a lock it already has a live claim on gets that
	// claim back instead of queueing a second one
	for _, c := range p.Claims {
		if c.OwnerID == cmd.OwnerID && c.IsLive(now) {
			return t.claimState(p, c, now), nil
		}
	}

	claim := &types.Claim{
		LockID:    cmd.LockID,
		ClaimID:   cmd.ClaimID,
		OwnerID:   cmd.OwnerID,
		TTL:       cmd.TTL,
		ExpiresAt: now + cmd.TTL,
	}

	// claims usually arrive in ID order; insert sorted to keep the
	// clustering invariant even when they don't
	idx := sort.Search(len(p.Claims), func(i int) bool {
		return types.CompareClaimIDs(p.Claims[i].ClaimID, claim.ClaimID) > 0
	})
	p.Claims = append(p.Claims, nil)
	copy(p.Claims[idx+1:], p.Claims[idx:])
	p.Claims[idx] = claim

	t.appendRow(types.ClaimRef{LockID: cmd.LockID, ClaimID: cmd.ClaimID})
	t.refreshHolder(p, now)

	return t.claimState(p, claim, now), nil
}

func (t *ClaimTable) claimState(p *partition, c *types.Claim, now time.Duration) AcquireClaimResponse {
	holding := p.HolderID == c.ClaimID
	resp := AcquireClaimResponse{
		ClaimID:   c.ClaimID,
		Position:  p.position(c.ClaimID, now),
		Holding:   holding,
		HolderID:  p.HolderID,
		ExpiresAt: c.ExpiresAt,
	}
	if holding {
		resp.FencingToken = p.Token
	}
	return resp
}

func (t *ClaimTable) heartbeat(cmd types.HeartbeatClaimCmd, now time.Duration) (HeartbeatClaimResponse, error) {
	p, ok := t.partitions[cmd.LockID]
	if !ok {
		return HeartbeatClaimResponse{}, types.ErrClaimNotFound
	}
	c := p.find(cmd.ClaimID)
	if c == nil {
		return HeartbeatClaimResponse{}, types.ErrClaimNotFound
	}
	if c.Released {
		return HeartbeatClaimResponse{}, types.ErrClaimReleased
	}
	if now >= c.ExpiresAt {
		return HeartbeatClaimResponse{}, types.ErrClaimExpired
	}

	c.ExpiresAt = now + c.TTL
	t.refreshHolder(p, now)

	return HeartbeatClaimResponse{
		ExpiresAt: c.ExpiresAt,
		Holding:   p.HolderID == c.ClaimID,
	}, nil
}

func (t *ClaimTable) release(cmd types.ReleaseClaimCmd, now time.Duration) (ReleaseClaimResponse, error) {
	p, ok := t.partitions[cmd.LockID]
	if !ok {
		return ReleaseClaimResponse{}, types.ErrClaimNotFound
	}
	c := p.find(cmd.ClaimID)
	if c == nil {
		return ReleaseClaimResponse{}, types.ErrClaimNotFound
	}
	if c.Released {
		return ReleaseClaimResponse{}, types.ErrClaimReleased
	}

	c.Released = true
	c.DeletedAt = now
	t.refreshHolder(p, now)

	return ReleaseClaimResponse{
		Released:  true,
		NewHolder: p.HolderID,
	}, nil
}

func (t *ClaimTable) expire(cmd types.ExpireClaimsCmd, now time.Duration) ExpireClaimsResponse {
	expired := 0
	touched := make(map[string]*partition)
	for _, ref := range cmd.Refs {
		p, ok := t.partitions[ref.LockID]
		if !ok {
			continue
		}
		c := p.find(ref.ClaimID)
		if c == nil || c.Released {
			continue
		}
		if now < c.ExpiresAt {
			// raced with a heartbeat; the claim stays
			continue
		}
		c.Released = true
		c.DeletedAt = now
		expired++
		touched[ref.LockID] = p
	}
	for _, p := range touched {
		t.refreshHolder(p, now)
	}
	return ExpireClaimsResponse{Expired: expired}
}

// refs of claims that have outlived their TTL without a heartbeat.
// read-only; the leader feeds the result back through the log as an
// ExpireClaimsCmd so every replica tombstones the same rows
func (t *ClaimTable) expiredClaims(now time.Duration) []types.ClaimRef {
	var refs []types.ClaimRef
	for lockID, p := range t.partitions {
		for _, c := range p.Claims {
			if !c.Released && now >= c.ExpiresAt {
				refs = append(refs, types.ClaimRef{LockID: lockID, ClaimID: c.ClaimID})
			}
		}
	}
	return refs
}

// size-tiered compaction: merge every tier holding at least MinThreshold
// sealed segments, dropping rows whose claim is a tombstone older than
// GCGrace. tombstones younger than the grace period always survive a merge
func (t *ClaimTable) compact(now time.Duration) CompactTableResponse {
	tiers := make(map[int][]*segment)
	for _, s := range t.sealed {
		tiers[s.tier()] = append(tiers[s.tier()], s)
	}

	resp := CompactTableResponse{}
	var remaining []*segment
	merged := make(map[uint64]bool)

	for _, segs := range tiers {
		if len(segs) < t.opts.MinThreshold {
			continue
		}
		out := &segment{ID: t.nextSegID}
		t.nextSegID++
		for _, s := range segs {
			merged[s.ID] = true
			for _, ref := range s.Rows {
				p, ok := t.partitions[ref.LockID]
				if !ok {
					continue
				}
				c := p.find(ref.ClaimID)
				if c == nil {
					continue
				}
				if c.Purgeable(now, t.opts.GCGrace) {
					t.purgeClaim(ref.LockID, p, ref.ClaimID)
					resp.Purged++
					continue
				}
				out.Rows = append(out.Rows, ref)
			}
		}
		resp.SegmentsMerged += len(segs)
		remaining = append(remaining, out)
	}

	if resp.SegmentsMerged == 0 {
		return resp
	}

	for _, s := range t.sealed {
		if !merged[s.ID] {
			remaining = append(remaining, s)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	t.sealed = remaining
	return resp
}

func (t *ClaimTable) purgeClaim(lockID string, p *partition, claimID uuid.UUID) {
	for i, c := range p.Claims {
		if c.ClaimID == claimID {
			p.Claims = append(p.Claims[:i], p.Claims[i+1:]...)
			break
		}
	}
	if len(p.Claims) == 0 {
		delete(t.partitions, lockID)
	}
}

// LockView is a read of one lock's current state.
type LockView struct {
	LockID       string        `json:"lock_id"`
	Holder       *types.Claim  `json:"holder,omitempty"`
	FencingToken uint64        `json:"fencing_token"`
	LiveClaims   int           `json:"live_claims"`
	ExpiresAt    time.Duration `json:"expires_at,omitempty"`
}

func (t *ClaimTable) lockView(lockID string, now time.Duration) (LockView, error) {
	view := LockView{LockID: lockID}
	p, ok := t.partitions[lockID]
	if !ok {
		return view, types.ErrLockNotFound
	}
	for _, c := range p.Claims {
		if c.IsLive(now) {
			view.LiveClaims++
		}
	}
	// holder promotion only happens through the replicated log; a claim whose
	// predecessors expired is not reported as holder until the expiry sweep
	// (or another mutation) has promoted it and minted its token
	h := p.holder(now)
	if h == nil || h.ClaimID != p.HolderID {
		return view, types.ErrLockNotFound
	}
	holder := *h
	view.Holder = &holder
	view.FencingToken = p.Token
	view.ExpiresAt = h.ExpiresAt
	return view, nil
}
