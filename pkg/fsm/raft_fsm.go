package fsm

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"

	"github.com/dian4554/otter/pkg/types"
)

// adapter to bridge Raft FSM with the claim table FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM(opts Options) *RaftFSM {
	return &RaftFSM{
		fsm: NewFSM(opts),
	}
}

func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

func (rf *RaftFSM) Apply(log *raft.Log) any {
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return err
	}

	result, err := rf.fsm.Apply(cmd)
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current claim table
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	t := rf.fsm.table
	snap := &fsmSnapshot{
		Options:     t.opts,
		Partitions:  make(map[string]partitionSnapshot, len(t.partitions)),
		Fencing:     t.fencing,
		NextSegID:   t.nextSegID,
		Active:      copySegment(t.active),
		LastApplied: t.lastApplied,
	}

	for lockID, p := range t.partitions {
		ps := partitionSnapshot{
			HolderID: p.HolderID,
			Token:    p.Token,
			Claims:   make([]types.Claim, 0, len(p.Claims)),
		}
		for _, c := range p.Claims {
			ps.Claims = append(ps.Claims, *c)
		}
		snap.Partitions[lockID] = ps
	}

	for _, s := range t.sealed {
		snap.Sealed = append(snap.Sealed, copySegment(s))
	}

	return snap, nil
}

// restores the claim table from a snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	t := NewClaimTable(snap.Options)
	t.fencing = snap.Fencing
	t.nextSegID = snap.NextSegID
	t.lastApplied = snap.LastApplied
	active := snap.Active
	t.active = &active

	for lockID, ps := range snap.Partitions {
		p := &partition{
			HolderID: ps.HolderID,
			Token:    ps.Token,
			Claims:   make([]*types.Claim, 0, len(ps.Claims)),
		}
		for i := range ps.Claims {
			c := ps.Claims[i]
			p.Claims = append(p.Claims, &c)
		}
		t.partitions[lockID] = p
	}

	for _, s := range snap.Sealed {
		seg := s
		t.sealed = append(t.sealed, &seg)
	}

	rf.fsm.table = t
	return nil
}

func copySegment(s *segment) segment {
	out := segment{ID: s.ID, Rows: make([]types.ClaimRef, len(s.Rows))}
	copy(out.Rows, s.Rows)
	return out
}

type partitionSnapshot struct {
	Claims   []types.Claim `json:"claims"`
	HolderID uuid.UUID     `json:"holder_id"`
	Token    uint64        `json:"token"`
}

// point-in-time snapshot of the claim table
type fsmSnapshot struct {
	Options     Options                      `json:"options"`
	Partitions  map[string]partitionSnapshot `json:"partitions"`
	Sealed      []segment                    `json:"sealed"`
	Active      segment                      `json:"active"`
	Fencing     uint64                       `json:"fencing"`
	NextSegID   uint64                       `json:"next_seg_id"`
	LastApplied time.Duration                `json:"last_applied"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// called when snapshot is no longer needed
func (s *fsmSnapshot) Release() {}

var _ raft.FSM = (*RaftFSM)(nil)

// Options needs stable JSON for snapshots.
type optionsJSON struct {
	GCGrace        time.Duration `json:"gc_grace"`
	MinThreshold   int           `json:"min_threshold"`
	SegmentMaxRows int           `json:"segment_max_rows"`
}

func (o Options) MarshalJSON() ([]byte, error) {
	return json.Marshal(optionsJSON(o))
}

func (o *Options) UnmarshalJSON(data []byte) error {
	var v optionsJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Options(v)
	return nil
}
