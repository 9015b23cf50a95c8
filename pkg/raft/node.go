package raft

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/dian4554/otter/pkg/fsm"
	"github.com/dian4554/otter/pkg/metrics"
	"github.com/dian4554/otter/pkg/storage"
	"github.com/dian4554/otter/pkg/types"
)

// wraps a raft instance around the claim table and provides a clean api
type Node struct {
	raft    *raft.Raft
	fsm     *fsm.FSM
	raftFSM *fsm.RaftFSM
	cfg     *Config
	log     hclog.Logger
}

type Config struct {
	NodeID    uuid.UUID   //unique ID for this node
	BindAddr  string      //net addr to bind Raft communication
	DataDir   string      //data directory for Raft storage
	Bootstrap bool        //if this is the first node in the cluster
	Table     fsm.Options //claim table options
	Logger    hclog.Logger
}

func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	logger = logger.Named("raft")

	raftFSM := fsm.NewRaftFSM(cfg.Table)
	stateMachine := raftFSM.GetFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.Logger = logger

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	raftStorage, err := storage.NewBoltDBStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind addr: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}

		r.BootstrapCluster(configuration)
	}

	return &Node{
		raft:    r,
		fsm:     stateMachine,
		raftFSM: raftFSM,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// apply a command to the Raft cluster. the command is stamped with the
// leader's current time before it enters the log, so every replica (and
// every replay) applies it at the same instant
func (n *Node) Apply(cmd types.Command) (any, error) {
	cmd = types.StampCommand(cmd, n.fsm.CurrentTime())

	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	// the raft FSM returns domain errors as values
	if err, ok := future.Response().(error); ok {
		return nil, err
	}

	return future.Response(), nil
}

// adds a voting member to the cluster
func (n *Node) Join(nodeID, addr string) error {
	if !n.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	n.log.Info("received join request", "node_id", nodeID, "addr", addr)

	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	return nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

func (n *Node) GetNodeID() uuid.UUID {
	return n.cfg.NodeID
}

func (n *Node) GetState() raft.RaftState {
	return n.raft.State()
}

func (n *Node) GetClusterSize() int {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return 0
	}
	return len(future.Configuration().Servers)
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// returns the current state of a lock (local read)
func (n *Node) LockView(lockID string) (fsm.LockView, error) {
	return n.fsm.LockView(lockID)
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// RunMaintenance drives expiry sweeps and compaction while this node is
// leader. Expired claims are fed back through the log so every replica
// tombstones the same rows; compaction runs every compactEvery sweeps.
func (n *Node) RunMaintenance(ctx context.Context, interval time.Duration, compactEvery int) {
	if compactEvery <= 0 {
		compactEvery = 10
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !n.IsLeader() {
				continue
			}

			if refs := n.fsm.ExpiredClaims(); len(refs) > 0 {
				result, err := n.Apply(types.ExpireClaimsCmd{Refs: refs})
				if err != nil {
					n.log.Warn("expiry sweep failed", "error", err)
				} else if resp, ok := result.(fsm.ExpireClaimsResponse); ok && resp.Expired > 0 {
					metrics.ClaimExpireTotal.Add(float64(resp.Expired))
					n.log.Debug("expired claims", "count", resp.Expired)
				}
			}

			ticks++
			if ticks%compactEvery == 0 {
				result, err := n.Apply(types.CompactTableCmd{})
				if err != nil {
					n.log.Warn("compaction failed", "error", err)
				} else if resp, ok := result.(fsm.CompactTableResponse); ok {
					metrics.CompactionsTotal.Inc()
					if resp.Purged > 0 {
						metrics.TombstonesPurgedTotal.Add(float64(resp.Purged))
					}
					if resp.SegmentsMerged > 0 {
						n.log.Debug("compacted claim table",
							"segments_merged", resp.SegmentsMerged, "purged", resp.Purged)
					}
				}
			}
		}
	}
}

// gracefully shuts down the Raft node
func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}
