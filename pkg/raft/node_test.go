package raft

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dian4554/otter/pkg/fsm"
	"github.com/dian4554/otter/pkg/types"
)

func newTestNode(t *testing.T, port int) *Node {
	t.Helper()

	node, err := NewNode(&Config{
		NodeID:    uuid.New(),
		BindAddr:  fmt.Sprintf("127.0.0.1:%d", port),
		DataDir:   t.TempDir(),
		Bootstrap: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { node.Shutdown() })

	require.NoError(t, node.WaitForLeader(5*time.Second))
	return node
}

func mustClaimID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := types.NewClaimID()
	require.NoError(t, err)
	return id
}

func TestSingleNodeSmoke(t *testing.T) {
	node := newTestNode(t, 14000)

	assert.True(t, node.IsLeader())
	assert.Equal(t, 1, node.GetClusterSize())

	result, err := node.Apply(types.AcquireClaimCmd{
		LockID:  "jobs/nightly",
		OwnerID: "worker-1",
		ClaimID: mustClaimID(t),
		TTL:     30 * time.Second,
	})
	require.NoError(t, err)

	resp := result.(fsm.AcquireClaimResponse)
	assert.True(t, resp.Holding)
	assert.Greater(t, resp.FencingToken, uint64(0))

	view, err := node.LockView("jobs/nightly")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", view.Holder.OwnerID)
}

// TestConcurrentClaims verifies that contenders racing through the log all
// get a claim and the one with the earliest claim ID ends up holding
func TestConcurrentClaims(t *testing.T) {
	node := newTestNode(t, 14100)

	const contenders = 3
	ids := make([]uuid.UUID, contenders)
	for i := range ids {
		ids[i] = mustClaimID(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = node.Apply(types.AcquireClaimCmd{
				LockID:  "contended-lock",
				OwnerID: fmt.Sprintf("worker-%d", idx),
				ClaimID: ids[idx],
				TTL:     30 * time.Second,
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < contenders; i++ {
		require.NoError(t, errs[i])
	}

	view, err := node.LockView("contended-lock")
	require.NoError(t, err)
	assert.Equal(t, ids[0], view.Holder.ClaimID, "earliest claim ID holds")
	assert.Equal(t, contenders, view.LiveClaims)
	assert.Greater(t, view.FencingToken, uint64(0))

	stats := node.Stats()
	assert.Equal(t, contenders, stats.Claims)
}

// TestReleasePromotesThroughLog verifies a release hands the lock to the
// next queued claim with a larger fencing token
func TestReleasePromotesThroughLog(t *testing.T) {
	node := newTestNode(t, 14200)

	first, err := node.Apply(types.AcquireClaimCmd{
		LockID: "lock-a", OwnerID: "worker-1", ClaimID: mustClaimID(t), TTL: 30 * time.Second,
	})
	require.NoError(t, err)
	second, err := node.Apply(types.AcquireClaimCmd{
		LockID: "lock-a", OwnerID: "worker-2", ClaimID: mustClaimID(t), TTL: 30 * time.Second,
	})
	require.NoError(t, err)

	firstResp := first.(fsm.AcquireClaimResponse)
	secondResp := second.(fsm.AcquireClaimResponse)
	require.True(t, firstResp.Holding)
	require.False(t, secondResp.Holding)

	rel, err := node.Apply(types.ReleaseClaimCmd{LockID: "lock-a", ClaimID: firstResp.ClaimID})
	require.NoError(t, err)
	assert.Equal(t, secondResp.ClaimID, rel.(fsm.ReleaseClaimResponse).NewHolder)

	view, err := node.LockView("lock-a")
	require.NoError(t, err)
	assert.Equal(t, secondResp.ClaimID, view.Holder.ClaimID)
	assert.Greater(t, view.FencingToken, firstResp.FencingToken)
}

// TestMaintenanceExpiresClaims verifies the leader sweep tombstones a
// lapsed claim and promotes its successor
func TestMaintenanceExpiresClaims(t *testing.T) {
	node := newTestNode(t, 14300)

	_, err := node.Apply(types.AcquireClaimCmd{
		LockID: "lock-a", OwnerID: "worker-1", ClaimID: mustClaimID(t), TTL: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	second, err := node.Apply(types.AcquireClaimCmd{
		LockID: "lock-a", OwnerID: "worker-2", ClaimID: mustClaimID(t), TTL: time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.RunMaintenance(ctx, 100*time.Millisecond, 100)

	require.Eventually(t, func() bool {
		view, err := node.LockView("lock-a")
		if err != nil {
			return false
		}
		return view.Holder.ClaimID == second.(fsm.AcquireClaimResponse).ClaimID
	}, 5*time.Second, 100*time.Millisecond, "sweep should promote the second claim")

	stats := node.Stats()
	assert.Equal(t, 1, stats.Tombstones)
}

func TestApplyDomainError(t *testing.T) {
	node := newTestNode(t, 14400)

	_, err := node.Apply(types.ReleaseClaimCmd{LockID: "nope", ClaimID: mustClaimID(t)})
	assert.ErrorIs(t, err, types.ErrClaimNotFound)
}
