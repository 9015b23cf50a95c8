package client

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	pb "github.com/dian4554/otter/api/v1"
	"github.com/dian4554/otter/pkg/raft"
	"github.com/dian4554/otter/pkg/server"
	"github.com/dian4554/otter/pkg/types"
)

// starts a single-node cluster with its gRPC front and returns the address
func startTestServer(t *testing.T, raftPort, grpcPort int) string {
	t.Helper()

	node, err := raft.NewNode(&raft.Config{
		NodeID:    uuid.New(),
		BindAddr:  fmt.Sprintf("127.0.0.1:%d", raftPort),
		DataDir:   t.TempDir(),
		Bootstrap: true,
		Logger:    hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, node.WaitForLeader(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go node.RunMaintenance(ctx, 100*time.Millisecond, 1000)

	grpcServer := grpc.NewServer()
	pb.RegisterLockServiceServer(grpcServer, server.NewServer(node))

	addr := fmt.Sprintf("127.0.0.1:%d", grpcPort)
	listener, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	go grpcServer.Serve(listener)

	t.Cleanup(func() {
		cancel()
		grpcServer.Stop()
		node.Shutdown()
	})
	return addr
}

func newStartedClient(t *testing.T, addr, ownerID string) *Client {
	t.Helper()
	c, err := NewClient(addr, ownerID, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background(), 3*time.Second))
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestTryAcquireAndRelease(t *testing.T) {
	addr := startTestServer(t, 15000, 15001)
	c := newStartedClient(t, addr, "worker-1")
	ctx := context.Background()

	claim, err := c.TryAcquire(ctx, "jobs/nightly", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "jobs/nightly", claim.LockID())
	assert.Greater(t, claim.Token(), uint64(0))

	view, err := c.Lock(ctx, "jobs/nightly")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", view.HolderOwnerId)
	assert.Equal(t, claim.Token(), view.FencingToken)

	require.NoError(t, claim.Release(ctx))

	_, err = c.Lock(ctx, "jobs/nightly")
	assert.Error(t, err, "released lock has no holder")
}

// TestTryAcquireContention verifies a losing TryAcquire withdraws its claim
// instead of queueing
func TestTryAcquireContention(t *testing.T) {
	addr := startTestServer(t, 15100, 15101)
	winner := newStartedClient(t, addr, "worker-1")
	loser := newStartedClient(t, addr, "worker-2")
	ctx := context.Background()

	claim, err := winner.TryAcquire(ctx, "jobs/nightly", 10*time.Second)
	require.NoError(t, err)

	_, err = loser.TryAcquire(ctx, "jobs/nightly", 10*time.Second)
	assert.ErrorIs(t, err, types.ErrLockHeld)

	view, err := loser.Lock(ctx, "jobs/nightly")
	require.NoError(t, err)
	assert.Equal(t, int32(1), view.LiveClaims, "the losing claim was withdrawn")

	require.NoError(t, claim.Release(ctx))

	// with the lock free the loser wins immediately
	claim2, err := loser.TryAcquire(ctx, "jobs/nightly", 10*time.Second)
	require.NoError(t, err)
	assert.Greater(t, claim2.Token(), claim.Token(), "later holder has a larger token")
}

// TestAcquireBlocksUntilReleased verifies Acquire queues a claim and wins
// once the holder releases
func TestAcquireBlocksUntilReleased(t *testing.T) {
	addr := startTestServer(t, 15200, 15201)
	holder := newStartedClient(t, addr, "worker-1")
	waiter := newStartedClient(t, addr, "worker-2")
	ctx := context.Background()

	held, err := holder.TryAcquire(ctx, "jobs/nightly", 30*time.Second)
	require.NoError(t, err)

	acquired := make(chan *Claim, 1)
	errCh := make(chan error, 1)
	go func() {
		claim, err := waiter.Acquire(ctx, "jobs/nightly", 30*time.Second)
		if err != nil {
			errCh <- err
			return
		}
		acquired <- claim
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case err := <-errCh:
		t.Fatalf("acquire failed: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, held.Release(ctx))

	select {
	case claim := <-acquired:
		assert.Greater(t, claim.Token(), held.Token())
	case err := <-errCh:
		t.Fatalf("acquire failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired after release")
	}
}

// TestAcquireWithdrawsOnContextCancel verifies a cancelled waiter removes
// its queued claim
func TestAcquireWithdrawsOnContextCancel(t *testing.T) {
	addr := startTestServer(t, 15300, 15301)
	holder := newStartedClient(t, addr, "worker-1")
	waiter := newStartedClient(t, addr, "worker-2")

	_, err := holder.TryAcquire(context.Background(), "jobs/nightly", 30*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	_, err = waiter.Acquire(ctx, "jobs/nightly", 30*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		view, err := holder.Lock(context.Background(), "jobs/nightly")
		return err == nil && view.LiveClaims == 1
	}, 3*time.Second, 50*time.Millisecond, "cancelled waiter's claim is withdrawn")
}

// TestHeartbeatKeepsClaimAlive verifies the renewal stream outlives the TTL
func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	addr := startTestServer(t, 15400, 15401)
	c := newStartedClient(t, addr, "worker-1")
	ctx := context.Background()

	// the heartbeat loop renews every second; the TTL alone would lapse
	claim, err := c.TryAcquire(ctx, "jobs/nightly", 2*time.Second)
	require.NoError(t, err)

	time.Sleep(3 * time.Second)

	view, err := c.Lock(ctx, "jobs/nightly")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", view.HolderOwnerId, "heartbeats kept the claim alive")
	require.NoError(t, claim.Release(ctx))
}

func TestStatus(t *testing.T) {
	addr := startTestServer(t, 15500, 15501)
	c := newStartedClient(t, addr, "worker-1")

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLeader)
	assert.Equal(t, int32(1), st.ClusterSize)
	assert.NotNil(t, st.Stats)
}

// TestClaimLocker verifies the blocking Locker adapter hands out working
// release functions
func TestClaimLocker(t *testing.T) {
	addr := startTestServer(t, 15600, 15601)
	c := newStartedClient(t, addr, "worker-1")
	locker := NewClaimLocker(c, 10*time.Second)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "groups/tenant-1/group-1")
	require.NoError(t, err)

	view, err := c.Lock(ctx, "groups/tenant-1/group-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", view.HolderOwnerId)

	release()

	require.Eventually(t, func() bool {
		_, err := c.Lock(ctx, "groups/tenant-1/group-1")
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
}
