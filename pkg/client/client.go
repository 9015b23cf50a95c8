package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/dian4554/otter/api/v1"
	"github.com/dian4554/otter/pkg/types"
)

// how often losing contenders re-read their claim's position
const defaultPollInterval = 200 * time.Millisecond

type heldClaim struct {
	lockID  string
	claimID string
	ttl     time.Duration
}

// Client talks to the lock service on behalf of one owner. All claims it
// inserts carry the owner ID, and one heartbeat stream renews every claim
// it currently holds or is queued on.
type Client struct {
	addr    string
	ownerID string
	conn    *grpc.ClientConn
	client  pb.LockServiceClient
	log     hclog.Logger

	mu        sync.Mutex
	claims    map[string]*heldClaim // lock id -> claim
	heartbeat pb.LockService_HeartbeatClient

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(addr, ownerID string, logger hclog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if logger == nil {
		logger = hclog.Default()
	}

	return &Client{
		addr:    addr,
		ownerID: ownerID,
		conn:    conn,
		client:  pb.NewLockServiceClient(conn),
		log:     logger.Named("lock-client"),
		claims:  make(map[string]*heldClaim),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start opens the heartbeat stream and begins renewing claims.
// heartbeatBase should be at most the smallest TTL this client will use;
// claims are renewed every heartbeatBase/3
func (c *Client) Start(ctx context.Context, heartbeatBase time.Duration) error {
	stream, err := c.client.Heartbeat(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat stream: %w", err)
	}

	c.mu.Lock()
	c.heartbeat = stream
	c.mu.Unlock()

	go c.heartbeatLoop(ctx, heartbeatBase/3)

	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failureCount int

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			stream := c.heartbeat
			pending := make([]*heldClaim, 0, len(c.claims))
			for _, cl := range c.claims {
				pending = append(pending, cl)
			}
			c.mu.Unlock()

			if stream == nil {
				continue
			}

			for _, cl := range pending {
				if err := stream.Send(&pb.HeartbeatRequest{LockId: cl.lockID, ClaimId: cl.claimID}); err != nil {
					failureCount++
					c.log.Warn("heartbeat send failed", "lock_id", cl.lockID, "attempt", failureCount, "error", err)
					break
				}
				if _, err := stream.Recv(); err != nil {
					failureCount++
					c.log.Warn("heartbeat recv failed", "lock_id", cl.lockID, "attempt", failureCount, "error", err)
					break
				}
			}

			if failureCount >= 2 {
				c.log.Error("claims may expire soon, heartbeat failing", "failures", failureCount)
			}
			if failureCount > 0 && len(pending) > 0 {
				continue
			}
			failureCount = 0

		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// TryAcquire inserts a claim and returns it only if it immediately holds the
// lock. A losing claim is withdrawn so it does not queue.
func (c *Client) TryAcquire(ctx context.Context, lockID string, ttl time.Duration) (*Claim, error) {
	resp, err := c.client.AcquireClaim(ctx, &pb.AcquireClaimRequest{
		LockId:     lockID,
		OwnerId:    c.ownerID,
		TtlSeconds: int64(ttl.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("acquire claim: %w", err)
	}

	if !resp.Holding {
		_, relErr := c.client.ReleaseClaim(ctx, &pb.ReleaseClaimRequest{
			LockId:  lockID,
			ClaimId: resp.ClaimId,
		})
		if relErr != nil {
			c.log.Warn("failed to withdraw losing claim", "lock_id", lockID, "error", relErr)
		}
		return nil, types.ErrLockHeld
	}

	c.track(lockID, resp.ClaimId, ttl)
	return &Claim{
		client:       c,
		lockID:       lockID,
		claimID:      resp.ClaimId,
		fencingToken: resp.FencingToken,
	}, nil
}

// Acquire inserts a claim and waits until it is the earliest live claim.
// Re-acquiring simply re-reads the claim's position, so polling is a repeat
// of the same request. The claim is withdrawn if ctx ends first.
func (c *Client) Acquire(ctx context.Context, lockID string, ttl time.Duration) (*Claim, error) {
	req := &pb.AcquireClaimRequest{
		LockId:     lockID,
		OwnerId:    c.ownerID,
		TtlSeconds: int64(ttl.Seconds()),
	}

	resp, err := c.client.AcquireClaim(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("acquire claim: %w", err)
	}
	c.track(lockID, resp.ClaimId, ttl)

	for !resp.Holding {
		select {
		case <-ctx.Done():
			c.untrack(lockID)
			// withdraw with a fresh context; ctx is already dead
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, relErr := c.client.ReleaseClaim(relCtx, &pb.ReleaseClaimRequest{
				LockId:  lockID,
				ClaimId: resp.ClaimId,
			})
			cancel()
			if relErr != nil {
				c.log.Warn("failed to withdraw claim", "lock_id", lockID, "error", relErr)
			}
			return nil, ctx.Err()
		case <-time.After(defaultPollInterval):
		}

		resp, err = c.client.AcquireClaim(ctx, req)
		if err != nil {
			c.untrack(lockID)
			return nil, fmt.Errorf("poll claim: %w", err)
		}
	}

	return &Claim{
		client:       c,
		lockID:       lockID,
		claimID:      resp.ClaimId,
		fencingToken: resp.FencingToken,
	}, nil
}

func (c *Client) track(lockID, claimID string, ttl time.Duration) {
	c.mu.Lock()
	c.claims[lockID] = &heldClaim{lockID: lockID, claimID: claimID, ttl: ttl}
	c.mu.Unlock()
}

func (c *Client) untrack(lockID string) {
	c.mu.Lock()
	delete(c.claims, lockID)
	c.mu.Unlock()
}

func (c *Client) release(ctx context.Context, lockID, claimID string) error {
	c.untrack(lockID)
	_, err := c.client.ReleaseClaim(ctx, &pb.ReleaseClaimRequest{
		LockId:  lockID,
		ClaimId: claimID,
	})
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// Lock reads a lock's current holder.
func (c *Client) Lock(ctx context.Context, lockID string) (*pb.GetLockResponse, error) {
	return c.client.GetLock(ctx, &pb.GetLockRequest{LockId: lockID})
}

func (c *Client) Status(ctx context.Context) (*pb.GetStatusResponse, error) {
	return c.client.GetStatus(ctx, &pb.GetStatusRequest{})
}

// Join asks the node behind this client to add a new voter to the cluster.
func (c *Client) Join(ctx context.Context, nodeID, raftAddr string) error {
	_, err := c.client.Join(ctx, &pb.JoinRequest{NodeId: nodeID, RaftAddress: raftAddr})
	return err
}

func (c *Client) OwnerID() string {
	return c.ownerID
}

func (c *Client) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	if c.heartbeat != nil {
		c.heartbeat.CloseSend()
	}
	c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
