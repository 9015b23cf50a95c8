package server

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/dian4554/otter/api/v1"
	"github.com/dian4554/otter/pkg/fsm"
	"github.com/dian4554/otter/pkg/metrics"
	"github.com/dian4554/otter/pkg/raft"
	"github.com/dian4554/otter/pkg/types"
)

type Server struct {
	pb.UnimplementedLockServiceServer
	node *raft.Node
}

// wraps the raft node into a gRPC server
func NewServer(node *raft.Node) *Server {
	return &Server{
		node: node,
	}
}

func (s *Server) AcquireClaim(ctx context.Context, req *pb.AcquireClaimRequest) (*pb.AcquireClaimResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	//validate request
	if req.OwnerId == "" || req.LockId == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id and lock_id required")
	}
	if req.TtlSeconds <= 0 {
		return nil, status.Error(codes.InvalidArgument, "ttl_seconds must be greater than 0")
	}

	claimID, err := types.NewClaimID()
	if err != nil {
		return nil, status.Error(codes.Internal, "generate claim id")
	}

	start := time.Now()
	result, err := s.node.Apply(types.AcquireClaimCmd{
		LockID:  req.LockId,
		OwnerID: req.OwnerId,
		ClaimID: claimID,
		TTL:     time.Duration(req.TtlSeconds) * time.Second,
	})
	metrics.ClaimAcquireDuration.WithLabelValues(req.LockId).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClaimAcquireTotal.WithLabelValues(req.LockId, "failure").Inc()
		return nil, toGRPCError(err)
	}
	metrics.ClaimAcquireTotal.WithLabelValues(req.LockId, "success").Inc()

	resp := result.(fsm.AcquireClaimResponse)
	return &pb.AcquireClaimResponse{
		ClaimId:      resp.ClaimID.String(),
		Position:     int32(resp.Position),
		Holding:      resp.Holding,
		HolderId:     resp.HolderID.String(),
		FencingToken: resp.FencingToken,
		TtlSeconds:   req.TtlSeconds,
	}, nil
}

func (s *Server) ReleaseClaim(ctx context.Context, req *pb.ReleaseClaimRequest) (*pb.ReleaseClaimResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	if req.LockId == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_id required")
	}
	claimID, err := uuid.Parse(req.ClaimId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "claim_id must be a UUID")
	}

	result, err := s.node.Apply(types.ReleaseClaimCmd{
		LockID:  req.LockId,
		ClaimID: claimID,
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	metrics.ClaimReleaseTotal.WithLabelValues(req.LockId).Inc()

	resp := result.(fsm.ReleaseClaimResponse)
	out := &pb.ReleaseClaimResponse{Released: resp.Released}
	if resp.NewHolder != uuid.Nil {
		out.NewHolderId = resp.NewHolder.String()
	}
	return out, nil
}

func (s *Server) GetLock(ctx context.Context, req *pb.GetLockRequest) (*pb.GetLockResponse, error) {
	if req.LockId == "" {
		return nil, status.Error(codes.InvalidArgument, "lock_id required")
	}

	view, err := s.node.LockView(req.LockId)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return &pb.GetLockResponse{
		LockId:        view.LockID,
		HolderClaimId: view.Holder.ClaimID.String(),
		HolderOwnerId: view.Holder.OwnerID,
		FencingToken:  view.FencingToken,
		LiveClaims:    int32(view.LiveClaims),
		TtlSeconds:    int64(view.Holder.TTL.Seconds()),
	}, nil
}

func (s *Server) Heartbeat(stream pb.LockService_HeartbeatServer) error {
	for {
		//receive heartbeat from client
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if !s.node.IsLeader() {
			return notLeaderError(s.node.GetLeader())
		}

		claimID, err := uuid.Parse(req.ClaimId)
		if err != nil {
			return status.Error(codes.InvalidArgument, "claim_id must be a UUID")
		}

		//renew the claim
		result, err := s.node.Apply(types.HeartbeatClaimCmd{
			LockID:  req.LockId,
			ClaimID: claimID,
		})
		if err != nil {
			metrics.HeartbeatTotal.WithLabelValues("failure").Inc()
			return toGRPCError(err)
		}
		metrics.HeartbeatTotal.WithLabelValues("success").Inc()

		resp := result.(fsm.HeartbeatClaimResponse)
		err = stream.Send(&pb.HeartbeatResponse{
			LockId:     req.LockId,
			ClaimId:    req.ClaimId,
			TtlSeconds: int64(resp.ExpiresAt.Seconds()),
			Holding:    resp.Holding,
		})
		if err != nil {
			return err
		}
	}
}

func (s *Server) GetStatus(ctx context.Context, req *pb.GetStatusRequest) (*pb.GetStatusResponse, error) {
	stats := s.node.Stats()

	if s.node.IsLeader() {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	metrics.ClaimsLive.Set(float64(stats.LiveClaims))
	metrics.LocksActive.Set(float64(stats.Locks))

	return &pb.GetStatusResponse{
		NodeId:        s.node.GetNodeID().String(),
		IsLeader:      s.node.IsLeader(),
		LeaderAddress: s.node.GetLeader(),
		ClusterSize:   int32(s.node.GetClusterSize()),
		State:         s.node.GetState().String(),
		Stats: &pb.TableStats{
			Locks:          int32(stats.Locks),
			Claims:         int32(stats.Claims),
			LiveClaims:     int32(stats.LiveClaims),
			Tombstones:     int32(stats.Tombstones),
			Segments:       int32(stats.Segments),
			FencingCounter: stats.FencingCounter,
		},
	}, nil
}

func (s *Server) Join(ctx context.Context, req *pb.JoinRequest) (*pb.JoinResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}
	if req.NodeId == "" || req.RaftAddress == "" {
		return nil, status.Error(codes.InvalidArgument, "node_id and raft_address required")
	}

	if err := s.node.Join(req.NodeId, req.RaftAddress); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &pb.JoinResponse{}, nil
}
