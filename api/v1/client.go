package apiv1

import (
	"context"

	"google.golang.org/grpc"
)

// LockServiceClient is the client API for the lock service.
type LockServiceClient interface {
	AcquireClaim(ctx context.Context, in *AcquireClaimRequest, opts ...grpc.CallOption) (*AcquireClaimResponse, error)
	ReleaseClaim(ctx context.Context, in *ReleaseClaimRequest, opts ...grpc.CallOption) (*ReleaseClaimResponse, error)
	GetLock(ctx context.Context, in *GetLockRequest, opts ...grpc.CallOption) (*GetLockResponse, error)
	GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error)
	Join(ctx context.Context, in *JoinRequest, opts ...grpc.CallOption) (*JoinResponse, error)
	Heartbeat(ctx context.Context, opts ...grpc.CallOption) (LockService_HeartbeatClient, error)
}

type lockServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLockServiceClient(cc grpc.ClientConnInterface) LockServiceClient {
	return &lockServiceClient{cc: cc}
}

// every call rides the JSON codec
func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *lockServiceClient) AcquireClaim(ctx context.Context, in *AcquireClaimRequest, opts ...grpc.CallOption) (*AcquireClaimResponse, error) {
	out := new(AcquireClaimResponse)
	if err := c.cc.Invoke(ctx, methodAcquireClaim, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) ReleaseClaim(ctx context.Context, in *ReleaseClaimRequest, opts ...grpc.CallOption) (*ReleaseClaimResponse, error) {
	out := new(ReleaseClaimResponse)
	if err := c.cc.Invoke(ctx, methodReleaseClaim, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) GetLock(ctx context.Context, in *GetLockRequest, opts ...grpc.CallOption) (*GetLockResponse, error) {
	out := new(GetLockResponse)
	if err := c.cc.Invoke(ctx, methodGetLock, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, methodGetStatus, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lockServiceClient) Join(ctx context.Context, in *JoinRequest, opts ...grpc.CallOption) (*JoinResponse, error) {
	out := new(JoinResponse)
	if err := c.cc.Invoke(ctx, methodJoin, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// LockService_HeartbeatClient is the client side of the heartbeat stream.
type LockService_HeartbeatClient interface {
	Send(*HeartbeatRequest) error
	Recv() (*HeartbeatResponse, error)
	grpc.ClientStream
}

type lockServiceHeartbeatClient struct {
	grpc.ClientStream
}

func (s *lockServiceHeartbeatClient) Send(m *HeartbeatRequest) error {
	return s.ClientStream.SendMsg(m)
}

func (s *lockServiceHeartbeatClient) Recv() (*HeartbeatResponse, error) {
	m := new(HeartbeatResponse)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *lockServiceClient) Heartbeat(ctx context.Context, opts ...grpc.CallOption) (LockService_HeartbeatClient, error) {
	stream, err := c.cc.NewStream(ctx, &LockServiceDesc.Streams[0], methodHeartbeat, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &lockServiceHeartbeatClient{stream}, nil
}
