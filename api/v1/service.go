package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "otter.v1.LockService"

	methodAcquireClaim = "/otter.v1.LockService/AcquireClaim"
	methodReleaseClaim = "/otter.v1.LockService/ReleaseClaim"
	methodGetLock      = "/otter.v1.LockService/GetLock"
	methodGetStatus    = "/otter.v1.LockService/GetStatus"
	methodJoin         = "/otter.v1.LockService/Join"
	methodHeartbeat    = "/otter.v1.LockService/Heartbeat"
)

// LockServiceServer is the server API for the lock service.
type LockServiceServer interface {
	AcquireClaim(context.Context, *AcquireClaimRequest) (*AcquireClaimResponse, error)
	ReleaseClaim(context.Context, *ReleaseClaimRequest) (*ReleaseClaimResponse, error)
	GetLock(context.Context, *GetLockRequest) (*GetLockResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	Join(context.Context, *JoinRequest) (*JoinResponse, error)
	Heartbeat(LockService_HeartbeatServer) error
}

// UnimplementedLockServiceServer may be embedded for forward compatibility.
type UnimplementedLockServiceServer struct{}

func (UnimplementedLockServiceServer) AcquireClaim(context.Context, *AcquireClaimRequest) (*AcquireClaimResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AcquireClaim not implemented")
}

func (UnimplementedLockServiceServer) ReleaseClaim(context.Context, *ReleaseClaimRequest) (*ReleaseClaimResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReleaseClaim not implemented")
}

func (UnimplementedLockServiceServer) GetLock(context.Context, *GetLockRequest) (*GetLockResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLock not implemented")
}

func (UnimplementedLockServiceServer) GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

func (UnimplementedLockServiceServer) Join(context.Context, *JoinRequest) (*JoinResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Join not implemented")
}

func (UnimplementedLockServiceServer) Heartbeat(LockService_HeartbeatServer) error {
	return status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}

func RegisterLockServiceServer(s grpc.ServiceRegistrar, srv LockServiceServer) {
	s.RegisterService(&LockServiceDesc, srv)
}

func acquireClaimHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AcquireClaimRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).AcquireClaim(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAcquireClaim}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).AcquireClaim(ctx, req.(*AcquireClaimRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseClaimHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReleaseClaimRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).ReleaseClaim(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReleaseClaim}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).ReleaseClaim(ctx, req.(*ReleaseClaimRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getLockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetLockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).GetLock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetLock}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).GetLock(ctx, req.(*GetLockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func joinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LockServiceServer).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodJoin}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LockServiceServer).Join(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LockService_HeartbeatServer is the server side of the heartbeat stream.
type LockService_HeartbeatServer interface {
	Send(*HeartbeatResponse) error
	Recv() (*HeartbeatRequest, error)
	grpc.ServerStream
}

type lockServiceHeartbeatServer struct {
	grpc.ServerStream
}

func (s *lockServiceHeartbeatServer) Send(m *HeartbeatResponse) error {
	return s.ServerStream.SendMsg(m)
}

func (s *lockServiceHeartbeatServer) Recv() (*HeartbeatRequest, error) {
	m := new(HeartbeatRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func heartbeatHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LockServiceServer).Heartbeat(&lockServiceHeartbeatServer{stream})
}

// LockServiceDesc is the service descriptor the server registers.
var LockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AcquireClaim", Handler: acquireClaimHandler},
		{MethodName: "ReleaseClaim", Handler: releaseClaimHandler},
		{MethodName: "GetLock", Handler: getLockHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "Join", Handler: joinHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Heartbeat",
			Handler:       heartbeatHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "api/v1/lockservice",
}
