package server

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dian4554/otter/pkg/types"
)

// converts domain errors to gRPC status errors.
//
// NotFound means the claim row no longer exists: it was never created, or it
// was tombstoned and then purged once the gc grace window passed. the caller
// must start over with a fresh acquire. FailedPrecondition means the row is
// still present but unusable (expired, released, or fenced by a newer token);
// a heartbeat cannot revive it, but its final state is still readable.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrClaimNotFound), errors.Is(err, types.ErrLockNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, types.ErrClaimExpired),
		errors.Is(err, types.ErrClaimReleased),
		errors.Is(err, types.ErrStaleToken):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrInvalidClaimTTL):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, types.ErrNotHolder):
		return status.Error(codes.PermissionDenied, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// returns a not leader error with the given leader address
// clients redirect to the address in the message
func notLeaderError(leaderAddr string) error {
	return status.Errorf(codes.Unavailable,
		"not leader, leader is at : %s", leaderAddr)
}
