package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dian4554/otter/pkg/types"
)

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{types.ErrClaimNotFound, codes.NotFound},
		{types.ErrLockNotFound, codes.NotFound},
		{types.ErrClaimExpired, codes.FailedPrecondition},
		{types.ErrClaimReleased, codes.FailedPrecondition},
		{types.ErrStaleToken, codes.FailedPrecondition},
		{types.ErrInvalidClaimTTL, codes.InvalidArgument},
		{types.ErrNotHolder, codes.PermissionDenied},
		{fmt.Errorf("wrapped: %w", types.ErrClaimNotFound), codes.NotFound},
		{fmt.Errorf("something else"), codes.Internal},
	}

	for _, tt := range tests {
		st, ok := status.FromError(toGRPCError(tt.err))
		require.True(t, ok)
		assert.Equal(t, tt.code, st.Code(), tt.err.Error())
	}

	assert.NoError(t, toGRPCError(nil))
}

func TestNotLeaderError(t *testing.T) {
	st, ok := status.FromError(notLeaderError("10.0.0.1:7000"))
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Contains(t, st.Message(), "10.0.0.1:7000")
}
