package types

import "errors"

var (
	// Claim errors
	ErrClaimNotFound   = errors.New("claim not found")
	ErrClaimExpired    = errors.New("claim has expired")
	ErrClaimReleased   = errors.New("claim has already been released")
	ErrInvalidClaimTTL = errors.New("invalid claim TTL")

	// Lock errors
	ErrLockNotFound = errors.New("lock has no live claims")
	ErrLockHeld     = errors.New("lock is held by an earlier claim")
	ErrNotHolder    = errors.New("claim does not hold the lock")

	// Fencing errors
	ErrStaleToken = errors.New("fencing token is stale")
)
