package groups

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSuchGroup       = errors.New("no such scaling group")
	ErrNoSuchPolicy      = errors.New("no such scaling policy")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrGroupLimitReached = errors.New("scaling group limit reached for tenant")
	ErrGroupNotEmpty     = errors.New("scaling group still has active servers")
	ErrNoSuchCapability  = errors.New("no policy with that capability")
)

// Locker serializes state mutation of one resource across the cluster.
// Acquire blocks until the lock is held and returns its release func.
type Locker interface {
	Acquire(ctx context.Context, lockID string) (release func(), err error)
}

// ScheduledEvent is one pending firing of a scheduled policy. Events are
// spread across a fixed number of buckets so scheduler nodes can divide the
// work by taking one lock per bucket.
type ScheduledEvent struct {
	TenantID string    `json:"tenant_id"`
	GroupID  string    `json:"group_id"`
	PolicyID string    `json:"policy_id"`
	Trigger  time.Time `json:"trigger"`
	Cron     string    `json:"cron,omitempty"`
	Bucket   int       `json:"bucket"`
	Version  int64     `json:"version"`
}

// Store is the collection of scaling groups for all tenants, plus the
// scheduled-event queue the scheduler drains.
type Store interface {
	// groups
	CreateGroup(ctx context.Context, tenantID string, cfg GroupConfig, launch LaunchConfig, policies []*Policy) (*Group, error)
	GetGroup(ctx context.Context, tenantID, groupID string) (*Group, error)
	ListGroups(ctx context.Context, tenantID string) ([]*Group, error)
	DeleteGroup(ctx context.Context, tenantID, groupID string) error
	ViewManifest(ctx context.Context, tenantID, groupID string) (*Manifest, error)
	UpdateConfig(ctx context.Context, tenantID, groupID string, cfg GroupConfig) error
	UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, launch LaunchConfig) error

	// policies
	CreatePolicies(ctx context.Context, tenantID, groupID string, policies []*Policy) ([]*Policy, error)
	GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (*Policy, error)
	ListPolicies(ctx context.Context, tenantID, groupID string) ([]*Policy, error)
	UpdatePolicy(ctx context.Context, tenantID, groupID string, policy *Policy) error
	DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error

	// capability lookup for anonymous execution
	FindByCapability(ctx context.Context, version, hash string) (tenantID, groupID string, policy *Policy, err error)

	// state: all mutation goes through ModifyState, which holds the group's
	// distributed lock for the duration of fn
	ViewState(ctx context.Context, tenantID, groupID string) (*GroupState, error)
	ModifyState(ctx context.Context, tenantID, groupID string, fn func(*GroupState) error) error

	// scheduled events
	AddEvents(ctx context.Context, events []ScheduledEvent) error
	FetchAndDeleteDue(ctx context.Context, bucket int, now time.Time, batch int) ([]ScheduledEvent, error)
}

// GroupLockID names the distributed lock guarding one group's state.
func GroupLockID(tenantID, groupID string) string {
	return "groups/" + tenantID + "/" + groupID
}
