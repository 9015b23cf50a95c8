// Package groups models scaling groups: the group configuration controlling
// size and rate, the launch configuration describing what to start, the
// scaling policies that adjust capacity, and the group's runtime state.
package groups

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GroupConfig controls scaling rate, size, and metadata.
type GroupConfig struct {
	Name        string            `json:"name" validate:"required,max=256"`
	Cooldown    int               `json:"cooldown" validate:"min=0"`
	MinEntities int               `json:"minEntities" validate:"min=0"`
	MaxEntities *int              `json:"maxEntities,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *GroupConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if c.MaxEntities != nil && *c.MaxEntities < c.MinEntities {
		return fmt.Errorf("%w: maxEntities %d < minEntities %d", ErrInvalidConfig, *c.MaxEntities, c.MinEntities)
	}
	for k, v := range c.Metadata {
		if len(k) > 256 || len(v) > 256 {
			return fmt.Errorf("%w: metadata keys and values must not exceed 256 characters", ErrInvalidConfig)
		}
	}
	return nil
}

// LoadBalancer is one load balancer all new servers are added to.
type LoadBalancer struct {
	LBID    int    `json:"lbid" validate:"required"`
	Port    int    `json:"port" validate:"required,min=1,max=65535"`
	Network string `json:"network" validate:"required,oneof=public private"`
}

// LaunchArgs are the arguments of a launch_server launch config: attributes
// passed through to the compute create-server call, plus load balancers.
type LaunchArgs struct {
	Server        map[string]any `json:"server" validate:"required"`
	LoadBalancers []LoadBalancer `json:"loadBalancers,omitempty" validate:"omitempty,dive"`
}

// LaunchConfig describes how the group starts new servers. Only the
// launch_server type exists.
type LaunchConfig struct {
	Type string     `json:"type" validate:"required,eq=launch_server"`
	Args LaunchArgs `json:"args"`
}

func (c *LaunchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

// ServerInfo is what the group state keeps for an active server.
type ServerInfo struct {
	ID     string    `json:"id"`
	Name   string    `json:"name,omitempty"`
	LBInfo []LBInfo  `json:"lb_info,omitempty"`
	Added  time.Time `json:"added"`
}

// LBInfo records a server's membership in one load balancer, kept so the
// server can be detached when it is deleted.
type LBInfo struct {
	LBID int    `json:"lbid"`
	Addr string `json:"addr,omitempty"`
	Port int    `json:"port"`
}

// GroupState is the runtime state of a scaling group: active servers,
// pending launch jobs, the desired capacity, and cooldown bookkeeping.
type GroupState struct {
	TenantID      string                `json:"tenant_id"`
	GroupID       string                `json:"group_id"`
	Active        map[string]ServerInfo `json:"active"`  // server id -> info
	Pending       map[string]time.Time  `json:"pending"` // job id -> submit time
	Desired       int                   `json:"desired"`
	Paused        bool                  `json:"paused"`
	GroupTouched  time.Time             `json:"group_touched"`
	PolicyTouched map[string]time.Time  `json:"policy_touched"`
}

func NewGroupState(tenantID, groupID string) *GroupState {
	return &GroupState{
		TenantID:      tenantID,
		GroupID:       groupID,
		Active:        make(map[string]ServerInfo),
		Pending:       make(map[string]time.Time),
		PolicyTouched: make(map[string]time.Time),
	}
}

// capacity currently converging: running plus in-flight
func (s *GroupState) Capacity() int {
	return len(s.Active) + len(s.Pending)
}

// Group is one scaling group with its configs, policies, and state.
type Group struct {
	ID       string             `json:"id"`
	TenantID string             `json:"tenant_id"`
	Config   GroupConfig        `json:"groupConfiguration"`
	Launch   LaunchConfig       `json:"launchConfiguration"`
	Policies map[string]*Policy `json:"scalingPolicies"`
	State    *GroupState        `json:"state"`
	Created  time.Time          `json:"created"`
}

// Manifest is everything required to configure a scaling group.
type Manifest struct {
	GroupConfiguration  GroupConfig        `json:"groupConfiguration"`
	LaunchConfiguration LaunchConfig       `json:"launchConfiguration"`
	ScalingPolicies     map[string]*Policy `json:"scalingPolicies"`
}
