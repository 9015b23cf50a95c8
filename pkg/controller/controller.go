// Package controller executes scaling policies: it computes the new desired
// capacity, enforces cooldowns, and converges the group by submitting launch
// or delete jobs to the supervisor.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/supervisor"
)

var (
	// ErrCannotExecutePolicy covers every reason a policy fires without
	// effect: cooldowns, paused groups, no-op deltas, stale events.
	ErrCannotExecutePolicy = errors.New("cannot execute policy")
)

type Controller struct {
	store groups.Store
	sup   *supervisor.Supervisor
	log   hclog.Logger
}

func New(store groups.Store, sup *supervisor.Supervisor, logger hclog.Logger) *Controller {
	if logger == nil {
		logger = hclog.Default()
	}
	return &Controller{
		store: store,
		sup:   sup,
		log:   logger.Named("controller"),
	}
}

// CalculateDelta applies a policy to the current desired capacity and clamps
// the result into the group's size bounds. changePercent rounds away from
// zero, so a 1% change on a small group still moves at least one server.
func CalculateDelta(cfg groups.GroupConfig, state *groups.GroupState, policy *groups.Policy) int {
	desired := state.Desired
	switch {
	case policy.Change != nil:
		desired += *policy.Change
	case policy.ChangePercent != nil:
		pct := *policy.ChangePercent / 100 * float64(state.Desired)
		if pct > 0 {
			desired += int(math.Ceil(pct))
		} else {
			desired += int(math.Floor(pct))
		}
	case policy.DesiredCapacity != nil:
		desired = *policy.DesiredCapacity
	}

	if desired < cfg.MinEntities {
		desired = cfg.MinEntities
	}
	if cfg.MaxEntities != nil && desired > *cfg.MaxEntities {
		desired = *cfg.MaxEntities
	}
	return desired
}

// ExecutePolicy fires one policy. version > 0 is a scheduled event's policy
// version; a mismatch means the policy changed after the event was queued
// and the event is dropped. The group's state is modified under its
// distributed lock.
func (c *Controller) ExecutePolicy(ctx context.Context, tenantID, groupID, policyID string, version int64) error {
	g, err := c.store.GetGroup(ctx, tenantID, groupID)
	if err != nil {
		return err
	}

	policy, ok := g.Policies[policyID]
	if !ok {
		return fmt.Errorf("%w: %s", groups.ErrNoSuchPolicy, policyID)
	}
	if version > 0 && policy.Version != version {
		return fmt.Errorf("%w: policy %s changed since event was scheduled", ErrCannotExecutePolicy, policyID)
	}

	log := c.log.With("tenant_id", tenantID, "group_id", groupID, "policy_id", policyID)
	now := time.Now().UTC()

	return c.store.ModifyState(ctx, tenantID, groupID, func(state *groups.GroupState) error {
		if state.Paused {
			return fmt.Errorf("%w: group is paused", ErrCannotExecutePolicy)
		}

		if g.Config.Cooldown > 0 && !state.GroupTouched.IsZero() {
			if now.Before(state.GroupTouched.Add(time.Duration(g.Config.Cooldown) * time.Second)) {
				return fmt.Errorf("%w: group cooldown in effect", ErrCannotExecutePolicy)
			}
		}
		if policy.Cooldown > 0 {
			if touched, ok := state.PolicyTouched[policyID]; ok &&
				now.Before(touched.Add(time.Duration(policy.Cooldown)*time.Second)) {
				return fmt.Errorf("%w: policy cooldown in effect", ErrCannotExecutePolicy)
			}
		}

		desired := CalculateDelta(g.Config, state, policy)
		if desired == state.Desired && state.Capacity() == desired {
			return fmt.Errorf("%w: policy produces no change", ErrCannotExecutePolicy)
		}

		log.Info("executing policy", "old_desired", state.Desired, "new_desired", desired)
		state.Desired = desired
		state.GroupTouched = now
		state.PolicyTouched[policyID] = now

		return c.convergeLocked(g, state)
	})
}

// Converge brings a group's capacity toward its desired count outside a
// policy execution (group creation, config updates).
func (c *Controller) Converge(ctx context.Context, tenantID, groupID string) error {
	g, err := c.store.GetGroup(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	return c.store.ModifyState(ctx, tenantID, groupID, func(state *groups.GroupState) error {
		return c.convergeLocked(g, state)
	})
}

// called with the group's distributed lock held via ModifyState. jobs are
// handed to the supervisor's pool, which is detached from the caller's
// context; the request that triggered a scale-up may be long gone before
// its servers come up
func (c *Controller) convergeLocked(g *groups.Group, state *groups.GroupState) error {
	gap := state.Desired - state.Capacity()

	switch {
	case gap > 0:
		for i := 0; i < gap; i++ {
			jobID, done, err := c.sup.ExecuteLaunch(g)
			if err != nil {
				return fmt.Errorf("submit launch job: %w", err)
			}
			state.Pending[jobID] = time.Now().UTC()
			go c.completeLaunch(g.TenantID, g.ID, done)
		}

	case gap < 0:
		victims := deleteVictims(state, -gap)
		for _, server := range victims {
			delete(state.Active, server.ID)
			c.sup.ExecuteDelete(g, server)
		}
	}

	return nil
}

// records a finished launch job in the group state. a failed job just drops
// out of pending; the capacity gap it leaves is picked up by the next
// convergence
func (c *Controller) completeLaunch(tenantID, groupID string, done <-chan supervisor.JobResult) {
	result := <-done

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := c.store.ModifyState(ctx, tenantID, groupID, func(state *groups.GroupState) error {
		delete(state.Pending, result.JobID)
		if result.Err != nil {
			return nil
		}
		state.Active[result.Server.ID] = groups.ServerInfo{
			ID:     result.Server.ID,
			Name:   result.Server.Name,
			LBInfo: result.Server.LBInfo,
			Added:  time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		c.log.Warn("failed to record launch result",
			"tenant_id", tenantID, "group_id", groupID, "job_id", result.JobID, "error", err)
	}
}

// oldest servers go first, mirroring the original scale-down order
func deleteVictims(state *groups.GroupState, n int) []groups.ServerInfo {
	servers := make([]groups.ServerInfo, 0, len(state.Active))
	for _, s := range state.Active {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Added.Before(servers[j].Added) })
	if n > len(servers) {
		n = len(servers)
	}
	return servers[:n]
}
