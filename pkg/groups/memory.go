package groups

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// MemoryStore keeps all groups and scheduled events in memory. State
// mutation still goes through the distributed locker, so several nodes can
// share one logical store in tests or fall back to local locking when
// running single-node.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[string]map[string]*Group
	buckets    [][]ScheduledEvent
	numBuckets int
	maxGroups  int
	locker     Locker
	log        hclog.Logger
}

func NewMemoryStore(locker Locker, numBuckets, maxGroups int, logger hclog.Logger) *MemoryStore {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	if maxGroups <= 0 {
		maxGroups = 1000
	}
	if logger == nil {
		logger = hclog.Default()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &MemoryStore{
		tenants:    make(map[string]map[string]*Group),
		buckets:    make([][]ScheduledEvent, numBuckets),
		numBuckets: numBuckets,
		maxGroups:  maxGroups,
		locker:     locker,
		log:        logger.Named("store"),
	}
}

func (s *MemoryStore) NumBuckets() int { return s.numBuckets }

// EventBucket spreads scheduled events across buckets by policy ID.
func (s *MemoryStore) EventBucket(policyID string) int {
	h := fnv.New32a()
	h.Write([]byte(policyID))
	return int(h.Sum32()) % s.numBuckets
}

func (s *MemoryStore) group(tenantID, groupID string) (*Group, error) {
	groups, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSuchGroup, tenantID, groupID)
	}
	g, ok := groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSuchGroup, tenantID, groupID)
	}
	return g, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, tenantID string, cfg GroupConfig, launch LaunchConfig, policies []*Policy) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := launch.Validate(); err != nil {
		return nil, err
	}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tenants[tenantID]) >= s.maxGroups {
		return nil, fmt.Errorf("%w: %d", ErrGroupLimitReached, s.maxGroups)
	}

	g := &Group{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Config:   cfg,
		Launch:   launch,
		Policies: make(map[string]*Policy),
		State:    NewGroupState(tenantID, ""),
		Created:  time.Now().UTC(),
	}
	g.State.GroupID = g.ID
	g.State.Desired = cfg.MinEntities

	for _, p := range policies {
		token, err := GenerateCapability()
		if err != nil {
			return nil, err
		}
		p.ID = uuid.NewString()
		p.Version = 1
		p.Capability = &token
		g.Policies[p.ID] = p
		s.scheduleLocked(g, p, time.Now().UTC())
	}

	if s.tenants[tenantID] == nil {
		s.tenants[tenantID] = make(map[string]*Group)
	}
	s.tenants[tenantID][g.ID] = g

	s.log.Info("created scaling group", "tenant_id", tenantID, "group_id", g.ID, "name", cfg.Name)
	return copyGroup(g), nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, tenantID, groupID string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	return copyGroup(g), nil
}

func (s *MemoryStore) ListGroups(ctx context.Context, tenantID string) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0, len(s.tenants[tenantID]))
	for _, g := range s.tenants[tenantID] {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *MemoryStore) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	if len(g.State.Active) > 0 || len(g.State.Pending) > 0 {
		return fmt.Errorf("%w: %s/%s", ErrGroupNotEmpty, tenantID, groupID)
	}
	delete(s.tenants[tenantID], groupID)
	s.log.Info("deleted scaling group", "tenant_id", tenantID, "group_id", groupID)
	return nil
}

func (s *MemoryStore) ViewManifest(ctx context.Context, tenantID, groupID string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	c := copyGroup(g)
	return &Manifest{
		GroupConfiguration:  c.Config,
		LaunchConfiguration: c.Launch,
		ScalingPolicies:     c.Policies,
	}, nil
}

func (s *MemoryStore) UpdateConfig(ctx context.Context, tenantID, groupID string, cfg GroupConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	g.Config = cfg
	// the size bounds may have moved; clamp desired into them
	if g.State.Desired < cfg.MinEntities {
		g.State.Desired = cfg.MinEntities
	}
	if cfg.MaxEntities != nil && g.State.Desired > *cfg.MaxEntities {
		g.State.Desired = *cfg.MaxEntities
	}
	return nil
}

func (s *MemoryStore) UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, launch LaunchConfig) error {
	if err := launch.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	g.Launch = launch
	return nil
}

func (s *MemoryStore) CreatePolicies(ctx context.Context, tenantID, groupID string, policies []*Policy) ([]*Policy, error) {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(policies))
	now := time.Now().UTC()
	for _, p := range policies {
		token, err := GenerateCapability()
		if err != nil {
			return nil, err
		}
		p.ID = uuid.NewString()
		p.Version = 1
		p.Capability = &token
		g.Policies[p.ID] = p
		s.scheduleLocked(g, p, now)
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	p, ok := g.Policies[policyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPolicy, policyID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPolicies(ctx context.Context, tenantID, groupID string) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(g.Policies))
	for _, p := range g.Policies {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePolicy(ctx context.Context, tenantID, groupID string, policy *Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	old, ok := g.Policies[policy.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPolicy, policy.ID)
	}
	policy.Version = old.Version + 1
	// capability URLs keep working across policy updates
	policy.Capability = old.Capability
	cp := *policy
	g.Policies[policy.ID] = &cp
	s.scheduleLocked(g, &cp, time.Now().UTC())
	return nil
}

func (s *MemoryStore) DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	if _, ok := g.Policies[policyID]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPolicy, policyID)
	}
	delete(g.Policies, policyID)
	return nil
}

// FindByCapability resolves a capability token to the policy it fires.
func (s *MemoryStore) FindByCapability(ctx context.Context, version, hash string) (string, string, *Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for tenantID, tenantGroups := range s.tenants {
		for groupID, g := range tenantGroups {
			for _, p := range g.Policies {
				if p.Capability != nil && p.Capability.Version == version && p.Capability.Hash == hash {
					cp := *p
					return tenantID, groupID, &cp, nil
				}
			}
		}
	}
	return "", "", nil, ErrNoSuchCapability
}

func (s *MemoryStore) ViewState(ctx context.Context, tenantID, groupID string) (*GroupState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(tenantID, groupID)
	if err != nil {
		return nil, err
	}
	return copyState(g.State), nil
}

// ModifyState runs fn on the group's state while holding the group's
// distributed lock, then writes the modified state back. fn sees a copy,
// so a failed fn leaves the state untouched.
func (s *MemoryStore) ModifyState(ctx context.Context, tenantID, groupID string, fn func(*GroupState) error) error {
	release, err := s.locker.Acquire(ctx, GroupLockID(tenantID, groupID))
	if err != nil {
		return fmt.Errorf("lock group state: %w", err)
	}
	defer release()

	s.mu.RLock()
	g, err := s.group(tenantID, groupID)
	var state *GroupState
	if err == nil {
		state = copyState(g.State)
	}
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g, err = s.group(tenantID, groupID)
	if err != nil {
		return err
	}
	g.State = state
	return nil
}

// called with s.mu held; queues the policy's next firing
func (s *MemoryStore) scheduleLocked(g *Group, p *Policy, now time.Time) {
	trigger, ok := p.NextTrigger(now)
	if !ok {
		return
	}
	ev := ScheduledEvent{
		TenantID: g.TenantID,
		GroupID:  g.ID,
		PolicyID: p.ID,
		Trigger:  trigger,
		Cron:     scheduleCron(p),
		Bucket:   s.EventBucket(p.ID),
		Version:  p.Version,
	}
	s.buckets[ev.Bucket] = append(s.buckets[ev.Bucket], ev)
}

func scheduleCron(p *Policy) string {
	if p.Schedule == nil {
		return ""
	}
	return p.Schedule.Cron
}

func (s *MemoryStore) AddEvents(ctx context.Context, events []ScheduledEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.Bucket < 0 || ev.Bucket >= s.numBuckets {
			ev.Bucket = s.EventBucket(ev.PolicyID)
		}
		s.buckets[ev.Bucket] = append(s.buckets[ev.Bucket], ev)
	}
	return nil
}

// FetchAndDeleteDue removes and returns up to batch events in the bucket
// whose trigger is at or before now, earliest first.
func (s *MemoryStore) FetchAndDeleteDue(ctx context.Context, bucket int, now time.Time, batch int) ([]ScheduledEvent, error) {
	if bucket < 0 || bucket >= s.numBuckets {
		return nil, fmt.Errorf("bucket %d out of range", bucket)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.buckets[bucket]
	sort.Slice(events, func(i, j int) bool { return events[i].Trigger.Before(events[j].Trigger) })

	var due []ScheduledEvent
	rest := events[:0]
	for _, ev := range events {
		if len(due) < batch && !ev.Trigger.After(now) {
			due = append(due, ev)
			continue
		}
		rest = append(rest, ev)
	}
	s.buckets[bucket] = rest
	return due, nil
}

func copyGroup(g *Group) *Group {
	out := *g
	out.Policies = make(map[string]*Policy, len(g.Policies))
	for id, p := range g.Policies {
		cp := *p
		out.Policies[id] = &cp
	}
	out.State = copyState(g.State)
	return &out
}

func copyState(st *GroupState) *GroupState {
	out := *st
	out.Active = make(map[string]ServerInfo, len(st.Active))
	for k, v := range st.Active {
		out.Active[k] = v
	}
	out.Pending = make(map[string]time.Time, len(st.Pending))
	for k, v := range st.Pending {
		out.Pending[k] = v
	}
	out.PolicyTouched = make(map[string]time.Time, len(st.PolicyTouched))
	for k, v := range st.PolicyTouched {
		out.PolicyTouched[k] = v
	}
	return &out
}
