// Package scheduler fires scheduled scaling policies. Pending events live in
// a fixed set of buckets; each node claims buckets through the lock service
// and drains due events from the buckets it owns, so every event fires on
// exactly one node.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/dian4554/otter/pkg/controller"
	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/metrics"
	"github.com/dian4554/otter/pkg/types"
)

// BucketLock is a held bucket claim.
type BucketLock interface {
	Release(ctx context.Context) error
}

// BucketLocker hands out bucket claims without blocking on contention.
type BucketLocker interface {
	TryAcquire(ctx context.Context, lockID string, ttl time.Duration) (BucketLock, error)
}

type Config struct {
	Buckets   int
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

// Scheduler drains due scheduled events from the buckets this node owns.
type Scheduler struct {
	cfg    Config
	store  groups.Store
	ctrl   *controller.Controller
	locker BucketLocker
	log    hclog.Logger

	mu    sync.Mutex
	owned map[int]BucketLock
}

func New(cfg Config, store groups.Store, ctrl *controller.Controller, locker BucketLocker, logger hclog.Logger) *Scheduler {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if logger == nil {
		logger = hclog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		ctrl:   ctrl,
		locker: locker,
		log:    logger.Named("scheduler"),
		owned:  make(map[int]BucketLock),
	}
}

// Run partitions buckets and checks events until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.releaseAll()
			return
		case <-ticker.C:
			s.partition(ctx)
			for _, bucket := range s.ownedBuckets() {
				if err := s.checkBucket(ctx, bucket); err != nil {
					s.log.Error("bucket check failed", "bucket", bucket, "error", err)
				}
			}
		}
	}
}

// claim any buckets nobody owns yet. claims are kept alive by the lock
// client's heartbeat, so a crashed node's buckets free up after the TTL
func (s *Scheduler) partition(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for bucket := 0; bucket < s.cfg.Buckets; bucket++ {
		if _, ok := s.owned[bucket]; ok {
			continue
		}
		lock, err := s.locker.TryAcquire(ctx, bucketLockID(bucket), s.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, types.ErrLockHeld) {
				s.log.Warn("bucket claim failed", "bucket", bucket, "error", err)
			}
			continue
		}
		s.owned[bucket] = lock
		s.log.Info("claimed scheduler bucket", "bucket", bucket)
	}
	metrics.SchedulerBucketsOwned.Set(float64(len(s.owned)))
}

func bucketLockID(bucket int) string {
	return fmt.Sprintf("scheduler/buckets/%d", bucket)
}

func (s *Scheduler) ownedBuckets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.owned))
	for b := range s.owned {
		out = append(out, b)
	}
	return out
}

// checkBucket drains events due now. a full batch means there may be more;
// keep fetching until a short batch comes back
func (s *Scheduler) checkBucket(ctx context.Context, bucket int) error {
	log := s.log.With("bucket", bucket)
	for {
		now := time.Now().UTC()
		events, err := s.store.FetchAndDeleteDue(ctx, bucket, now, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		log.Debug("processing events", "num_events", len(events))
		s.processEvents(ctx, log, events)

		if len(events) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Scheduler) processEvents(ctx context.Context, log hclog.Logger, events []groups.ScheduledEvent) {
	deleted := make(map[string]bool)

	for _, ev := range events {
		err := s.ctrl.ExecutePolicy(ctx, ev.TenantID, ev.GroupID, ev.PolicyID, ev.Version)
		switch {
		case err == nil:
			metrics.ScheduledEventsTotal.WithLabelValues("executed").Inc()
		case errors.Is(err, controller.ErrCannotExecutePolicy):
			metrics.ScheduledEventsTotal.WithLabelValues("rejected").Inc()
			log.Debug("scheduler cannot execute policy", "policy_id", ev.PolicyID, "reason", err)
		case errors.Is(err, groups.ErrNoSuchGroup), errors.Is(err, groups.ErrNoSuchPolicy):
			deleted[ev.PolicyID] = true
			log.Debug("scheduled policy is gone", "policy_id", ev.PolicyID)
		default:
			metrics.ScheduledEventsTotal.WithLabelValues("failed").Inc()
			log.Error("scheduler failed to execute policy", "policy_id", ev.PolicyID, "error", err)
		}
	}

	s.addCronEvents(ctx, log, events, deleted)
}

// cron events re-queue themselves with the next occurrence; one-shot events
// and events whose policy is gone do not come back
func (s *Scheduler) addCronEvents(ctx context.Context, log hclog.Logger, events []groups.ScheduledEvent, deleted map[string]bool) {
	var next []groups.ScheduledEvent
	now := time.Now().UTC()
	for _, ev := range events {
		if ev.Cron == "" || deleted[ev.PolicyID] {
			continue
		}
		sched, err := cron.ParseStandard(ev.Cron)
		if err != nil {
			log.Warn("dropping event with bad cron", "policy_id", ev.PolicyID, "cron", ev.Cron)
			continue
		}
		ev.Trigger = sched.Next(now)
		next = append(next, ev)
	}
	if len(next) == 0 {
		return
	}
	log.Debug("re-adding cron events", "num_events", len(next))
	if err := s.store.AddEvents(ctx, next); err != nil {
		log.Error("failed to re-add cron events", "error", err)
	}
}

func (s *Scheduler) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for bucket, lock := range s.owned {
		if err := lock.Release(ctx); err != nil {
			s.log.Warn("failed to release bucket", "bucket", bucket, "error", err)
		}
		delete(s.owned, bucket)
	}
	metrics.SchedulerBucketsOwned.Set(0)
}
