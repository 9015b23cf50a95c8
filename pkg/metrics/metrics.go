package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// claim acquisition latency - histogram to track p50/p90/p99
	// tracks how long it takes to insert a claim through raft consensus
	// labels: lock_id (to see which locks are slow)
	ClaimAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otter_claim_acquire_duration_seconds",
			Help:    "time taken to insert a claim",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to 512ms
		},
		[]string{"lock_id"},
	)

	// claim insertion counter - counts successes vs failures
	// labels: lock_id, status (success/failure)
	ClaimAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_claim_acquire_total",
			Help: "total number of claim insertions",
		},
		[]string{"lock_id", "status"},
	)

	// claim release counter - tracks clean releases
	ClaimReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_claim_release_total",
			Help: "total number of claim releases",
		},
		[]string{"lock_id"},
	)

	// claim expiry counter - tracks clients that stopped heartbeating
	ClaimExpireTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_claim_expire_total",
			Help: "total number of claims expired by the sweep",
		},
	)

	// heartbeat counter - tracks keepalive success/failure
	// labels: status (success/failure)
	HeartbeatTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_heartbeat_total",
			Help: "total number of heartbeats processed",
		},
		[]string{"status"},
	)

	// live claims across all locks
	ClaimsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_claims_live",
			Help: "current number of live claims",
		},
	)

	// locks with at least one claim row (live or tombstoned)
	LocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_locks_active",
			Help: "current number of locks with claim rows",
		},
	)

	// tombstones purged by compaction
	TombstonesPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_tombstones_purged_total",
			Help: "total number of tombstoned claims purged by compaction",
		},
	)

	// compaction pass counter
	CompactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otter_compactions_total",
			Help: "total number of claim table compaction passes",
		},
	)

	// scheduled policy executions
	// labels: status (executed/rejected/failed)
	ScheduledEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_scheduled_events_total",
			Help: "total number of scheduled policy events processed",
		},
		[]string{"status"},
	)

	// scheduler buckets this node currently owns
	SchedulerBucketsOwned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_scheduler_buckets_owned",
			Help: "number of scheduler buckets owned by this node",
		},
	)

	// supervisor jobs
	// labels: kind (launch/delete), status (success/failure)
	SupervisorJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otter_supervisor_jobs_total",
			Help: "total number of supervisor jobs executed",
		},
		[]string{"kind", "status"},
	)

	// raft leader status - 1 if this node is leader, 0 if follower
	// exactly one node in cluster should have this = 1
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otter_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}
