// Package supervisor executes launch-config jobs and server deletions for
// scaling groups through a bounded worker pool. A failed launch rewinds its
// undo stack so half-created resources are cleaned up.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/dian4554/otter/pkg/groups"
	"github.com/dian4554/otter/pkg/metrics"
)

// ServerDetails is what a completed launch reports back for the group state.
type ServerDetails struct {
	ID     string
	Name   string
	LBInfo []groups.LBInfo
}

// Provider launches and deletes servers. Implementations push an undo op for
// every step they complete, so a partial launch can be rewound.
type Provider interface {
	LaunchServer(ctx context.Context, log hclog.Logger, launch groups.LaunchConfig, undo *UndoStack) (*ServerDetails, error)
	DeleteServer(ctx context.Context, log hclog.Logger, serverID string, lbInfo []groups.LBInfo) error
}

// JobResult is delivered on a launch job's completion channel.
type JobResult struct {
	JobID  string
	Server *ServerDetails
	Err    error
}

// Supervisor runs jobs with bounded concurrency and tracks them so shutdown
// can wait for the pool to drain. Jobs run on the supervisor's own context,
// not the caller's: a scale-up submitted by an HTTP handler must outlive
// the request that triggered it.
type Supervisor struct {
	provider Provider
	sem      *semaphore.Weighted
	log      hclog.Logger
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(provider Provider, maxConcurrent int64, logger hclog.Logger) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if logger == nil {
		logger = hclog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		provider: provider,
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      logger.Named("supervisor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func generateJobID(groupID string) string {
	return groupID + "/" + uuid.NewString()
}

// ExecuteLaunch starts one launch job for the group and returns its job ID
// plus a channel that receives the result. The job's undo stack is rewound
// if the launch fails partway.
func (s *Supervisor) ExecuteLaunch(g *groups.Group) (string, <-chan JobResult, error) {
	if g.Launch.Type != "launch_server" {
		return "", nil, fmt.Errorf("unsupported launch config type %q", g.Launch.Type)
	}

	jobID := generateJobID(g.ID)
	log := s.log.With("job_id", jobID, "tenant_id", g.TenantID, "group_id", g.ID, "worker", g.Launch.Type)

	done := make(chan JobResult, 1)
	launch := g.Launch

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			done <- JobResult{JobID: jobID, Err: err}
			return
		}
		defer s.sem.Release(1)

		undo := NewUndoStack()
		log.Debug("executing launch config")

		server, err := s.provider.LaunchServer(s.ctx, log, launch, undo)
		if err != nil {
			log.Warn("launch failed, rewinding undo stack", "error", err, "steps", undo.Len())
			metrics.SupervisorJobsTotal.WithLabelValues("launch", "failure").Inc()
			undoCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if undoErr := undo.Rewind(undoCtx); undoErr != nil {
				log.Error("undo stack rewind failed", "error", undoErr)
			}
			cancel()
			done <- JobResult{JobID: jobID, Err: err}
			return
		}

		log.Debug("done executing launch config", "server_id", server.ID)
		metrics.SupervisorJobsTotal.WithLabelValues("launch", "success").Inc()
		done <- JobResult{JobID: jobID, Server: server}
	}()

	return jobID, done, nil
}

// ExecuteDelete deletes one server. Deletion failures are logged, not
// returned; the server is gone from the group state either way.
func (s *Supervisor) ExecuteDelete(g *groups.Group, server groups.ServerInfo) {
	log := s.log.With("tenant_id", g.TenantID, "group_id", g.ID, "server_id", server.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			log.Warn("delete job aborted", "error", err)
			return
		}
		defer s.sem.Release(1)

		if err := s.provider.DeleteServer(s.ctx, log, server.ID, server.LBInfo); err != nil {
			log.Warn("server deletion failed", "error", err)
			metrics.SupervisorJobsTotal.WithLabelValues("delete", "failure").Inc()
			return
		}
		metrics.SupervisorJobsTotal.WithLabelValues("delete", "success").Inc()
	}()
}

// Stop blocks until every in-flight job has finished, then releases the
// supervisor's context so nothing new can run.
func (s *Supervisor) Stop() {
	s.wg.Wait()
	s.cancel()
}
