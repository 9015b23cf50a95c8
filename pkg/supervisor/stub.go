package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/dian4554/otter/pkg/groups"
)

// StubProvider fakes the cloud: launches mint server IDs, deletes forget
// them. Used by tests and local runs.
type StubProvider struct {
	mu      sync.Mutex
	servers map[string]bool

	// FailNext makes the next launch fail after its create step, exercising
	// the undo path.
	FailNext atomic.Bool

	launches atomic.Int64
	deletes  atomic.Int64
}

func NewStubProvider() *StubProvider {
	return &StubProvider{servers: make(map[string]bool)}
}

func (p *StubProvider) LaunchServer(ctx context.Context, log hclog.Logger, launch groups.LaunchConfig, undo *UndoStack) (*ServerDetails, error) {
	serverID := uuid.NewString()

	p.mu.Lock()
	p.servers[serverID] = true
	p.mu.Unlock()

	undo.Push("delete server", func(ctx context.Context) error {
		p.mu.Lock()
		delete(p.servers, serverID)
		p.mu.Unlock()
		return nil
	})

	var lbInfo []groups.LBInfo
	for _, lb := range launch.Args.LoadBalancers {
		lbInfo = append(lbInfo, groups.LBInfo{LBID: lb.LBID, Port: lb.Port})
		undo.Push("remove from load balancer", func(ctx context.Context) error { return nil })
	}

	if p.FailNext.CompareAndSwap(true, false) {
		return nil, fmt.Errorf("stub launch failure")
	}

	p.launches.Add(1)

	name := ""
	if n, ok := launch.Args.Server["name"].(string); ok {
		name = n
	}
	return &ServerDetails{ID: serverID, Name: name, LBInfo: lbInfo}, nil
}

func (p *StubProvider) DeleteServer(ctx context.Context, log hclog.Logger, serverID string, lbInfo []groups.LBInfo) error {
	p.mu.Lock()
	delete(p.servers, serverID)
	p.mu.Unlock()
	p.deletes.Add(1)
	return nil
}

// LiveServers reports how many servers the stub believes exist.
func (p *StubProvider) LiveServers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.servers)
}

func (p *StubProvider) Launches() int64 { return p.launches.Load() }
func (p *StubProvider) Deletes() int64  { return p.deletes.Load() }
