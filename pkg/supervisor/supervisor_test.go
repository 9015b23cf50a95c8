package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dian4554/otter/pkg/groups"
)

func testGroup() *groups.Group {
	return &groups.Group{
		ID:       "group-1",
		TenantID: "tenant-1",
		Launch: groups.LaunchConfig{
			Type: "launch_server",
			Args: groups.LaunchArgs{
				Server: map[string]any{"name": "worker"},
				LoadBalancers: []groups.LoadBalancer{
					{LBID: 1, Port: 80, Network: "public"},
				},
			},
		},
	}
}

func TestExecuteLaunch(t *testing.T) {
	provider := NewStubProvider()
	sup := New(provider, 4, hclog.NewNullLogger())

	jobID, done, err := sup.ExecuteLaunch(testGroup())
	require.NoError(t, err)
	assert.Contains(t, jobID, "group-1/")

	result := <-done
	require.NoError(t, result.Err)
	assert.Equal(t, jobID, result.JobID)
	assert.Equal(t, "worker", result.Server.Name)
	require.Len(t, result.Server.LBInfo, 1)
	assert.Equal(t, 1, result.Server.LBInfo[0].LBID)

	sup.Stop()
	assert.Equal(t, 1, provider.LiveServers())
}

// TestLaunchFailureRewindsUndo verifies a failed launch cleans up the
// server it had already created
func TestLaunchFailureRewindsUndo(t *testing.T) {
	provider := NewStubProvider()
	provider.FailNext.Store(true)
	sup := New(provider, 4, hclog.NewNullLogger())

	_, done, err := sup.ExecuteLaunch(testGroup())
	require.NoError(t, err)

	result := <-done
	require.Error(t, result.Err)
	assert.Nil(t, result.Server)

	sup.Stop()
	assert.Zero(t, provider.LiveServers(), "partial launch must be rewound")
}

func TestExecuteLaunchRejectsUnknownType(t *testing.T) {
	sup := New(NewStubProvider(), 4, hclog.NewNullLogger())

	g := testGroup()
	g.Launch.Type = "launch_container"
	_, _, err := sup.ExecuteLaunch(g)
	assert.Error(t, err)
}

func TestExecuteDelete(t *testing.T) {
	provider := NewStubProvider()
	sup := New(provider, 4, hclog.NewNullLogger())

	_, done, err := sup.ExecuteLaunch(testGroup())
	require.NoError(t, err)
	result := <-done
	require.NoError(t, result.Err)

	sup.ExecuteDelete(testGroup(), groups.ServerInfo{
		ID:     result.Server.ID,
		LBInfo: result.Server.LBInfo,
	})
	sup.Stop()

	assert.Zero(t, provider.LiveServers())
	assert.Equal(t, int64(1), provider.Deletes())
}

// TestPoolDrain verifies Stop waits for every submitted job
func TestPoolDrain(t *testing.T) {
	provider := NewStubProvider()
	sup := New(provider, 2, hclog.NewNullLogger())

	const jobs = 10
	dones := make([]<-chan JobResult, jobs)
	for i := 0; i < jobs; i++ {
		_, done, err := sup.ExecuteLaunch(testGroup())
		require.NoError(t, err)
		dones[i] = done
	}

	sup.Stop()
	assert.Equal(t, int64(jobs), provider.Launches())
	for _, done := range dones {
		select {
		case result := <-done:
			assert.NoError(t, result.Err)
		case <-time.After(time.Second):
			t.Fatal("job result never delivered")
		}
	}
}

func TestUndoStackRewindOrder(t *testing.T) {
	undo := NewUndoStack()

	var order []string
	undo.Push("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	undo.Push("second", func(ctx context.Context) error {
		order = append(order, "second")
		return fmt.Errorf("second failed")
	})
	undo.Push("third", func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := undo.Rewind(context.Background())
	assert.ErrorContains(t, err, "second failed")
	assert.Equal(t, []string{"third", "second", "first"}, order, "newest first, all attempted")
	assert.Zero(t, undo.Len())
}
