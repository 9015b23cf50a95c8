package storage

import (
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dian4554/otter/pkg/types"
)

func TestNewBoltDBStorage(t *testing.T) {
	stores, err := NewBoltDBStorage(t.TempDir())
	require.NoError(t, err)
	defer stores.Close()

	assert.NotNil(t, stores.LogStore)
	assert.NotNil(t, stores.StableStore)
	assert.NotNil(t, stores.SnapshotStore)
}

func TestLogStoreRoundTrip(t *testing.T) {
	stores, err := NewBoltDBStorage(t.TempDir())
	require.NoError(t, err)
	defer stores.Close()

	claimID, err := types.NewClaimID()
	require.NoError(t, err)
	data, err := types.EncodeCommand(types.AcquireClaimCmd{
		LockID:  "jobs/nightly",
		OwnerID: "worker-1",
		ClaimID: claimID,
		TTL:     30 * time.Second,
	})
	require.NoError(t, err)

	err = stores.LogStore.StoreLog(&raft.Log{
		Index: 1,
		Term:  1,
		Type:  raft.LogCommand,
		Data:  data,
	})
	require.NoError(t, err)

	retrieved := &raft.Log{}
	require.NoError(t, stores.LogStore.GetLog(1, retrieved))

	cmd, err := types.DecodeCommand(retrieved.Data)
	require.NoError(t, err)
	assert.Equal(t, "jobs/nightly", cmd.(types.AcquireClaimCmd).LockID)
}

func TestStableStorePersistence(t *testing.T) {
	tmpDir := t.TempDir()

	stores1, err := NewBoltDBStorage(tmpDir)
	require.NoError(t, err)

	require.NoError(t, stores1.StableStore.SetUint64([]byte("currentTerm"), 42))
	require.NoError(t, stores1.Close())

	// reopen and verify the term survived
	stores2, err := NewBoltDBStorage(tmpDir)
	require.NoError(t, err)
	defer stores2.Close()

	term, err := stores2.StableStore.GetUint64([]byte("currentTerm"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), term)
}

func TestSnapshotStore(t *testing.T) {
	stores, err := NewBoltDBStorage(t.TempDir())
	require.NoError(t, err)
	defer stores.Close()

	sink, err := stores.SnapshotStore.Create(
		raft.SnapshotVersionMax,
		100,
		1,
		raft.Configuration{},
		1,
		nil,
	)
	require.NoError(t, err)

	_, err = sink.Write([]byte(`{"partitions":{}}`))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	snapshots, err := stores.SnapshotStore.List()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, uint64(100), snapshots[0].Index)
}
