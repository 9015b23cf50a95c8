package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.RaftAddr)
	assert.Equal(t, ":9000", cfg.GRPCAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3600, cfg.GCGraceSeconds)
	assert.Equal(t, 2, cfg.CompactionMinThreshold)
	assert.Equal(t, 128, cfg.SegmentMaxRows)
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 10, cfg.SchedulerBuckets)
	assert.False(t, cfg.Bootstrap)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OTTER_RAFT_ADDR", "10.0.0.1:7100")
	t.Setenv("OTTER_BOOTSTRAP", "true")
	t.Setenv("OTTER_GC_GRACE_SECONDS", "60")
	t.Setenv("OTTER_SWEEP_INTERVAL", "250ms")
	t.Setenv("OTTER_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:7100", cfg.RaftAddr)
	assert.True(t, cfg.Bootstrap)
	assert.Equal(t, 60, cfg.GCGraceSeconds)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("OTTER_LOG_LEVEL", "verbose")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateMinThreshold(t *testing.T) {
	t.Setenv("OTTER_COMPACTION_MIN_THRESHOLD", "1")
	_, err := Load()
	assert.Error(t, err, "segment merges need at least two segments")
}
