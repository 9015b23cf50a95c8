// Package config loads daemon configuration from the environment with flag
// overrides, then validates it.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is everything otterd needs to run. Environment variables carry the
// OTTER_ prefix; flags override whatever the environment set.
type Config struct {
	NodeID    string `env:"NODE_ID"`
	RaftAddr  string `env:"RAFT_ADDR" envDefault:"127.0.0.1:7000" validate:"required,hostname_port"`
	GRPCAddr  string `env:"GRPC_ADDR" envDefault:":9000" validate:"required"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	DataDir   string `env:"DATA_DIR" envDefault:"./data" validate:"required"`
	Bootstrap bool   `env:"BOOTSTRAP"`
	JoinAddr  string `env:"JOIN_ADDR"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`

	// claim table options, matching the table's schema defaults
	GCGraceSeconds         int `env:"GC_GRACE_SECONDS" envDefault:"3600" validate:"min=1"`
	CompactionMinThreshold int `env:"COMPACTION_MIN_THRESHOLD" envDefault:"2" validate:"min=2"`
	SegmentMaxRows         int `env:"SEGMENT_MAX_ROWS" envDefault:"128" validate:"min=1"`

	// maintenance loop
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1s" validate:"required"`
	CompactEvery  int           `env:"COMPACT_EVERY" envDefault:"10" validate:"min=1"`

	// scheduler
	SchedulerBuckets  int           `env:"SCHEDULER_BUCKETS" envDefault:"10" validate:"min=1"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"10s" validate:"required"`
	SchedulerBatch    int           `env:"SCHEDULER_BATCH" envDefault:"100" validate:"min=1"`

	// groups
	MaxGroups     int   `env:"MAX_GROUPS" envDefault:"1000" validate:"min=1"`
	MaxLaunchJobs int64 `env:"MAX_LAUNCH_JOBS" envDefault:"10" validate:"min=1"`
}

// Load reads OTTER_-prefixed environment variables into a Config and
// validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "OTTER_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
