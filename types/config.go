package types

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the core batching knobs. It is the validated runtime struct
// handed to the manager; file/env loading lives in the config package.
type Config struct {
	// MaxBatchSize is the upper bound on units per batch.
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`
	// MaxBatchAge is how long a batch may stay open before the sweeper
	// promotes it to execution.
	MaxBatchAge time.Duration `yaml:"max_batch_age" json:"max_batch_age"`
	// MaxConcurrentBatches bounds in-flight executor invocations.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" json:"max_concurrent_batches"`
	// PriorityThreshold is the minimum priority that bypasses batching.
	PriorityThreshold int `yaml:"priority_threshold" json:"priority_threshold"`
	// SmartBatching enables behavior-augmented scoring and per-partition
	// learned batch sizes.
	SmartBatching bool `yaml:"smart_batching" json:"smart_batching"`
	// PartitionIsolation assembles batches per partition key. When disabled
	// all units share one global partition.
	PartitionIsolation bool `yaml:"partition_isolation" json:"partition_isolation"`
	// BlockOnSaturation makes Accept block (bounded by its context) when all
	// executor slots are busy instead of returning a retryable rejection.
	BlockOnSaturation bool `yaml:"block_on_saturation" json:"block_on_saturation"`
	// SweepInterval is the sweeper tick. Zero means the default of 1s.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:         5,
		MaxBatchAge:          5 * time.Second,
		MaxConcurrentBatches: 3,
		PriorityThreshold:    8,
		SmartBatching:        true,
		PartitionIsolation:   true,
		BlockOnSaturation:    true,
		SweepInterval:        time.Second,
	}
}

// Validate checks the configuration for values the manager cannot run with.
func (c Config) Validate() error {
	var errs []string

	if c.MaxBatchSize < 1 {
		errs = append(errs, "max_batch_size must be at least 1")
	}
	if c.MaxBatchAge <= 0 {
		errs = append(errs, "max_batch_age must be positive")
	}
	if c.MaxConcurrentBatches < 1 {
		errs = append(errs, "max_concurrent_batches must be at least 1")
	}
	if c.PriorityThreshold < 0 || c.PriorityThreshold > 10 {
		errs = append(errs, "priority_threshold must be in [0,10]")
	}
	if c.SweepInterval < 0 {
		errs = append(errs, "sweep_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
