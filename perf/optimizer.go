package perf

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

// Optimizer thresholds and shrink factors. The summary mirrors these so
// operators can see why a knob moved.
const (
	cpuHighWater           = 70.0
	memoryHighWater        = 75.0
	slowOperationThreshold = 5 * time.Second

	batchSizeShrinkFactor = 0.8
	cacheSizeShrinkFactor = 0.7
	timeoutShrinkFactor   = 0.8

	minSystemSamples    = 10
	minOperationSamples = 5
)

// OptimizerConfig configures the tuning loop.
type OptimizerConfig struct {
	// Interval between tuning passes. Zero means the default of 60s.
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DefaultOptimizerConfig returns sensible defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{Interval: 60 * time.Second}
}

// Optimizer periodically reads the ledger's recent history and shrinks knobs
// when the process is under CPU or memory pressure, or an operation has
// become slow. It only ever tightens; recovery to larger values is left to
// operators resetting knobs, keeping the loop's behavior easy to reason
// about.
type Optimizer struct {
	ledger *Ledger
	config OptimizerConfig
	logger *zap.Logger

	done chan struct{}
}

// NewOptimizer creates an optimizer over the given ledger.
func NewOptimizer(ledger *Ledger, config OptimizerConfig, logger *zap.Logger) *Optimizer {
	if config.Interval <= 0 {
		config.Interval = DefaultOptimizerConfig().Interval
	}
	return &Optimizer{
		ledger: ledger,
		config: config,
		logger: logger.With(zap.String("component", "optimizer")),
		done:   make(chan struct{}),
	}
}

// Start runs the tuning loop until ctx is cancelled.
func (o *Optimizer) Start(ctx context.Context) {
	go o.run(ctx)
}

// Wait blocks until the tuning loop has exited.
func (o *Optimizer) Wait() {
	<-o.done
}

func (o *Optimizer) run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.safeTick()
		}
	}
}

// safeTick runs one tuning pass; a panic is logged and the loop survives to
// its next tick.
func (o *Optimizer) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("optimizer tick panicked", zap.Any("panic", r))
		}
	}()
	o.Tick()
}

// Tick applies one tuning pass. Exported so tests and callers can drive the
// rules without waiting for the ticker. The three rules are independent;
// each fires from its own evidence.
func (o *Optimizer) Tick() {
	samples := o.ledger.RecentSystem(minSystemSamples)
	if len(samples) >= minSystemSamples {
		avgCPU := meanCPU(samples)
		if avgCPU > cpuHighWater {
			changed := o.ledger.ScaleBatchSizeKnobs(batchSizeShrinkFactor)
			o.logger.Info("high cpu, shrinking batch-size knobs",
				zap.Float64("avg_cpu_percent", avgCPU),
				zap.Int("knobs_changed", changed),
			)
		}

		avgMem := meanMemory(samples)
		if avgMem > memoryHighWater {
			changed := o.ledger.ScaleCacheSizeKnobs(cacheSizeShrinkFactor)
			o.logger.Info("high memory, shrinking cache-size knobs",
				zap.Float64("avg_memory_percent", avgMem),
				zap.Int("knobs_changed", changed),
			)
		}
	}

	for _, op := range o.ledger.Operations() {
		recent := o.ledger.RecentOp(op, minOperationSamples)
		if len(recent) < minOperationSamples {
			continue
		}
		avg := meanDuration(recent)
		if avg <= slowOperationThreshold {
			continue
		}
		next := o.ledger.ScaleTimeoutKnob(op, timeoutShrinkFactor)
		o.ledger.AddSuggestion(
			"operation %q averaged %s, timeout tightened to %s", op, avg.Round(time.Millisecond), next)
		o.logger.Info("slow operation, shrinking timeout knob",
			zap.String("operation", op),
			zap.Duration("avg_duration", avg),
			zap.Duration("timeout", next),
		)
	}
}

func meanCPU(samples []types.SystemMetrics) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.CPUPercent
	}
	return sum / float64(len(samples))
}

func meanMemory(samples []types.SystemMetrics) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.MemoryPercent
	}
	return sum / float64(len(samples))
}

func meanDuration(metrics []types.ProcessingMetric) time.Duration {
	var sum time.Duration
	for _, m := range metrics {
		sum += m.Duration
	}
	return sum / time.Duration(len(metrics))
}
