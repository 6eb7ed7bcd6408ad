// Package metrics provides internal prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

// Collector registers and records the prometheus metrics of the batching
// subsystem. Construct one per registry; promauto-style duplicate
// registration panics otherwise.
type Collector struct {
	// Intake metrics
	unitsAccepted *prometheus.CounterVec
	unitsRejected *prometheus.CounterVec

	// Batch metrics
	batchesExecuted *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchWaitTime   prometheus.Histogram
	execDuration    *prometheus.HistogramVec
	pendingBatches  prometheus.Gauge
	inflightBatches prometheus.Gauge

	// Tuning metrics
	knobValue *prometheus.GaugeVec

	// Sampled system metrics
	cpuPercent    prometheus.Gauge
	memoryPercent prometheus.Gauge
	threadCount   prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metrics with reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.unitsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_accepted_total",
			Help:      "Total number of accepted units",
		},
		[]string{"result"}, // batched, bypassed
	)

	c.unitsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_rejected_total",
			Help:      "Total number of rejected units",
		},
		[]string{"reason"}, // invalid, saturated, closed
	)

	c.batchesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_executed_total",
			Help:      "Total number of executed batches",
		},
		[]string{"trigger", "status"}, // trigger: full, sweep, bypass, flush; status: completed, failed
	)

	c.batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_units",
			Help:      "Number of units per executed batch",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)

	c.batchWaitTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_wait_seconds",
			Help:      "Time a batch stayed open before execution",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	c.execDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Processing callback duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	c.pendingBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_batches",
			Help:      "Number of open batches waiting for fullness or sweep",
		},
	)

	c.inflightBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_batches",
			Help:      "Number of batches currently executing",
		},
	)

	c.knobValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "knob_value",
			Help:      "Current value of a tunable knob",
		},
		[]string{"operation", "knob"}, // knob: batch_size, cache_size, timeout_seconds
	)

	c.cpuPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_cpu_percent",
			Help:      "Last sampled process-host CPU utilization",
		},
	)

	c.memoryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_memory_percent",
			Help:      "Last sampled memory utilization",
		},
	)

	c.threadCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_thread_count",
			Help:      "Last sampled process thread count",
		},
	)

	reg.MustRegister(
		c.unitsAccepted, c.unitsRejected,
		c.batchesExecuted, c.batchSize, c.batchWaitTime, c.execDuration,
		c.pendingBatches, c.inflightBatches,
		c.knobValue,
		c.cpuPercent, c.memoryPercent, c.threadCount,
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordAccept records an accepted unit by routing result.
func (c *Collector) RecordAccept(result string) {
	c.unitsAccepted.WithLabelValues(result).Inc()
}

// RecordReject records a rejected unit by reason.
func (c *Collector) RecordReject(reason string) {
	c.unitsRejected.WithLabelValues(reason).Inc()
}

// RecordExecution records one executed batch.
func (c *Collector) RecordExecution(trigger, status, operation string, size int, waited, duration time.Duration) {
	c.batchesExecuted.WithLabelValues(trigger, status).Inc()
	c.batchSize.Observe(float64(size))
	c.batchWaitTime.Observe(waited.Seconds())
	c.execDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPending updates the open-batch gauge.
func (c *Collector) SetPending(n int) {
	c.pendingBatches.Set(float64(n))
}

// SetInflight updates the executing-batch gauge.
func (c *Collector) SetInflight(n int) {
	c.inflightBatches.Set(float64(n))
}

// SetKnob mirrors one knob value into prometheus.
func (c *Collector) SetKnob(operation, knob string, value float64) {
	c.knobValue.WithLabelValues(operation, knob).Set(value)
}

// RecordSystemSample mirrors an OS sample into the gauges.
func (c *Collector) RecordSystemSample(m types.SystemMetrics) {
	c.cpuPercent.Set(m.CPUPercent)
	c.memoryPercent.Set(m.MemoryPercent)
	c.threadCount.Set(float64(m.ThreadCount))
}
