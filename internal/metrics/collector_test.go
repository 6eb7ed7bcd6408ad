package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("batchflow_test", prometheus.NewRegistry(), zap.NewNop())
}

func TestCollector_Counters(t *testing.T) {
	c := newTestCollector(t)

	c.RecordAccept("batched")
	c.RecordAccept("batched")
	c.RecordAccept("bypassed")
	c.RecordReject("invalid")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.unitsAccepted.WithLabelValues("batched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unitsAccepted.WithLabelValues("bypassed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unitsRejected.WithLabelValues("invalid")))
}

func TestCollector_Execution(t *testing.T) {
	c := newTestCollector(t)

	c.RecordExecution("full", "completed", "batch", 3, time.Second, 200*time.Millisecond)
	c.RecordExecution("sweep", "failed", "batch", 1, 5*time.Second, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchesExecuted.WithLabelValues("full", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchesExecuted.WithLabelValues("sweep", "failed")))
}

func TestCollector_Gauges(t *testing.T) {
	c := newTestCollector(t)

	c.SetPending(4)
	c.SetInflight(2)
	c.SetKnob("batch", "batch_size", 5)
	c.RecordSystemSample(types.SystemMetrics{CPUPercent: 42.5, MemoryPercent: 61, ThreadCount: 17})

	assert.Equal(t, 4.0, testutil.ToFloat64(c.pendingBatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inflightBatches))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.knobValue.WithLabelValues("batch", "batch_size")))
	assert.Equal(t, 42.5, testutil.ToFloat64(c.cpuPercent))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must not collide as long as they use distinct
	// registries.
	require.NotPanics(t, func() {
		NewCollector("batchflow_test", prometheus.NewRegistry(), zap.NewNop())
		NewCollector("batchflow_test", prometheus.NewRegistry(), zap.NewNop())
	})
}
