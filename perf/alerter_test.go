package perf

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/testutil"
	"github.com/BaSui01/batchflow/types"
)

func TestAlerter_CPUWarning(t *testing.T) {
	a := NewAlerter(DefaultAlerterConfig(), zap.NewNop())
	t.Cleanup(a.Close)

	var received atomic.Int32
	var last atomic.Value
	a.AddCallback(func(alert types.Alert) {
		last.Store(alert)
		received.Add(1)
	})

	alerts := a.Evaluate(testutil.MakeSystemSample(92, 40))
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertCPU, alerts[0].Type)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, 92.0, alerts[0].Value)
	assert.Equal(t, 80.0, alerts[0].Threshold)

	require.True(t, testutil.WaitFor(func() bool { return received.Load() >= 1 }, 2*time.Second))
	got := last.Load().(types.Alert)
	assert.Contains(t, got.Message, "cpu usage")
}

func TestAlerter_MemoryCritical(t *testing.T) {
	a := NewAlerter(DefaultAlerterConfig(), zap.NewNop())
	t.Cleanup(a.Close)

	alerts := a.Evaluate(testutil.MakeSystemSample(10, 95))
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertMemory, alerts[0].Type)
	assert.Equal(t, types.SeverityCritical, alerts[0].Severity)
}

func TestAlerter_QuietSample(t *testing.T) {
	a := NewAlerter(DefaultAlerterConfig(), zap.NewNop())
	t.Cleanup(a.Close)

	assert.Empty(t, a.Evaluate(testutil.MakeSystemSample(20, 30)))
}

func TestAlerter_Disabled(t *testing.T) {
	cfg := DefaultAlerterConfig()
	cfg.Enabled = false
	a := NewAlerter(cfg, zap.NewNop())
	t.Cleanup(a.Close)

	assert.Empty(t, a.Evaluate(testutil.MakeSystemSample(99, 99)))
}

func TestAlerter_RateLimitsRepeats(t *testing.T) {
	cfg := DefaultAlerterConfig()
	cfg.MinInterval = time.Hour
	a := NewAlerter(cfg, zap.NewNop())
	t.Cleanup(a.Close)

	var received atomic.Int32
	a.AddCallback(func(types.Alert) { received.Add(1) })

	for i := 0; i < 5; i++ {
		a.Evaluate(testutil.MakeSystemSample(95, 10))
	}

	require.True(t, testutil.WaitFor(func() bool { return received.Load() >= 1 }, 2*time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load(), "repeat alerts of one type are suppressed")
}

func TestAlerter_RemoveCallback(t *testing.T) {
	cfg := DefaultAlerterConfig()
	cfg.MinInterval = time.Nanosecond
	a := NewAlerter(cfg, zap.NewNop())
	t.Cleanup(a.Close)

	var received atomic.Int32
	id := a.AddCallback(func(types.Alert) { received.Add(1) })

	a.Evaluate(testutil.MakeSystemSample(95, 10))
	require.True(t, testutil.WaitFor(func() bool { return received.Load() >= 1 }, 2*time.Second))

	a.RemoveCallback(id)
	time.Sleep(2 * time.Millisecond)
	a.Evaluate(testutil.MakeSystemSample(95, 10))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_PanickingCallbackDoesNotBlockOthers(t *testing.T) {
	cfg := DefaultAlerterConfig()
	cfg.MinInterval = time.Nanosecond
	a := NewAlerter(cfg, zap.NewNop())
	t.Cleanup(a.Close)

	var received atomic.Int32
	a.AddCallback(func(types.Alert) { panic("subscriber bug") })
	a.AddCallback(func(types.Alert) { received.Add(1) })

	a.Evaluate(testutil.MakeSystemSample(95, 10))
	assert.True(t, testutil.WaitFor(func() bool { return received.Load() >= 1 }, 2*time.Second))
}
