package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

func TestSampler_Sample(t *testing.T) {
	l := newTestLedger()
	s, err := NewSampler(l, nil, DefaultSamplerConfig(), zap.NewNop())
	require.NoError(t, err)

	m := s.Sample()
	assert.False(t, m.Timestamp.IsZero())
	assert.GreaterOrEqual(t, m.MemoryMB, 0.0)
	assert.GreaterOrEqual(t, m.ThreadCount, 0)
}

func TestSampler_LoopRecordsToLedger(t *testing.T) {
	l := newTestLedger()
	cfg := SamplerConfig{Interval: 10 * time.Millisecond}
	s, err := NewSampler(l, nil, cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return len(l.RecentSystem(10)) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	doneCh := make(chan struct{})
	go func() {
		s.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop after cancellation")
	}
}

func TestSampler_OnSampleHook(t *testing.T) {
	l := newTestLedger()
	hookCh := make(chan struct{}, 16)
	cfg := SamplerConfig{
		Interval: 10 * time.Millisecond,
		OnSample: func(types.SystemMetrics) {
			select {
			case hookCh <- struct{}{}:
			default:
			}
		},
	}
	s, err := NewSampler(l, nil, cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-hookCh:
	case <-time.After(5 * time.Second):
		t.Fatal("sample hook was never invoked")
	}
}
