package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, s.RecordInteraction(ctx, "u1", 1500*time.Millisecond, true))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.InDelta(t, 1500, p.AvgResponseMs, 1e-9)
	assert.InDelta(t, 1.0, p.EngagementScore, 1e-9)
	assert.Equal(t, int64(1), p.Interactions)
}

func TestMemoryStore_RollingAverages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.RecordInteraction(ctx, "u1", 1000*time.Millisecond, true))
	require.NoError(t, s.RecordInteraction(ctx, "u1", 2000*time.Millisecond, false))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	// EWMA: 1000*0.8 + 2000*0.2
	assert.InDelta(t, 1200, p.AvgResponseMs, 1e-9)
	// EWMA: 1.0*0.9 + 0.0*0.1
	assert.InDelta(t, 0.9, p.EngagementScore, 1e-9)
	assert.Equal(t, int64(2), p.Interactions)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.RecordInteraction(ctx, "u1", time.Second, true))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	p.AvgResponseMs = -1

	p2, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, p.AvgResponseMs, p2.AvgResponseMs)
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.ProfileTTL = time.Hour

	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	_, err := s.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, s.RecordInteraction(ctx, "u1", 500*time.Millisecond, true))
	require.NoError(t, s.RecordInteraction(ctx, "u1", 1500*time.Millisecond, true))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Interactions)
	assert.InDelta(t, 700, p.AvgResponseMs, 1e-9)
}

func TestRedisStore_Close(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close should be a no-op")

	_, err := s.Get(ctx, "u1")
	assert.Error(t, err)
	assert.Error(t, s.RecordInteraction(ctx, "u1", time.Second, true))
}
