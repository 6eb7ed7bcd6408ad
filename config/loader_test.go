package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Batcher.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Batcher.MaxBatchAge)
	assert.Equal(t, "memory", cfg.Behavior.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batcher:
  max_batch_size: 12
  max_batch_age: 750ms
  priority_threshold: 6
behavior:
  backend: redis
  redis:
    addr: redis.internal:6379
log:
  level: debug
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Batcher.MaxBatchSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Batcher.MaxBatchAge)
	assert.Equal(t, 6, cfg.Batcher.PriorityThreshold)
	assert.Equal(t, "redis", cfg.Behavior.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Behavior.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batcher:\n  max_batch_size: 12\n"), 0o600))

	t.Setenv("BATCHFLOW_BATCHER_MAX_BATCH_SIZE", "7")
	t.Setenv("BATCHFLOW_BATCHER_SMART_BATCHING", "false")
	t.Setenv("BATCHFLOW_SAMPLER_INTERVAL", "5s")
	t.Setenv("BATCHFLOW_ALERTER_CPU_WARN_PERCENT", "90.5")
	t.Setenv("BATCHFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/batchflow.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Batcher.MaxBatchSize)
	assert.False(t, cfg.Batcher.SmartBatching)
	assert.Equal(t, 5*time.Second, cfg.Sampler.Interval)
	assert.Equal(t, 90.5, cfg.Alerter.CPUWarnPercent)
	assert.Equal(t, []string{"stdout", "/var/log/batchflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("BF_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithEnvPrefix("BF").Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/batchflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Batcher.MaxBatchSize)
}

func TestLoader_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batcher: [not a map"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_ValidationRejectsBadConfig(t *testing.T) {
	t.Setenv("BATCHFLOW_BATCHER_MAX_BATCH_SIZE", "0")
	_, err := NewLoader().Load()
	require.Error(t, err)

	t.Setenv("BATCHFLOW_BATCHER_MAX_BATCH_SIZE", "5")
	t.Setenv("BATCHFLOW_BEHAVIOR_BACKEND", "cassandra")
	_, err = NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "behavior backend")
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Batcher.PriorityThreshold < 9 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestConfig_ValidateDefaults(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
