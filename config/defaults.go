package config

import (
	"time"

	"github.com/BaSui01/batchflow/behavior"
	"github.com/BaSui01/batchflow/perf"
	"github.com/BaSui01/batchflow/types"
)

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Batcher:   types.DefaultConfig(),
		Priority:  DefaultPriorityConfig(),
		Behavior:  DefaultBehaviorConfig(),
		Ledger:    perf.DefaultLedgerConfig(),
		Sampler:   perf.DefaultSamplerConfig(),
		Optimizer: perf.DefaultOptimizerConfig(),
		Alerter:   perf.DefaultAlerterConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultPriorityConfig returns the default classifier configuration.
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		MentionTokens:   nil,
		UrgencyKeywords: nil, // falls back to the built-in list
	}
}

// DefaultBehaviorConfig returns the default behavior store configuration.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		Backend: "memory",
		Redis:   behavior.DefaultRedisConfig(),
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "batchflow",
		SampleRate:   0.1,
	}
}
