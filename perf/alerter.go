package perf

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/batchflow/internal/pool"
	"github.com/BaSui01/batchflow/types"
)

// AlertFunc receives threshold-breach alerts. Callbacks run on a shared
// worker pool; a slow or panicking callback cannot block other callbacks or
// the sampler loop.
type AlertFunc func(types.Alert)

// AlerterConfig configures threshold alerting.
type AlerterConfig struct {
	// Enabled turns sample evaluation on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// CPUWarnPercent triggers a warning alert. Default 80.
	CPUWarnPercent float64 `yaml:"cpu_warn_percent" json:"cpu_warn_percent"`
	// MemoryCriticalPercent triggers a critical alert. Default 85.
	MemoryCriticalPercent float64 `yaml:"memory_critical_percent" json:"memory_critical_percent"`
	// ThreadWarnCount triggers a warning alert. Zero disables the check.
	ThreadWarnCount int `yaml:"thread_warn_count" json:"thread_warn_count"`
	// ConnectionWarnCount triggers a warning alert. Zero disables the check.
	ConnectionWarnCount int `yaml:"connection_warn_count" json:"connection_warn_count"`
	// MinInterval suppresses repeat alerts of the same type. Default 30s.
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	// Workers and QueueSize bound the callback delivery pool.
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultAlerterConfig returns sensible defaults.
func DefaultAlerterConfig() AlerterConfig {
	return AlerterConfig{
		Enabled:               true,
		CPUWarnPercent:        80,
		MemoryCriticalPercent: 85,
		ThreadWarnCount:       1000,
		ConnectionWarnCount:   1000,
		MinInterval:           30 * time.Second,
		Workers:               2,
		QueueSize:             128,
	}
}

// Alerter evaluates samples against thresholds and fans resulting alerts out
// to subscribed callbacks.
type Alerter struct {
	config AlerterConfig
	logger *zap.Logger

	mu        sync.RWMutex
	callbacks map[string]AlertFunc
	limiters  map[types.AlertType]*rate.Limiter

	pool    *pool.TaskPool
	dropped atomic.Int64
}

// NewAlerter creates an alerter and starts its delivery pool.
func NewAlerter(config AlerterConfig, logger *zap.Logger) *Alerter {
	def := DefaultAlerterConfig()
	if config.CPUWarnPercent <= 0 {
		config.CPUWarnPercent = def.CPUWarnPercent
	}
	if config.MemoryCriticalPercent <= 0 {
		config.MemoryCriticalPercent = def.MemoryCriticalPercent
	}
	if config.MinInterval <= 0 {
		config.MinInterval = def.MinInterval
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}

	log := logger.With(zap.String("component", "alerter"))
	return &Alerter{
		config:    config,
		logger:    log,
		callbacks: make(map[string]AlertFunc),
		limiters:  make(map[types.AlertType]*rate.Limiter),
		pool: pool.NewTaskPool(pool.TaskPoolConfig{
			Workers:   config.Workers,
			QueueSize: config.QueueSize,
			PanicHandler: func(r any) {
				log.Error("alert callback panicked", zap.Any("panic", r))
			},
		}),
	}
}

// AddCallback subscribes a callback and returns its subscription id.
func (a *Alerter) AddCallback(fn AlertFunc) string {
	id := uuid.NewString()
	a.mu.Lock()
	a.callbacks[id] = fn
	a.mu.Unlock()
	return id
}

// RemoveCallback unsubscribes a previously added callback.
func (a *Alerter) RemoveCallback(id string) {
	a.mu.Lock()
	delete(a.callbacks, id)
	a.mu.Unlock()
}

// Evaluate checks one sample against the configured thresholds and returns
// the alerts it produced, already dispatched to subscribers.
func (a *Alerter) Evaluate(m types.SystemMetrics) []types.Alert {
	if !a.config.Enabled {
		return nil
	}

	var alerts []types.Alert
	if m.CPUPercent > a.config.CPUWarnPercent {
		alerts = append(alerts, types.Alert{
			Type:      types.AlertCPU,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("cpu usage %.1f%% exceeds %.0f%%", m.CPUPercent, a.config.CPUWarnPercent),
			Value:     m.CPUPercent,
			Threshold: a.config.CPUWarnPercent,
			Timestamp: m.Timestamp,
		})
	}
	if m.MemoryPercent > a.config.MemoryCriticalPercent {
		alerts = append(alerts, types.Alert{
			Type:      types.AlertMemory,
			Severity:  types.SeverityCritical,
			Message:   fmt.Sprintf("memory usage %.1f%% exceeds %.0f%%", m.MemoryPercent, a.config.MemoryCriticalPercent),
			Value:     m.MemoryPercent,
			Threshold: a.config.MemoryCriticalPercent,
			Timestamp: m.Timestamp,
		})
	}
	if a.config.ThreadWarnCount > 0 && m.ThreadCount > a.config.ThreadWarnCount {
		alerts = append(alerts, types.Alert{
			Type:      types.AlertThreads,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("thread count %d exceeds %d", m.ThreadCount, a.config.ThreadWarnCount),
			Value:     float64(m.ThreadCount),
			Threshold: float64(a.config.ThreadWarnCount),
			Timestamp: m.Timestamp,
		})
	}
	if a.config.ConnectionWarnCount > 0 && m.ConnectionCount > a.config.ConnectionWarnCount {
		alerts = append(alerts, types.Alert{
			Type:      types.AlertConnections,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("connection count %d exceeds %d", m.ConnectionCount, a.config.ConnectionWarnCount),
			Value:     float64(m.ConnectionCount),
			Threshold: float64(a.config.ConnectionWarnCount),
			Timestamp: m.Timestamp,
		})
	}

	for _, alert := range alerts {
		a.dispatch(alert)
	}
	return alerts
}

// dispatch rate-limits per alert type and hands the alert to every
// subscriber via the delivery pool.
func (a *Alerter) dispatch(alert types.Alert) {
	a.mu.Lock()
	limiter, ok := a.limiters[alert.Type]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(a.config.MinInterval), 1)
		a.limiters[alert.Type] = limiter
	}
	a.mu.Unlock()

	if !limiter.Allow() {
		return
	}

	a.mu.RLock()
	fns := make([]AlertFunc, 0, len(a.callbacks))
	for _, fn := range a.callbacks {
		fns = append(fns, fn)
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn := fn
		err := a.pool.Submit(context.Background(), func(context.Context) {
			fn(alert)
		})
		if err != nil {
			a.dropped.Add(1)
			a.logger.Warn("alert delivery dropped", zap.Error(err),
				zap.String("type", string(alert.Type)))
		}
	}
}

// Dropped returns the number of alert deliveries dropped because the
// delivery pool was saturated or closed.
func (a *Alerter) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops the delivery pool after draining queued deliveries.
func (a *Alerter) Close() {
	a.pool.Close()
}
