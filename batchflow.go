// Package batchflow provides a top-level entry point that wires the
// batching pipeline and the performance subsystem together with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/batchflow"
//
//	eng, err := batchflow.New(processFn)
//	eng, err := batchflow.New(processFn,
//	    batchflow.WithConfig(cfg),
//	    batchflow.WithLogger(logger),
//	)
//
//	res, err := eng.Accept(ctx, unit)
//	defer eng.Shutdown(ctx)
package batchflow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batcher"
	"github.com/BaSui01/batchflow/behavior"
	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/perf"
	"github.com/BaSui01/batchflow/priority"
	"github.com/BaSui01/batchflow/types"
)

// Re-exported so callers of the facade rarely need the subpackages.
type (
	// Unit is one piece of inbound work.
	Unit = types.Unit
	// ProcessFunc handles a batch of units.
	ProcessFunc = batcher.ProcessFunc
	// Result is the outcome of Accept.
	Result = batcher.Result
	// FlushResult summarizes a FlushAll pass.
	FlushResult = batcher.FlushResult
	// Alert is one threshold breach notification.
	Alert = types.Alert
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	config     *config.Config
	logger     *zap.Logger
	classifier priority.Classifier
	behavior   behavior.Store
	registerer prometheus.Registerer
	sampling   bool
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClassifier replaces the built-in priority classifier.
func WithClassifier(c priority.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithBehaviorStore replaces the behavior store built from configuration.
func WithBehaviorStore(s behavior.Store) Option {
	return func(o *options) { o.behavior = s }
}

// WithMetricsRegisterer sets the prometheus registry for engine metrics.
// Defaults to prometheus.DefaultRegisterer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithoutSampling disables OS resource sampling and the tuning loop. The
// ledger still records processing metrics.
func WithoutSampling() Option {
	return func(o *options) { o.sampling = false }
}

// Engine is the assembled batchflow pipeline: classifier, batch manager,
// executor, behavior store, and the performance subsystem (ledger, sampler,
// optimizer, alerter).
type Engine struct {
	config    *config.Config
	logger    *zap.Logger
	manager   *batcher.Manager
	ledger    *perf.Ledger
	alerter   *perf.Alerter
	sampler   *perf.Sampler
	optimizer *perf.Optimizer
	behavior  behavior.Store
	collector *metrics.Collector

	cancel context.CancelFunc
}

// New assembles and starts an engine around the processing callback.
func New(process ProcessFunc, opts ...Option) (*Engine, error) {
	o := &options{
		registerer: prometheus.DefaultRegisterer,
		sampling:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.config == nil {
		o.config = config.DefaultConfig()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	cfg := o.config

	ledger := perf.NewLedger(cfg.Ledger, o.logger)

	store := o.behavior
	if store == nil {
		var err error
		store, err = buildBehaviorStore(cfg.Behavior, ledger, o.logger)
		if err != nil {
			return nil, err
		}
	}

	classifier := o.classifier
	if classifier == nil {
		base := priority.Options{
			MentionTokens:   cfg.Priority.MentionTokens,
			UrgencyKeywords: cfg.Priority.UrgencyKeywords,
		}
		if cfg.Batcher.SmartBatching {
			classifier = priority.NewSmartScorer(base, store, o.logger)
		} else {
			classifier = priority.NewScorer(base)
		}
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.NewCollector("batchflow", o.registerer, o.logger)
	}

	alerter := perf.NewAlerter(cfg.Alerter, o.logger)

	eng := &Engine{
		config:    cfg,
		logger:    o.logger,
		ledger:    ledger,
		alerter:   alerter,
		behavior:  store,
		collector: collector,
	}

	ctx, cancel := context.WithCancel(context.Background())
	eng.cancel = cancel

	if o.sampling {
		samplerCfg := cfg.Sampler
		if collector != nil {
			samplerCfg.OnSample = collector.RecordSystemSample
		}
		sampler, err := perf.NewSampler(ledger, alerter, samplerCfg, o.logger)
		if err != nil {
			cancel()
			alerter.Close()
			return nil, fmt.Errorf("create sampler: %w", err)
		}
		eng.sampler = sampler
		eng.optimizer = perf.NewOptimizer(ledger, cfg.Optimizer, o.logger)
		eng.sampler.Start(ctx)
		eng.optimizer.Start(ctx)
	}

	manager, err := batcher.NewManager(cfg.Batcher, process, batcher.ManagerOptions{
		Classifier: classifier,
		Ledger:     ledger,
		Behavior:   store,
		Collector:  collector,
		Logger:     o.logger,
	})
	if err != nil {
		cancel()
		if eng.sampler != nil {
			eng.sampler.Wait()
		}
		if eng.optimizer != nil {
			eng.optimizer.Wait()
		}
		alerter.Close()
		return nil, err
	}
	eng.manager = manager

	return eng, nil
}

// OpBehaviorCache is the ledger operation whose cache-size knob bounds the
// profile cache in front of the redis behavior store.
const OpBehaviorCache = "behavior_cache"

func buildBehaviorStore(cfg config.BehaviorConfig, ledger *perf.Ledger, logger *zap.Logger) (behavior.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return behavior.NewMemoryStore(), nil
	case "redis":
		store, err := behavior.NewRedisStore(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		// The cache capacity follows the knob, so the tuning loop can
		// shrink it under memory pressure.
		ledger.RegisterOperation(OpBehaviorCache)
		return behavior.NewCachedStore(store, func() int {
			return ledger.KnobsFor(OpBehaviorCache).CacheSize
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown behavior backend %q", cfg.Backend)
	}
}

// Accept classifies and routes one unit. See [batcher.Manager.Accept].
func (e *Engine) Accept(ctx context.Context, u *Unit) (Result, error) {
	return e.manager.Accept(ctx, u)
}

// FlushAll executes every pending batch immediately.
func (e *Engine) FlushAll(ctx context.Context) FlushResult {
	return e.manager.FlushAll(ctx)
}

// Stats returns a snapshot of batching activity.
func (e *Engine) Stats() batcher.ManagerStats {
	return e.manager.Stats()
}

// RecordMetric appends an externally timed operation to the ledger so it
// participates in summaries and adaptive tuning.
func (e *Engine) RecordMetric(m types.ProcessingMetric) {
	e.ledger.Record(m)
}

// Summary builds a point-in-time performance summary.
func (e *Engine) Summary() perf.Summary {
	return e.ledger.Summary()
}

// Recommendations returns current threshold-based tuning recommendations.
func (e *Engine) Recommendations() []string {
	return e.ledger.Summary().Recommendations
}

// Suggestions returns the optimizer's accumulated tuning suggestions.
func (e *Engine) Suggestions() []string {
	return e.ledger.Suggestions()
}

// OnAlert registers a callback for threshold alerts and returns an id for
// removal.
func (e *Engine) OnAlert(fn perf.AlertFunc) string {
	return e.alerter.AddCallback(fn)
}

// RemoveAlertCallback unregisters an alert callback.
func (e *Engine) RemoveAlertCallback(id string) {
	e.alerter.RemoveCallback(id)
}

// Ledger exposes the performance ledger for advanced callers.
func (e *Engine) Ledger() *perf.Ledger {
	return e.ledger
}

// Shutdown drains the pipeline: stops background loops, flushes pending
// batches, waits for in-flight executions, and releases resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.manager.Shutdown(ctx)

	e.cancel()
	if e.sampler != nil {
		e.sampler.Wait()
	}
	if e.optimizer != nil {
		e.optimizer.Wait()
	}
	e.alerter.Close()

	if cerr := e.behavior.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
