package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/config"
)

// scopeName identifies spans emitted by the batching service.
const scopeName = "github.com/BaSui01/batchflow"

// Providers owns the OTel SDK pipelines for the batching service: a tracer
// covering unit ingestion and flush requests, and an OTLP metric reader for
// deployments that ship metrics somewhere other than the Prometheus
// endpoint. When telemetry is disabled both pipelines are nil, Tracer
// returns a noop tracer, and Shutdown does nothing.
type Providers struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
}

// Init builds the OTel SDK from the service configuration. The emitted
// resource carries the batching runtime shape alongside the standard
// service identity, so traces from differently tuned deployments can be
// told apart at the collector.
func Init(cfg *config.Config, logger *zap.Logger) (*Providers, error) {
	tel := cfg.Telemetry
	if !tel.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{tracer: noop.NewTracerProvider().Tracer(scopeName)}, nil
	}

	ctx := context.Background()

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tel.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tel.SampleRate)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tel.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", tel.OTLPEndpoint),
		zap.String("service_name", tel.ServiceName),
		zap.Float64("sample_rate", tel.SampleRate),
	)

	return &Providers{tp: tp, mp: mp, tracer: tp.Tracer(scopeName)}, nil
}

// serviceResource describes this process to the collector: service
// identity plus the batching knobs that shape its traffic.
func serviceResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.Telemetry.ServiceName),
			semconv.ServiceVersionKey.String(buildVersion()),
			attribute.Int("batchflow.max_batch_size", cfg.Batcher.MaxBatchSize),
			attribute.Int("batchflow.max_concurrent_batches", cfg.Batcher.MaxConcurrentBatches),
			attribute.Bool("batchflow.partition_isolation", cfg.Batcher.PartitionIsolation),
			attribute.Bool("batchflow.smart_batching", cfg.Batcher.SmartBatching),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

// Tracer returns the service tracer. Never nil; noop when disabled.
func (p *Providers) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(scopeName)
	}
	return p.tracer
}

// Shutdown flushes pending spans and metrics and closes the exporters.
// Safe on noop Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildVersion extracts the module version from Go build info, falling
// back to "dev".
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
