// Package telemetry wires the OpenTelemetry SDK for batchflow. Init builds
// the TracerProvider and MeterProvider from the service configuration and
// stamps the emitted resource with the batching runtime shape; Tracer hands
// out the span source used by the HTTP surface for ingestion and flush
// requests. When telemetry is disabled everything degrades to noop and no
// external connection is made.
package telemetry
