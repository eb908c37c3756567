// Package otel binds goRealtime engine metrics to OpenTelemetry instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter, an
// Int64ObservableGauge per histogram bucket, and a gauge for live
// connections. A single callback reads the engine snapshot on each collection.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
