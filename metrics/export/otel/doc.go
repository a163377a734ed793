// Package otel binds engine counters and histograms to OpenTelemetry
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per histogram bucket. A single callback reads
// [authcache.Engine.MetricsSnapshot] on each collection cycle.
//
// The package never owns the OTel MeterProvider and never mutates engine
// state; callers supply the Meter.
package otel
