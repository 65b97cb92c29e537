// Package otel binds client counters and latency histograms to
// OpenTelemetry asynchronous instruments.
//
// Each counter becomes an Int64ObservableCounter with the same name the
// Prometheus exporter uses. Histograms are published as one
// Int64ObservableGauge per cumulative bucket plus a _count gauge. A single
// registered callback snapshots the client on every collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
