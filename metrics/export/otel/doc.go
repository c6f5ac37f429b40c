// Package otel binds engine metrics to OpenTelemetry observable
// instruments.
//
// Each counter becomes an Int64ObservableCounter. The latency histogram is
// reported as a cumulative bucket gauge keyed by an "le" attribute plus a
// count gauge. The caller owns the MeterProvider and supplies the Meter.
package otel
