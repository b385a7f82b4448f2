// Package otel exposes hostauth engine metrics through an OpenTelemetry
// meter.
//
// [New] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads the
// engine snapshot on each collection. Callers own the MeterProvider.
package otel
