// Package prometheus renders hostauth engine metrics in the Prometheus text
// exposition format.
//
// Counters are named hostauth_*_total and latency histograms
// hostauth_*_seconds. Nothing is registered globally; callers mount
// [Exporter.Handler].
package prometheus
