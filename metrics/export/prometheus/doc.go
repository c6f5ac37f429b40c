// Package prometheus serves engine metrics in Prometheus text exposition
// format without a client library or global registry.
//
// Counters are named gomfa_*_total and the verification latency histogram
// is gomfa_verify_latency_seconds. Mount the [Exporter] wherever the host
// serves /metrics.
package prometheus
