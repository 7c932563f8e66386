// Package metrics collects HTTP request metrics and orchestration runtime
// counters and renders them in Prometheus text exposition format.
package metrics
