// Package metrics exposes the gateway's Prometheus instrumentation:
// request outcomes, upstream latency, token and cost counters, cache
// effectiveness, wallet rejections and failover activity.
package metrics
