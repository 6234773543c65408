/*
Package metrics provides Prometheus metrics and health checking for the
SwarmSync Core.

Module code increments counters and histograms directly (heartbeats,
scheduling latency, journal flushes); the Collector samples store-derived
gauges (jobs by state, workers by status, active assignments) on a fixed
interval. Handler exposes the Prometheus registry over HTTP, and the health
checker tracks per-component liveness for /health, /ready, and /live.

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())

Critical components for readiness are the store, the dispatcher, and the
pulse broadcaster.
*/
package metrics
