/*
Package metrics provides Prometheus metrics collection and exposition
for burrow.

It registers counters/gauges/histograms for the HTTP layer, catalog
queries, adapter construction, authentication, policy compilation, the
background scheduler, and the object cache, and exposes them via
promhttp for scraping. Instrumenting these is ambient infrastructure:
it is carried even though metrics exporters/dashboards themselves are
out of scope for this service.

# Usage

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.PolicyCompileDuration)

	mux.Handle("/metrics", metrics.Handler())

# Health

HealthChecker tracks the catalog, auth, and policy subsystems
independently so /health, /ready, and /live can distinguish a
live-but-not-ready process from a healthy one. Subsystems report
state with SetComponent as they come up.
*/
package metrics
