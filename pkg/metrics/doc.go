/*
Package metrics exposes Prometheus metrics for Skalds.

Collectors are package-level variables registered at init. Serve the handler
under /metrics on whichever address the process binds:

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
