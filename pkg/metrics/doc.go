/*
Package metrics defines and registers the Prometheus metrics exposed by
a ridgeline controller: node/job/step table gauges, Raft replication
health, forwarder fanout and failure counts, broadcast throughput, step
creation latency, and reconciliation cycle duration.

All metrics are registered at package init via prometheus.MustRegister and
exposed for scraping through Handler(), which wraps promhttp.Handler().

# Usage

	timer := metrics.NewTimer()
	// ... perform a step-create ...
	timer.ObserveDuration(metrics.StepCreateDuration)

	http.Handle("/metrics", metrics.Handler())

Collector periodically samples a ClusterView (the live node/job table, a
*controllerstate.Controller in production) on a 15s ticker and updates the
gauge vectors; this mirrors the teacher's collector, which sampled its
manager's node/service tables on the same interval.
*/
package metrics
