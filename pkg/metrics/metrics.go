package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster-table metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridgeline_nodes_total",
			Help: "Total number of nodes by state",
		},
		[]string{"state"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridgeline_jobs_total",
			Help: "Total number of jobs by state",
		},
		[]string{"state"},
	)

	StepsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridgeline_steps_total",
			Help: "Total number of steps by state",
		},
		[]string{"state"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ridgeline_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ridgeline_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ridgeline_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ridgeline_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridgeline_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridgeline_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Forwarder metrics
	ForwardFanoutDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_forward_fanout_depth",
			Help:    "Depth of the forwarding tree built for a fanout request",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 16},
		},
	)

	ForwardFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ridgeline_forward_failures_total",
			Help: "Total number of node-level forward delivery failures",
		},
	)

	// Broadcast agent metrics
	BcastBlocksSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ridgeline_bcast_blocks_sent_total",
			Help: "Total number of file broadcast blocks sent",
		},
	)

	BcastBytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ridgeline_bcast_bytes_sent_total",
			Help: "Total number of uncompressed file broadcast bytes sent",
		},
	)

	BcastCompressionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_bcast_compression_duration_seconds",
			Help:    "Time taken to LZ4-compress one broadcast block",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Step manager metrics
	StepCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_step_create_duration_seconds",
			Help:    "Time taken to create a step, including node and core selection",
			Buckets: prometheus.DefBuckets,
		},
	)

	StepCreateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridgeline_step_create_failures_total",
			Help: "Total number of failed step-create attempts by reason",
		},
		[]string{"reason"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_reconciliation_duration_seconds",
			Help:    "Time taken for a reconfigure reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ridgeline_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ConfigParseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ridgeline_config_parse_duration_seconds",
			Help:    "Time taken to parse a configuration file tree",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ForwardFanoutDepth)
	prometheus.MustRegister(ForwardFailuresTotal)
	prometheus.MustRegister(BcastBlocksSentTotal)
	prometheus.MustRegister(BcastBytesSentTotal)
	prometheus.MustRegister(BcastCompressionDuration)
	prometheus.MustRegister(StepCreateDuration)
	prometheus.MustRegister(StepCreateFailuresTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ConfigParseDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
