package metrics

import (
	"time"

	"github.com/cuemby/ridgeline/pkg/types"
)

// ClusterView is the narrow read surface Collector needs from whatever
// holds the live node/job/step tables (pkg/controllerstate in production).
// Kept as an interface so metrics does not import controllerstate and
// create a dependency cycle with controllerstate's own use of metrics.
type ClusterView interface {
	ListNodes() ([]*types.Node, error)
	ListJobs() ([]*types.Job, error)
	IsLeader() bool
	RaftStats() map[string]uint64
}

// Collector periodically samples a ClusterView and updates the gauge
// vectors declared in metrics.go. Adapted from the teacher's metrics collector, which did
// the same thing for container/service tables on a 15s ticker.
type Collector struct {
	view   ClusterView
	stopCh chan struct{}
}

func NewCollector(view ClusterView) *Collector {
	return &Collector{
		view:   view,
		stopCh: make(chan struct{}),
	}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectJobStepMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.view.ListNodes()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.State.String()]++
	}
	for state, count := range counts {
		NodesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectJobStepMetrics() {
	jobs, err := c.view.ListJobs()
	if err != nil {
		return
	}
	jobCounts := make(map[string]int)
	stepCounts := make(map[string]int)
	for _, j := range jobs {
		jobCounts[j.State.String()]++
		for _, s := range j.Steps {
			stepCounts[stepStateString(s.State)]++
		}
	}
	for state, count := range jobCounts {
		JobsTotal.WithLabelValues(state).Set(float64(count))
	}
	for state, count := range stepCounts {
		StepsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func stepStateString(s types.StepState) string {
	switch s {
	case types.StepStatePending:
		return "PENDING"
	case types.StepStateRunning:
		return "RUNNING"
	case types.StepStateComplete:
		return "COMPLETE"
	case types.StepStateCancelled:
		return "CANCELLED"
	case types.StepStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.view.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	stats := c.view.RaftStats()
	if lastIndex, ok := stats["last_log_index"]; ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"]; ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"]; ok {
		RaftPeers.Set(float64(peers))
	}
}
