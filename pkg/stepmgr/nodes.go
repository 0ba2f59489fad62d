package stepmgr

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// NodeRequest describes a step-create call's node-selection constraints.
type NodeRequest struct {
	MinNodes    int
	MaxNodes    int // 0 means unbounded (limited only by job allocation size)
	CPUCount    int32
	ExplicitNodes []string // caller named these nodes explicitly; honored verbatim if eligible
}

// pickStepNodes selects which of job's allocated nodes the step will run
// on, corresponding to _pick_step_nodes in the original. When req names
// explicit nodes those are used as-is (subject to them being part of the
// job's allocation and currently usable); otherwise nodes are picked
// starting from job.NextStepNodeInx and rotating through the allocation,
// so repeated small steps spread out rather than always landing on the
// same prefix of the job's node list.
func (m *Manager) pickStepNodes(job *types.Job, req NodeRequest) ([]string, error) {
	if len(req.ExplicitNodes) > 0 {
		for _, n := range req.ExplicitNodes {
			if !contains(job.NodeNames, n) {
				return nil, ridgeerr.Wrap(ridgeerr.CodeStructural,
					"requested node not part of job allocation", ridgeerr.InvalidGres)
			}
			node, ok := m.nodes.Get(n)
			if !ok || node.State == types.NodeStateDown || node.State == types.NodeStateFailed {
				return nil, ridgeerr.NodesBusy
			}
		}
		return req.ExplicitNodes, nil
	}

	want := req.MinNodes
	if want <= 0 {
		want = 1
	}
	if want > len(job.NodeNames) {
		return nil, ridgeerr.NodesBusy
	}

	selected := make([]string, 0, want)
	seen := make(map[string]bool, want)
	start := job.NextStepNodeInx
	n := len(job.NodeNames)
	visited := 0
	for i := 0; i < n && len(selected) < want; i++ {
		idx := nextNodeInx(start, i, n)
		name := job.NodeNames[idx]
		if seen[name] {
			continue
		}
		node, ok := m.nodes.Get(name)
		if !ok || node.State == types.NodeStateDown || node.State == types.NodeStateFailed {
			continue
		}
		selected = append(selected, name)
		seen[name] = true
		visited = i + 1
	}
	if len(selected) < want {
		return nil, ridgeerr.NodesBusy
	}

	// Advance the cursor past the last node consumed, wrapping, so the
	// next step-create against this job starts further along the
	// allocation instead of re-picking the same nodes.
	job.NextStepNodeInx = nextNodeInx(start, visited, n)
	return selected, nil
}

// nextNodeInx implements _next_node_inx: the i'th node visited starting
// from start, wrapping modulo n.
func nextNodeInx(start, i, n int) int {
	if n == 0 {
		return 0
	}
	return (start + i) % n
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
