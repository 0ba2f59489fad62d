package stepmgr

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// CoreRequest is the per-step core selection input for one node, once the
// per-node CPU count has already been derived from the step's task layout
// (see layoutCPUsPerNode in create.go).
type CoreRequest struct {
	CPUsPerNode   int32
	TaskDist      types.TaskDist
	GresName      string // "" if the step does not request GRES-bound cores
	OverSubscribe bool   // oversubscribe cores the job has already claimed elsewhere
}

// usableCPUs returns how many of job's own cores on node index i a new
// step may draw from, before GRES/traversal-order selection, per the
// usable_cpus(n) rule: OVERLAP_FORCE ignores what other steps on the job
// already hold, WHOLE requires the job's whole share of the node be
// untouched or yields zero, and the default subtracts what is already in
// use.
func usableCPUs(job *types.Job, i int, flags types.StepFlag) int {
	owned := countSet(job.CoreBitmap[i])
	switch {
	case flags&types.StepFlagOverlapForce != 0:
		return owned
	case flags&types.StepFlagWhole != 0:
		if countSet(job.CoreBitmapUsed[i]) > 0 {
			return 0
		}
		return owned
	default:
		return owned - countSet(job.CoreBitmapUsed[i])
	}
}

func countSet(bitmap []bool) int {
	n := 0
	for _, b := range bitmap {
		if b {
			n++
		}
	}
	return n
}

// pickStepCores selects, from job's own owned cores on node i, which ones
// to bind to the step. GRES-bound cores are preferred first (tier 1),
// then cores on the same socket as any already-selected GRES core (tier
// 2), then any remaining free core (tier 3) - matching the original's
// GRES-affinity preference order in _pick_step_cores/_gres_filter_avail_cores.
// Within each tier, traversal order follows req.TaskDist: block picks
// contiguous cores on one socket before moving to the next, cyclic
// round-robins across sockets. A step may never select a core outside
// job.CoreBitmap[i]: that bitmap is the job's own allocation, and other
// jobs sharing a MIXED node may be using the rest of it.
func (m *Manager) pickStepCores(job *types.Job, i int, node *types.Node, req CoreRequest, flags types.StepFlag) ([]bool, error) {
	owned := job.CoreBitmap[i]
	used := job.CoreBitmapUsed[i]
	total := len(owned)

	overlapForce := flags&types.StepFlagOverlapForce != 0

	free := make([]bool, total)
	for c := range free {
		if !owned[c] {
			continue
		}
		if overlapForce || req.OverSubscribe || !used[c] {
			free[c] = true
		}
	}

	order := coreTraversalOrder(node, req.TaskDist)

	var gresCores map[int]bool
	if req.GresName != "" {
		bound := m.gresQ.CoresForBinding(node, req.GresName)
		if len(bound) == 0 {
			return nil, ridgeerr.InvalidGres
		}
		gresCores = make(map[int]bool, len(bound))
		for _, c := range bound {
			gresCores[c] = true
		}
	}

	want := int(req.CPUsPerNode)
	selected := make([]bool, total)
	count := 0

	// Tier 1: GRES-bound cores.
	if gresCores != nil {
		for _, idx := range order {
			if count >= want {
				break
			}
			if free[idx] && gresCores[idx] {
				selected[idx] = true
				count++
			}
		}
	}

	// Tier 2: same socket as a selected GRES core.
	if count < want && gresCores != nil {
		socketsWithGres := make(map[int]bool)
		for idx := range selected {
			if selected[idx] {
				socketsWithGres[idx/node.CoresPerSocket] = true
			}
		}
		for _, idx := range order {
			if count >= want {
				break
			}
			if free[idx] && !selected[idx] && socketsWithGres[idx/node.CoresPerSocket] {
				selected[idx] = true
				count++
			}
		}
	}

	// Tier 3: any remaining free core the job owns.
	for _, idx := range order {
		if count >= want {
			break
		}
		if free[idx] && !selected[idx] {
			selected[idx] = true
			count++
		}
	}

	if count < want {
		return nil, ridgeerr.NodesBusy
	}
	return selected, nil
}

// coreTraversalOrder returns core indices in the order block or cyclic
// distribution should consider them.
func coreTraversalOrder(node *types.Node, dist types.TaskDist) []int {
	total := node.TotalCores()
	order := make([]int, 0, total)
	switch dist {
	case types.TaskDistCyclic, types.TaskDistPlaneCyclic:
		for c := 0; c < node.CoresPerSocket; c++ {
			for s := 0; s < node.Sockets; s++ {
				order = append(order, s*node.CoresPerSocket+c)
			}
		}
	default: // TaskDistBlock, TaskDistArbitrary
		for i := 0; i < total; i++ {
			order = append(order, i)
		}
	}
	return order
}
