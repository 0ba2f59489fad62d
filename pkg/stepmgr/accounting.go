package stepmgr

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// stepAllocLPs commits step's node/core/memory selection into job's
// used-counters (job.CoreBitmapUsed, job.CPUsUsed, job.MemoryUsed),
// corresponding to _step_alloc_lps. OVERLAP_FORCE steps draw from the
// job's owned cores but, per spec, never count against job usage: the
// bitmap and CPU counters are left untouched for them. MEM_ZERO steps
// record the job's own per-node memory allocation (set on step at
// create time) without debiting memory_used.
//
// On a partial failure (one node's commit fails after earlier nodes
// already succeeded) this function keeps attempting the remaining nodes
// rather than aborting immediately, then itself rolls back every node
// that did succeed (stepDeallocLPsIndices) and returns the first error.
// This mirrors the original scheduler's
// documented choice to keep trying every node so a single bad node
// doesn't block diagnosing the rest, and only unwind at the very end.
func (m *Manager) stepAllocLPs(job *types.Job, step *types.Step) error {
	overlapForce := step.Flags&types.StepFlagOverlapForce != 0
	memZero := step.Flags&types.StepFlagMemZero != 0

	var firstErr error
	committed := make([]int, 0, len(step.NodeNames))

	for si, name := range step.NodeNames {
		i := job.NodeIndex(name)
		if i < 0 {
			if firstErr == nil {
				firstErr = ridgeerr.New(ridgeerr.CodeStructural, "node "+name+" not part of job allocation")
			}
			continue
		}
		bitmap := step.CoreBitmaps[si]
		owned := job.CoreBitmap[i]
		if len(bitmap) != len(owned) {
			if firstErr == nil {
				firstErr = ridgeerr.New(ridgeerr.CodeStructural, "core bitmap length mismatch for node "+name)
			}
			continue
		}

		conflict := false
		for c, want := range bitmap {
			if !want {
				continue
			}
			if !owned[c] {
				if firstErr == nil {
					firstErr = ridgeerr.New(ridgeerr.CodeStructural, "step claimed a core its job does not own on "+name)
				}
				conflict = true
				continue
			}
			if !overlapForce && job.CoreBitmapUsed[i][c] {
				if firstErr == nil {
					firstErr = ridgeerr.NodesBusy
				}
				conflict = true
			}
		}
		if conflict {
			continue
		}

		if !overlapForce {
			gained := 0
			for c, want := range bitmap {
				if want && !job.CoreBitmapUsed[i][c] {
					job.CoreBitmapUsed[i][c] = true
					gained++
				}
			}
			job.CPUsUsed[i] += int32(gained * threadsPerCore(m, name))
		}

		if !memZero {
			memPerNode := step.MemPerNodeMB
			if i < len(job.MemoryUsed) {
				job.MemoryUsed[i] += memPerNode
			}
		}

		committed = append(committed, si)
	}

	if firstErr != nil {
		m.stepDeallocLPsIndices(job, step, committed)
		return firstErr
	}
	return nil
}

// stepDeallocLPs releases every core and memory byte step holds against
// job, corresponding to _step_dealloc_lps. Safe to call on a step that
// never fully allocated (idempotent per node).
func (m *Manager) stepDeallocLPs(job *types.Job, step *types.Step) {
	all := make([]int, len(step.NodeNames))
	for i := range all {
		all[i] = i
	}
	m.stepDeallocLPsIndices(job, step, all)
}

func (m *Manager) stepDeallocLPsIndices(job *types.Job, step *types.Step, indices []int) {
	overlapForce := step.Flags&types.StepFlagOverlapForce != 0
	memZero := step.Flags&types.StepFlagMemZero != 0

	for _, si := range indices {
		if si >= len(step.NodeNames) {
			continue
		}
		name := step.NodeNames[si]
		i := job.NodeIndex(name)
		if i < 0 {
			continue
		}

		if !overlapForce && si < len(step.CoreBitmaps) {
			bitmap := step.CoreBitmaps[si]
			released := 0
			for c, held := range bitmap {
				if held && c < len(job.CoreBitmapUsed[i]) && job.CoreBitmapUsed[i][c] {
					job.CoreBitmapUsed[i][c] = false
					released++
				}
			}
			job.CPUsUsed[i] -= int32(released * threadsPerCore(m, name))
			if job.CPUsUsed[i] < 0 {
				job.CPUsUsed[i] = 0
			}
		}

		if !memZero && i < len(job.MemoryUsed) {
			job.MemoryUsed[i] -= step.MemPerNodeMB
			if job.MemoryUsed[i] < 0 {
				job.MemoryUsed[i] = 0
			}
		}
	}
}

// threadsPerCore reports a node's hardware threads per physical core, or
// 1 if the node can't be looked up, so cpus_used can be reported scaled
// the same way cpus_alloc is.
func threadsPerCore(m *Manager, name string) int {
	if node, ok := m.nodes.Get(name); ok && node.ThreadsPerCore > 0 {
		return node.ThreadsPerCore
	}
	return 1
}

// countCPUs sums the bits set across every node's core bitmap for step,
// corresponding to _count_cpus.
func countCPUs(step *types.Step) int32 {
	var n int32
	for _, bitmap := range step.CoreBitmaps {
		for _, b := range bitmap {
			if b {
				n++
			}
		}
	}
	return n
}
