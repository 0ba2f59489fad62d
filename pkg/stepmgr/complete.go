package stepmgr

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// StepComplete marks step fully complete, releases its resources, and
// wakes any pending steps on the same job, corresponding to
// _internal_step_complete/delete_step_record.
func (m *Manager) StepComplete(jobID, stepID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.getJob(jobID)
	if err != nil {
		return err
	}
	step, ok := job.Steps[stepID]
	if !ok {
		return fmtInvalidStepID(jobID, stepID)
	}
	if step.State == types.StepStateComplete || step.State == types.StepStateCancelled {
		return ridgeerr.AlreadyDone
	}

	m.stepDeallocLPs(job, step)
	step.State = types.StepStateComplete
	delete(job.Steps, stepID)

	logger.Info().Uint32("job_id", jobID).Uint32("step_id", stepID).Msg("step completed")
	m.wakeJob(jobID)
	return nil
}

// NodeRange identifies a contiguous [FirstBit, LastBit] range within a
// step's combined core/task index space, as the original
// step_partial_comp message carries.
type NodeRange struct {
	FirstBit int
	LastBit  int
}

// StepPartialComp records that the task range in rng has completed on
// one node of a multi-node step, without tearing down the rest of the
// step. If two overlapping ranges are reported (which the protocol does
// not strictly forbid), the second report is aggregated on top of the
// first rather than rejected: a warning is logged and the double-counted
// range is accepted, matching the original's tolerance for this case
// rather than treating it as a protocol violation.
func (m *Manager) StepPartialComp(jobID, stepID uint32, rng NodeRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.getJob(jobID)
	if err != nil {
		return err
	}
	step, ok := job.Steps[stepID]
	if !ok {
		return fmtInvalidStepID(jobID, stepID)
	}

	key := stepKey{jobID, stepID}
	ranges := m.completedRanges[key]
	if rangeOverlapsAny(ranges, rng) {
		logger.Warn().
			Uint32("job_id", jobID).
			Uint32("step_id", stepID).
			Int("first_bit", rng.FirstBit).
			Int("last_bit", rng.LastBit).
			Msg("overlapping step_partial_comp range reported; aggregating anyway")
	}
	ranges = append(ranges, rng)
	m.completedRanges[key] = ranges

	if coversWholeStep(step, ranges) {
		delete(m.completedRanges, key)
		return m.stepCompleteLocked(job, step)
	}
	return nil
}

// stepKey identifies a step across the whole manager, for bookkeeping
// that does not belong on types.Step itself (completion-range tracking
// is a stepmgr-internal accounting detail, not part of the step's
// externally visible state).
type stepKey struct {
	jobID  uint32
	stepID uint32
}

func (m *Manager) stepCompleteLocked(job *types.Job, step *types.Step) error {
	m.stepDeallocLPs(job, step)
	step.State = types.StepStateComplete
	delete(job.Steps, step.ID)
	m.wakeJob(job.ID)
	return nil
}

func rangeOverlapsAny(ranges []NodeRange, rng NodeRange) bool {
	for _, r := range ranges {
		if rng.FirstBit <= r.LastBit && r.FirstBit <= rng.LastBit {
			return true
		}
	}
	return false
}

// coversWholeStep reports whether the union of ranges spans every task
// index in step, i.e. [0, CPUCount-1].
func coversWholeStep(step *types.Step, ranges []NodeRange) bool {
	if step.CPUCount == 0 {
		return false
	}
	covered := make([]bool, step.CPUCount)
	for _, r := range ranges {
		for i := r.FirstBit; i <= r.LastBit && i < len(covered); i++ {
			if i >= 0 {
				covered[i] = true
			}
		}
	}
	for _, c := range covered {
		if !c {
			return false
		}
	}
	return true
}
