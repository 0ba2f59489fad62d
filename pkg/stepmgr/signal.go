package stepmgr

import (
	"context"
	"errors"

	"github.com/cuemby/ridgeline/pkg/types"
)

// Signaler delivers a signal to every task of a step on one node. In
// production this is pkg/wire.ForwarderSignaler, backed by pkg/forward;
// tests supply a fake.
type Signaler interface {
	SignalStepOnNode(ctx context.Context, node string, jobID, stepID uint32, signal int, flags types.StepFlag) error
}

// JobStepSignal delivers signal to every task across every node of step,
// corresponding to job_step_signal/signal_step_tasks. Failures on
// individual nodes are collected and returned joined, but delivery to
// the remaining nodes is not aborted, matching signal_step_tasks_on_node
// being called independently per node in the original.
func (m *Manager) JobStepSignal(ctx context.Context, sig Signaler, jobID, stepID uint32, signal int) error {
	m.mu.Lock()
	job, err := m.getJob(jobID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	step, ok := job.Steps[stepID]
	if !ok {
		m.mu.Unlock()
		return fmtInvalidStepID(jobID, stepID)
	}
	nodes := append([]string(nil), step.NodeNames...)
	flags := step.Flags
	m.mu.Unlock()

	var errs []error
	for _, node := range nodes {
		if err := sig.SignalStepOnNode(ctx, node, jobID, stepID, signal, flags); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetStickyFlags ORs extra into step.Flags, for KILL_OOM and
// KILL_NO_SIG_FAIL: both are recorded on the step itself so its eventual
// completion accounting can see why it was signalled, rather than being
// passed only to the immediate signal delivery.
func (m *Manager) SetStickyFlags(jobID, stepID uint32, extra types.StepFlag) error {
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
	step.Flags |= extra
	return nil
}
