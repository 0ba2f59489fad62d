package stepmgr

import (
	"context"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// buildPendingStep registers a placeholder step (state Pending) for a
// step-create request; its ID is taken from job.NextStepID like an
// ordinary step, not the StepIDPending sentinel. It is built for a request that could not be satisfied
// immediately, corresponding to _build_pending_step. The placeholder is
// not allocated any resources; StepCreateWait retries the real
// allocation whenever the job is woken.
func (m *Manager) buildPendingStep(job *types.Job, req CreateRequest) *types.Step {
	stepID := job.NextStepID
	job.NextStepID++
	step := &types.Step{
		ID:        stepID,
		JobID:     job.ID,
		Name:      req.Name,
		Flags:     req.Flags,
		TaskDist:  req.CoreReq.TaskDist,
		State:     types.StepStatePending,
	}
	job.Steps[step.ID] = step
	return step
}

// StepCreateWait behaves like StepCreate but, instead of failing
// immediately when resources are busy, registers a pending placeholder
// and blocks until either the allocation succeeds, ctx is cancelled, or
// the job is woken and the retry also fails for a non-capacity reason.
func (m *Manager) StepCreateWait(ctx context.Context, jobID uint32, req CreateRequest) (*types.Step, error) {
	step, err := m.StepCreate(jobID, req)
	if err == nil {
		return step, nil
	}
	if !ridgeerr.IsCode(err, ridgeerr.CodeCapacity) {
		return nil, err
	}

	m.mu.Lock()
	job, jerr := m.getJob(jobID)
	if jerr != nil {
		m.mu.Unlock()
		return nil, jerr
	}
	placeholder := m.buildPendingStep(job, req)
	wake := make(chan struct{}, 1)
	m.waiters[jobID] = append(m.waiters[jobID], wake)
	m.mu.Unlock()

	defer m.removeWaiter(jobID, wake)

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			delete(job.Steps, placeholder.ID)
			m.mu.Unlock()
			return nil, ctx.Err()
		case <-wake:
			step, err = m.StepCreate(jobID, req)
			if err == nil {
				m.mu.Lock()
				delete(job.Steps, placeholder.ID)
				m.mu.Unlock()
				return step, nil
			}
			if !ridgeerr.IsCode(err, ridgeerr.CodeCapacity) {
				return nil, err
			}
		}
	}
}

func (m *Manager) removeWaiter(jobID uint32, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiters[jobID]
	for i, c := range list {
		if c == ch {
			m.waiters[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// WakePendingSteps notifies any StepCreateWait callers blocked on jobID
// that resources may have freed up, corresponding to _wake_pending_steps.
// Called after a step completes or is cancelled.
func (m *Manager) WakePendingSteps(jobID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakeJob(jobID)
}
