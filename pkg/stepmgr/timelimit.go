package stepmgr

import (
	"context"
	"time"

	"github.com/cuemby/ridgeline/pkg/types"
)

// CheckTimeLimits scans every running step across every known job and
// signals (via sig) any step whose TimeLimit has elapsed since its
// StartTime. It is meant to be called periodically by the owning
// controller's ticker, not run as its own goroutine, to keep a single
// lock-ordering discipline with the rest of the manager.
func (m *Manager) CheckTimeLimits(ctx context.Context, sig Signaler, now time.Time) {
	m.mu.Lock()
	type expired struct {
		jobID, stepID uint32
	}
	var due []expired
	for _, job := range m.jobs {
		for _, step := range job.Steps {
			if step.State != types.StepStateRunning {
				continue
			}
			if step.TimeLimit <= 0 {
				continue
			}
			if now.Sub(step.StartTime) >= step.TimeLimit {
				due = append(due, expired{job.ID, step.ID})
			}
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		logger.Warn().Uint32("job_id", e.jobID).Uint32("step_id", e.stepID).Msg("step time limit exceeded, signaling")
		_ = m.JobStepSignal(ctx, sig, e.jobID, e.stepID, SignalTermination)
	}
}

// SignalTermination is the signal number CheckTimeLimits delivers to a
// step whose time limit has elapsed (SIGTERM, matching the original's
// default course of action before escalating to SIGKILL).
const SignalTermination = 15
