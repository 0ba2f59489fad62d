package stepmgr

import "github.com/cuemby/ridgeline/pkg/types"

// buildSpecialStep registers one of the reserved whole-job step IDs
// (BATCH_SCRIPT, EXTERN_CONT, INTERACTIVE_STEP, EXT_LAUNCHER). These
// steps list every node of the job, but their per-node core bitmaps are
// all clear: they hold none of the job's cores and never compete with
// ordinary steps for resources, since they represent the
// container the job's other steps run inside rather than a parallel
// work unit of their own.
func (m *Manager) buildSpecialStep(job *types.Job, stepID uint32, name string) *types.Step {
	bitmaps := make([][]bool, len(job.NodeNames))
	for i, nodeName := range job.NodeNames {
		if node, ok := m.nodes.Get(nodeName); ok {
			bitmaps[i] = make([]bool, node.TotalCores())
		}
	}
	step := &types.Step{
		ID:        stepID,
		JobID:     job.ID,
		Name:      name,
		NodeNames: job.NodeNames,
		CoreBitmaps: bitmaps,
		Flags:     types.StepFlagWhole,
		State:     types.StepStateRunning,
	}
	job.Steps[step.ID] = step
	return step
}

// BuildBatchScriptStep registers the implicit step that represents the
// job's batch script execution itself.
func (m *Manager) BuildBatchScriptStep(jobID uint32) (*types.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}
	return m.buildSpecialStep(job, types.StepIDBatchScript, "batch"), nil
}

// BuildExternStep registers the container step every job gets to host
// processes (like a prolog/epilog helper) that run outside any ordinary
// step but still need to be tracked against the job's accounting.
func (m *Manager) BuildExternStep(jobID uint32) (*types.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}
	return m.buildSpecialStep(job, types.StepIDExternCont, "extern"), nil
}

// BuildInteractiveStep registers the step backing an interactive
// allocation's shell session.
func (m *Manager) BuildInteractiveStep(jobID uint32) (*types.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}
	return m.buildSpecialStep(job, types.StepIDInteractive, "interactive"), nil
}

// BuildExtLauncherStep registers the step backing an external launcher
// (a third-party MPI launcher driving the job directly).
func (m *Manager) BuildExtLauncherStep(jobID uint32) (*types.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}
	return m.buildSpecialStep(job, types.StepIDExtLauncher, "ext_launcher"), nil
}
