package stepmgr

import (
	"time"

	"github.com/cuemby/ridgeline/pkg/metrics"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// CreateRequest bundles everything StepCreate needs to build a step. The
// task-layout fields (NumTasks, CPUsPerTask, CPUCount) describe the
// step's shape the way a caller actually states it (--ntasks,
// --cpus-per-task, --ntasks-per-node and friends resolve to these three
// numbers); StepCreate derives the per-node CPU counts itself rather than
// asking the caller to pre-compute them. CoreReq.CPUsPerNode is ignored
// when any of the layout fields are set.
type CreateRequest struct {
	Name         string
	NodeReq      NodeRequest
	CoreReq      CoreRequest
	NumTasks     int32
	CPUsPerTask  int32
	CPUCount     int32 // authoritative total CPU count, if already known; 0 means derive from NumTasks*CPUsPerTask
	MemPerNodeMB int64
	TimeLimit    int64 // minutes, 0 means inherit the job's remaining time
	Flags        types.StepFlag
}

// StepCreate builds, allocates, and credentials a new step against job,
// corresponding to step_create/_pick_step_nodes/_pick_step_cores/
// _step_alloc_lps in the original. On failure no resources stay
// committed: stepAllocLPs already rolls back a partial commit, and no
// entry is added to job.Steps unless the whole sequence succeeds. The
// job's node cursor (NextStepNodeInx) and, once core selection has
// succeeded, its step-id counter (NextStepID) are still advanced.
func (m *Manager) StepCreate(jobID uint32, req CreateRequest) (*types.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StepCreateDuration)

	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}

	if err := checkOverlapWhole(job, req.Flags); err != nil {
		metrics.StepCreateFailuresTotal.WithLabelValues("overlap_whole").Inc()
		return nil, err
	}

	nodes, err := m.pickStepNodes(job, req.NodeReq)
	if err != nil {
		metrics.StepCreateFailuresTotal.WithLabelValues("nodes_busy").Inc()
		return nil, err
	}

	cpusPerNode, err := m.layoutCPUsPerNode(job, nodes, req)
	if err != nil {
		metrics.StepCreateFailuresTotal.WithLabelValues("layout").Inc()
		return nil, err
	}

	bitmaps := make([][]bool, len(nodes))
	for idx, name := range nodes {
		i := job.NodeIndex(name)
		node, ok := m.nodes.Get(name)
		if !ok || i < 0 {
			metrics.StepCreateFailuresTotal.WithLabelValues("cores_busy").Inc()
			return nil, ridgeerr.New(ridgeerr.CodeStructural, "unknown node in core selection: "+name)
		}
		coreReq := req.CoreReq
		coreReq.CPUsPerNode = cpusPerNode[idx]
		bitmap, err := m.pickStepCores(job, i, node, coreReq, req.Flags)
		if err != nil {
			metrics.StepCreateFailuresTotal.WithLabelValues("cores_busy").Inc()
			return nil, err
		}
		bitmaps[idx] = bitmap
	}

	stepID := job.NextStepID
	job.NextStepID++

	memZero := req.Flags&types.StepFlagMemZero != 0
	memPerNode := req.MemPerNodeMB
	if memZero {
		// MEM_ZERO ("--mem=0") requests the job's own per-node memory
		// allocation. A step's MemPerNodeMB is a single value, so the
		// first node's share stands in for reporting purposes; the
		// accounting exemption happens in stepAllocLPs, which skips the
		// job.MemoryUsed debit entirely for MEM_ZERO steps.
		if len(job.MemPerNodeMB) > 0 {
			if i := job.NodeIndex(nodes[0]); i >= 0 && i < len(job.MemPerNodeMB) {
				memPerNode = job.MemPerNodeMB[i]
			}
		}
	}

	step := &types.Step{
		ID:           stepID,
		JobID:        job.ID,
		Name:         req.Name,
		NodeNames:    nodes,
		CoreBitmaps:  bitmaps,
		CPUCount:     0,
		MemPerNodeMB: memPerNode,
		Flags:        req.Flags,
		TaskDist:     req.CoreReq.TaskDist,
		State:        types.StepStatePending,
		Gres:         job.Gres,
	}
	step.CPUCount = countCPUs(step)

	step.StartTime = time.Now()
	step.TimeLimit = time.Duration(req.TimeLimit) * time.Minute
	if req.TimeLimit <= 0 && job.TimeLimit > 0 {
		step.TimeLimit = job.TimeLimit
		if !job.StartTime.IsZero() {
			step.TimeLimit -= step.StartTime.Sub(job.StartTime)
		}
	}

	if err := m.stepAllocLPs(job, step); err != nil {
		metrics.StepCreateFailuresTotal.WithLabelValues("alloc_failed").Inc()
		return nil, err
	}

	if m.issuer != nil {
		cred, err := m.issuer.Issue(job, step)
		if err != nil {
			m.stepDeallocLPs(job, step)
			return nil, err
		}
		step.CredentialID = cred.ID
	}

	step.State = types.StepStateRunning
	job.Steps[step.ID] = step

	logger.Info().
		Uint32("job_id", job.ID).
		Uint32("step_id", step.ID).
		Strs("nodes", nodes).
		Int32("cpus", step.CPUCount).
		Msg("step created")

	return step, nil
}

// layoutCPUsPerNode derives, for each of the step's already-picked nodes,
// how many CPUs it gets, corresponding to the original's task-layout
// calculation ahead of _pick_step_cores. A WHOLE step always takes
// everything usable of the job's own share on each node, overriding any
// explicit layout input. Otherwise the total CPU count - CPUCount if set,
// else NumTasks*CPUsPerTask - is split evenly across the picked nodes,
// with any remainder going to the first nodes (block distribution),
// matching the default task-distribution order.
func (m *Manager) layoutCPUsPerNode(job *types.Job, nodes []string, req CreateRequest) ([]int32, error) {
	out := make([]int32, len(nodes))

	if req.Flags&types.StepFlagWhole != 0 {
		for idx, name := range nodes {
			i := job.NodeIndex(name)
			if i < 0 {
				return nil, ridgeerr.New(ridgeerr.CodeStructural, "node "+name+" not part of job allocation")
			}
			out[idx] = int32(usableCPUs(job, i, req.Flags))
		}
		return out, nil
	}

	cpusPerTask := req.CPUsPerTask
	if cpusPerTask <= 0 {
		// Boundary rule: cpus_per_task=0 with num_tasks==cpu_count (or
		// with no cpu_count given at all) coerces to one CPU per task.
		cpusPerTask = 1
	}

	total := req.CPUCount
	if total <= 0 {
		total = req.NumTasks * cpusPerTask
	}
	if total <= 0 {
		if req.CoreReq.CPUsPerNode > 0 {
			// Caller supplied a pre-computed per-node count directly
			// (no task-layout fields at all); honor it uniformly.
			for idx := range out {
				out[idx] = req.CoreReq.CPUsPerNode
			}
			return out, nil
		}
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, "step requests zero cpus")
	}

	numNodes := int32(len(nodes))
	if numNodes == 0 {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, "no nodes to lay tasks out across")
	}
	base := total / numNodes
	rem := total % numNodes
	for idx := range out {
		out[idx] = base
		if int32(idx) < rem {
			out[idx]++
		}
	}
	return out, nil
}

// checkOverlapWhole enforces that a WHOLE-flagged step implies exclusive
// use of its nodes: requesting StepFlagOverlapForce together with
// StepFlagWhole on the same step is treated as user error, since WHOLE
// already claims everything there is to overlap with.
func checkOverlapWhole(job *types.Job, flags types.StepFlag) error {
	if flags&types.StepFlagWhole != 0 && flags&types.StepFlagOverlapForce != 0 {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput,
			"OVERLAP_FORCE is meaningless on a WHOLE step", ridgeerr.InvalidGres)
	}
	return nil
}
