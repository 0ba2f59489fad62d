package stepmgr

import (
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// HetJobComponents returns every job sharing job's HetJobID, ordered by
// HetJobOffset, or an error if job is not part of a heterogeneous job.
func (m *Manager) HetJobComponents(jobID uint32) ([]*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.HetJobID == 0 {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, "job is not part of a heterogeneous job")
	}

	var components []*types.Job
	for _, j := range m.jobs {
		if j.HetJobID == job.HetJobID {
			components = append(components, j)
		}
	}
	for i := 1; i < len(components); i++ {
		for j := i; j > 0 && components[j].HetJobOffset < components[j-1].HetJobOffset; j-- {
			components[j], components[j-1] = components[j-1], components[j]
		}
	}
	return components, nil
}

// ValidateHetJobStepCreate checks a step-create against a heterogeneous
// job's full component set before any node or core selection is
// attempted. If the leader's component set is incomplete (a component
// offset is missing, e.g. because one component's job never reached
// running state), the whole hetjob step-create is rejected. If a named
// component has simply vanished from the live job table (its leader job
// record was already cleaned up), only that component's portion of the
// step is rejected, via a distinct error so the caller can tell the two
// cases apart.
func (m *Manager) ValidateHetJobStepCreate(leaderJobID uint32, requiredOffsets []int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	leader, err := m.getJob(leaderJobID)
	if err != nil {
		return err
	}
	if leader.HetJobID == 0 {
		return ridgeerr.New(ridgeerr.CodeUserInput, "job is not a heterogeneous job leader")
	}

	present := make(map[int32]bool)
	for _, j := range m.jobs {
		if j.HetJobID == leader.HetJobID {
			present[j.HetJobOffset] = true
		}
	}

	var missing []int32
	for _, off := range requiredOffsets {
		if !present[off] {
			missing = append(missing, off)
		}
	}
	if len(missing) == len(requiredOffsets) && len(requiredOffsets) > 0 {
		return ridgeerr.New(ridgeerr.CodeStructural, "heterogeneous job leader component set is incomplete")
	}
	if len(missing) > 0 {
		return ridgeerr.New(ridgeerr.CodeStructural, "heterogeneous job component vanished before step-create")
	}
	return nil
}
