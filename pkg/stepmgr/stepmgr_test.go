package stepmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/credential"
	"github.com/cuemby/ridgeline/pkg/gres"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/security"
	"github.com/cuemby/ridgeline/pkg/types"
)

type memNodeTable struct {
	nodes map[string]*types.Node
}

func (t *memNodeTable) Get(name string) (*types.Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

func newNode(name string, sockets, coresPerSocket int) *types.Node {
	return &types.Node{
		Name:           name,
		State:          types.NodeStateIdle,
		Sockets:        sockets,
		CoresPerSocket: coresPerSocket,
		RealMemoryMB:   65536,
	}
}

func newTestManager(t *testing.T, nodes ...*types.Node) (*Manager, *memNodeTable) {
	t.Helper()
	table := &memNodeTable{nodes: make(map[string]*types.Node)}
	for _, n := range nodes {
		table.nodes[n.Name] = n
	}
	signer, err := security.NewHMACSigner(security.DeriveKeyFromClusterID("test"))
	require.NoError(t, err)
	issuer := credential.NewIssuer(signer, time.Hour)
	return NewManager(table, gres.NewReference(), issuer), table
}

func TestStepCreateBasicAllocation(t *testing.T) {
	m, _ := newTestManager(t, newNode("node01", 2, 4), newNode("node02", 2, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"node01", "node02"}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		Name:    "step0",
		NodeReq: NodeRequest{MinNodes: 2},
		CoreReq: CoreRequest{CPUsPerNode: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), step.CPUCount)
	assert.Len(t, step.NodeNames, 2)
}

func TestStepCreateNodesBusyWhenInsufficientNodes(t *testing.T) {
	m, _ := newTestManager(t, newNode("node01", 2, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"node01"}}
	m.AddJob(job)

	_, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 2},
		CoreReq: CoreRequest{CPUsPerNode: 1},
	})
	require.Error(t, err)
	assert.True(t, ridgeerr.IsCode(err, ridgeerr.CodeCapacity))
}

func TestStepCreateCoresBusyRollsBackAccounting(t *testing.T) {
	m, _ := newTestManager(t, newNode("node01", 1, 2), newNode("node02", 1, 2))
	job := &types.Job{ID: 1, NodeNames: []string{"node01", "node02"}}
	m.AddJob(job)

	_, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 2},
		CoreReq: CoreRequest{CPUsPerNode: 5},
	})
	require.Error(t, err)

	for i := range job.NodeNames {
		assert.Zero(t, job.CPUsUsed[i], "no core should remain held after a failed step-create")
		assert.Zero(t, job.MemoryUsed[i])
		for _, held := range job.CoreBitmapUsed[i] {
			assert.False(t, held)
		}
	}
}

func TestStepCompleteReleasesResources(t *testing.T) {
	m, _ := newTestManager(t, newNode("node01", 1, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"node01"}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		NodeReq:      NodeRequest{MinNodes: 1},
		CoreReq:      CoreRequest{CPUsPerNode: 2},
		MemPerNodeMB: 1024,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, job.CPUsUsed[0])
	assert.EqualValues(t, 1024, job.MemoryUsed[0])

	require.NoError(t, m.StepComplete(1, step.ID))

	assert.Zero(t, job.CPUsUsed[0])
	assert.Zero(t, job.MemoryUsed[0])
	for _, held := range job.CoreBitmapUsed[0] {
		assert.False(t, held)
	}
}

func TestStepCreateNextNodeInxRotates(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 2), newNode("n2", 1, 2), newNode("n3", 1, 2))
	job := &types.Job{ID: 1, NodeNames: []string{"n1", "n2", "n3"}}
	m.AddJob(job)

	step1, err := m.StepCreate(1, CreateRequest{NodeReq: NodeRequest{MinNodes: 1}, CoreReq: CoreRequest{CPUsPerNode: 1}})
	require.NoError(t, err)
	step2, err := m.StepCreate(1, CreateRequest{NodeReq: NodeRequest{MinNodes: 1}, CoreReq: CoreRequest{CPUsPerNode: 1}})
	require.NoError(t, err)

	assert.NotEqual(t, step1.NodeNames[0], step2.NodeNames[0], "successive small steps should rotate across the allocation")
}

func TestOverlapForceOnWholeStepIsUserError(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"n1"}}
	m.AddJob(job)

	_, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 1},
		CoreReq: CoreRequest{CPUsPerNode: 1},
		Flags:   types.StepFlagWhole | types.StepFlagOverlapForce,
	})
	require.Error(t, err)
	assert.True(t, ridgeerr.IsCode(err, ridgeerr.CodeUserInput))
}

func TestOverlapForceDoesNotCountAgainstJobUsage(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"n1"}}
	m.AddJob(job)

	first, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 1, ExplicitNodes: []string{"n1"}},
		CoreReq: CoreRequest{CPUsPerNode: 2},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, job.CPUsUsed[0])

	// An ordinary second step would be rejected: only 2 cores remain.
	_, err = m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{ExplicitNodes: []string{"n1"}},
		CoreReq: CoreRequest{CPUsPerNode: 4},
	})
	require.Error(t, err)
	assert.True(t, ridgeerr.IsCode(err, ridgeerr.CodeCapacity))

	// OVERLAP_FORCE draws from the same 4 owned cores regardless of what
	// the first step already holds, and must not move CPUsUsed.
	second, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{ExplicitNodes: []string{"n1"}},
		CoreReq: CoreRequest{CPUsPerNode: 4},
		Flags:   types.StepFlagOverlapForce,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, job.CPUsUsed[0], "OVERLAP_FORCE steps must not count against job usage")

	require.NoError(t, m.StepComplete(1, first.ID))
	require.NoError(t, m.StepComplete(1, second.ID))
	assert.Zero(t, job.CPUsUsed[0])
}

func TestMemZeroRecordsJobMemoryWithoutDebitingUsage(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"n1"}, MemPerNodeMB: []int64{8192}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		NodeReq:      NodeRequest{MinNodes: 1},
		CoreReq:      CoreRequest{CPUsPerNode: 1},
		MemPerNodeMB: 256,
		Flags:        types.StepFlagMemZero,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 8192, step.MemPerNodeMB, "MEM_ZERO records the job's own per-node allocation")
	assert.Zero(t, job.MemoryUsed[0], "MEM_ZERO must not debit memory_used")
}

func TestStepCreateLayoutSplitsTasksAcrossNodes(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 2), newNode("n2", 1, 2), newNode("n3", 1, 2), newNode("n4", 1, 2))
	job := &types.Job{ID: 1, NodeNames: []string{"n1", "n2", "n3", "n4"}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		NodeReq:  NodeRequest{MinNodes: 4},
		NumTasks: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(8), step.CPUCount)
	for i, bitmap := range step.CoreBitmaps {
		assert.Equal(t, 2, countSet(bitmap), "node %d should get 2 of the 8 tasks' cpus", i)
	}
}

func TestStepPartialCompOverlappingRangesAggregateWithWarning(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 4))
	job := &types.Job{ID: 1, NodeNames: []string{"n1"}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 1},
		CoreReq: CoreRequest{CPUsPerNode: 4},
	})
	require.NoError(t, err)

	require.NoError(t, m.StepPartialComp(1, step.ID, NodeRange{FirstBit: 0, LastBit: 2}))
	require.NoError(t, m.StepPartialComp(1, step.ID, NodeRange{FirstBit: 1, LastBit: 3}))

	_, err = m.getJob(1)
	require.NoError(t, err)
	m.mu.Lock()
	_, stillPresent := job.Steps[step.ID]
	m.mu.Unlock()
	assert.False(t, stillPresent, "step should complete once the aggregated ranges cover every task index")
}

type fakeSignaler struct {
	signaled []string
}

func (f *fakeSignaler) SignalStepOnNode(ctx context.Context, node string, jobID, stepID uint32, signal int, flags types.StepFlag) error {
	f.signaled = append(f.signaled, node)
	return nil
}

func TestJobStepSignalHitsEveryNode(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 2), newNode("n2", 1, 2))
	job := &types.Job{ID: 1, NodeNames: []string{"n1", "n2"}}
	m.AddJob(job)

	step, err := m.StepCreate(1, CreateRequest{
		NodeReq: NodeRequest{MinNodes: 2},
		CoreReq: CoreRequest{CPUsPerNode: 1},
	})
	require.NoError(t, err)

	sig := &fakeSignaler{}
	require.NoError(t, m.JobStepSignal(context.Background(), sig, 1, step.ID, SignalTermination))
	assert.ElementsMatch(t, []string{"n1", "n2"}, sig.signaled)
}

func TestHetJobValidationRejectsIncompleteLeader(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 2))
	leader := &types.Job{ID: 1, NodeNames: []string{"n1"}, HetJobID: 100, HetJobOffset: 0}
	m.AddJob(leader)

	err := m.ValidateHetJobStepCreate(1, []int32{0, 1})
	require.Error(t, err)
}

func TestHetJobValidationAcceptsCompleteComponents(t *testing.T) {
	m, _ := newTestManager(t, newNode("n1", 1, 2), newNode("n2", 1, 2))
	leader := &types.Job{ID: 1, NodeNames: []string{"n1"}, HetJobID: 100, HetJobOffset: 0}
	comp := &types.Job{ID: 2, NodeNames: []string{"n2"}, HetJobID: 100, HetJobOffset: 1}
	m.AddJob(leader)
	m.AddJob(comp)

	err := m.ValidateHetJobStepCreate(1, []int32{0, 1})
	assert.NoError(t, err)
}
