// Package stepmgr allocates a running job's cores, memory, and GRES to
// sub-allocations called steps: node selection, core selection with
// GRES affinity and task-distribution preferences, resource accounting
// with a continue-on-error/deallocate-at-end discipline, pending-step
// placeholders, the special whole-job steps, completion and signal
// delivery, and time-limit enforcement.
package stepmgr

import (
	"sync"

	"github.com/cuemby/ridgeline/pkg/credential"
	"github.com/cuemby/ridgeline/pkg/gres"
	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/types"
)

var logger = log.WithComponent("stepmgr")

// NodeTable is the narrow read surface Manager needs on the live
// node table. In production this is backed by pkg/controllerstate; tests
// use an in-memory map.
type NodeTable interface {
	Get(name string) (*types.Node, bool)
}

// Manager owns step creation, completion, and signaling for every job it
// is given. One Manager instance per controller, guarded by a single
// mutex, mirroring the original stepmgr's single multi-threaded process
// model: no event loop, no per-step goroutine.
type Manager struct {
	mu       sync.Mutex
	nodes    NodeTable
	gresQ    gres.Query
	issuer   *credential.Issuer
	jobs     map[uint32]*types.Job
	// waiters holds, per job, channels woken whenever that job's resource
	// state changes, so pending steps can be retried without polling.
	waiters map[uint32][]chan struct{}
	// completedRanges tracks step_partial_comp ranges reported so far for
	// steps still awaiting full completion.
	completedRanges map[stepKey][]NodeRange
}

func NewManager(nodes NodeTable, gresQ gres.Query, issuer *credential.Issuer) *Manager {
	return &Manager{
		nodes:           nodes,
		gresQ:           gresQ,
		issuer:          issuer,
		jobs:            make(map[uint32]*types.Job),
		waiters:         make(map[uint32][]chan struct{}),
		completedRanges: make(map[stepKey][]NodeRange),
	}
}

// AddJob registers a job as eligible for step-create calls. Called once
// when the job starts running.
func (m *Manager) AddJob(job *types.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Steps == nil {
		job.Steps = make(map[uint32]*types.Step)
	}
	m.initJobAccounting(job)
	m.jobs[job.ID] = job
}

// initJobAccounting fills in CoreBitmap, CoresPerNode, CoreBitmapUsed,
// and CPUsUsed for any node in job.NodeNames where the caller left them
// unset, defaulting to "the job owns the whole node" - the common case
// for a job that does not share a node with anyone else. A caller that
// built job.CoreBitmap itself (e.g. to express a MIXED-node allocation
// where the job owns only some of a node's cores) is left untouched.
func (m *Manager) initJobAccounting(job *types.Job) {
	n := len(job.NodeNames)
	if job.CoreBitmap == nil {
		job.CoreBitmap = make([][]bool, n)
	}
	if job.CoresPerNode == nil {
		job.CoresPerNode = make([]int16, n)
	}
	if job.MemPerNodeMB == nil {
		job.MemPerNodeMB = make([]int64, n)
	}
	if job.CoreBitmapUsed == nil {
		job.CoreBitmapUsed = make([][]bool, n)
	}
	if job.CPUsUsed == nil {
		job.CPUsUsed = make([]int32, n)
	}
	if job.MemoryUsed == nil {
		job.MemoryUsed = make([]int64, n)
	}
	for i, name := range job.NodeNames {
		total := 0
		if node, ok := m.nodes.Get(name); ok {
			total = node.TotalCores()
		}
		if job.CoreBitmap[i] == nil {
			bm := make([]bool, total)
			for c := range bm {
				bm[c] = true
			}
			job.CoreBitmap[i] = bm
		}
		if job.CoresPerNode[i] == 0 {
			job.CoresPerNode[i] = int16(countSet(job.CoreBitmap[i]))
		}
		if job.CoreBitmapUsed[i] == nil {
			job.CoreBitmapUsed[i] = make([]bool, len(job.CoreBitmap[i]))
		}
	}
}

func (m *Manager) getJob(jobID uint32) (*types.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmtInvalidJobID(jobID)
	}
	return job, nil
}

// wakeJob notifies every pending-step waiter registered against jobID
// that the job's resource state has changed, corresponding to
// _wake_pending_steps/_wake_steps in the original.
func (m *Manager) wakeJob(jobID uint32) {
	for _, ch := range m.waiters[jobID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
