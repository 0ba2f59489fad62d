// Package types defines the core data model shared across the cluster
// workload manager: nodes, partitions, jobs, steps, and the wire-level
// request/message shapes the forwarder and broadcast agent pass around.
package types

import (
	"time"

	"github.com/google/uuid"
)

// NodeState is the lifecycle state of a compute node as seen by the
// controller.
type NodeState int

const (
	NodeStateUnknown NodeState = iota
	NodeStateIdle
	NodeStateAllocated
	NodeStateMixed
	NodeStateDown
	NodeStateDraining
	NodeStateDrained
	NodeStateFailed
)

func (s NodeState) String() string {
	switch s {
	case NodeStateIdle:
		return "IDLE"
	case NodeStateAllocated:
		return "ALLOCATED"
	case NodeStateMixed:
		return "MIXED"
	case NodeStateDown:
		return "DOWN"
	case NodeStateDraining:
		return "DRAINING"
	case NodeStateDrained:
		return "DRAINED"
	case NodeStateFailed:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Node is a compute node in the cluster. Core bitmaps anywhere in this
// package that are relative to a node are indexed
// [socket*CoresPerSocket + core]. Node itself carries no allocation
// state: which of its cores and how much of its memory belong to which
// job is owned by Job (CoreBitmap/CoresPerNode/MemPerNodeMB) and tracked
// per-job (CoreBitmapUsed/CPUsUsed/MemoryUsed), since a MIXED node can be
// shared by more than one job and only the owning job knows which bits
// are its own.
type Node struct {
	Name          string
	Index         int // position in the controller's node table; renumbered on reconfigure
	State         NodeState
	Sockets       int
	CoresPerSocket int
	ThreadsPerCore int
	RealMemoryMB   int64
	Features       []string
	Gres           []GresSpec
	LastHeartbeat  time.Time
	Weight         int
}

func (n *Node) TotalCores() int { return n.Sockets * n.CoresPerSocket }

// GresSpec names a generic resource (gpu, mic, nic, ...) and its count and,
// when core-affinity is configured, which cores it is bound to.
type GresSpec struct {
	Name       string
	Type       string
	Count      int64
	CoreBitmap []bool
}

// PartitionFlag is a bit in Partition.Flags.
type PartitionFlag uint32

const (
	PartitionFlagDefault PartitionFlag = 1 << iota
	PartitionFlagHidden
	PartitionFlagExclusiveUser
	PartitionFlagRootOnly
	PartitionFlagLLN // least-loaded-node scheduling within the partition
)

type Partition struct {
	Name         string
	Nodes        []string // node names, order defines the partition's node-index space
	Flags        PartitionFlag
	MaxTime      time.Duration
	DefaultTime  time.Duration
	State        string
	OverSubscribe OverSubscribeMode
}

type OverSubscribeMode int

const (
	OverSubscribeNo OverSubscribeMode = iota
	OverSubscribeYes
	OverSubscribeForce
	OverSubscribeExclusive
)

// JobState is the coarse job lifecycle state.
type JobState int

const (
	JobStatePending JobState = iota
	JobStateRunning
	JobStateSuspended
	JobStateComplete
	JobStateCancelled
	JobStateFailed
	JobStateTimeout
	JobStateNodeFail
)

func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "PENDING"
	case JobStateRunning:
		return "RUNNING"
	case JobStateSuspended:
		return "SUSPENDED"
	case JobStateComplete:
		return "COMPLETE"
	case JobStateCancelled:
		return "CANCELLED"
	case JobStateFailed:
		return "FAILED"
	case JobStateTimeout:
		return "TIMEOUT"
	case JobStateNodeFail:
		return "NODE_FAIL"
	default:
		return "UNKNOWN"
	}
}

// Job is a running (or about to run) allocation: a set of nodes and a core
// count per node, owned by one user, subdivided into steps.
type Job struct {
	ID           uint32
	UserID       uint32
	Partition    string
	NodeNames    []string // allocation, in node-index order
	CoresPerNode []int16  // cpus_alloc(n): count of cores the job owns on each node, parallel to NodeNames
	MemPerNodeMB []int64  // memory_alloc(n), parallel to NodeNames
	// CoreBitmap is job_resources.core_bitmap: for each node in
	// NodeNames, which of that node's cores the job owns. Parallel to
	// NodeNames; CoreBitmap[i] has length node.TotalCores() for the node
	// named NodeNames[i]. This is the bitmap step core selection draws
	// from — a step may never pick a core outside its job's own
	// CoreBitmap.
	CoreBitmap [][]bool
	// CoreBitmapUsed is job.core_bitmap_used: the subset of CoreBitmap
	// currently claimed by running steps that are not OVERLAP_FORCE.
	CoreBitmapUsed [][]bool
	// CPUsUsed is job.cpus_used(n): parallel to NodeNames. Mirrors the
	// popcount of CoreBitmapUsed[i] scaled by the node's threads-per-core,
	// maintained alongside it rather than recomputed, since OVERLAP_FORCE
	// steps must not move it even though they also don't touch the bitmap.
	CPUsUsed []int32
	// MemoryUsed is job.memory_used(n), parallel to NodeNames.
	MemoryUsed []int64
	State      JobState
	TimeLimit  time.Duration
	StartTime  time.Time
	Steps      map[uint32]*Step
	NextStepID uint32
	// NextStepNodeInx is the round-robin cursor used when supplementing a
	// step's node list with additional idle nodes from the job's
	// allocation. It is NOT reset on every step-create: repeated small
	// steps against the same job rotate across the allocation rather than
	// always starting at node 0.
	NextStepNodeInx int
	HetJobID        uint32 // 0 if not part of a heterogeneous job
	HetJobOffset    int32  // -1 if not a het component
	Gres            []GresSpec
}

// NodeIndex returns the position of name within j.NodeNames, or -1 if
// name is not part of the job's allocation.
func (j *Job) NodeIndex(name string) int {
	for i, n := range j.NodeNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Special step-id sentinels, carried over unchanged from the original
// scheduler's reserved ID space.
const (
	StepIDBatchScript   uint32 = 0xfffffffe
	StepIDExternCont    uint32 = 0xfffffffd
	StepIDInteractive   uint32 = 0xfffffffc
	StepIDExtLauncher   uint32 = 0xfffffffb
	StepIDPending       uint32 = 0xfffffffa
)

// StepFlag is a bit in Step.Flags.
type StepFlag uint32

const (
	StepFlagOverlapForce StepFlag = 1 << iota
	StepFlagWhole
	StepFlagExclusive
	// StepFlagOneThreadPerCore is accepted for wire compatibility but not
	// actionable here: core bitmaps in this package index physical cores,
	// not hardware threads, so there is no separate thread axis to mask.
	StepFlagOneThreadPerCore
	StepFlagNoKill
	// StepFlagMemZero marks a step requesting "all of the job's per-node
	// memory" (--mem=0): the step's recorded per-node memory equals the
	// job's own per-node allocation, but it is never debited from
	// job.MemoryUsed.
	StepFlagMemZero
	// StepFlagKillOOM is a sticky bit recorded on a step that was
	// signalled for an out-of-memory condition, so step completion
	// accounting can distinguish it from an ordinary signal delivery.
	StepFlagKillOOM
	// StepFlagNoSigFail marks a step whose signal delivery should not be
	// treated as a step failure even if some nodes could not be reached.
	StepFlagNoSigFail
)

// Step is a sub-allocation of a job's cores/memory to one parallel work
// unit. CoreBitmaps is indexed by position within NodeNames (NOT by the
// job's node index), mirroring the original layout struct.
type Step struct {
	ID           uint32
	JobID        uint32
	Name         string
	NodeNames    []string
	CoreBitmaps  [][]bool // per node, len == that node's TotalCores()
	CPUCount     int32
	MemPerNodeMB int64
	Flags        StepFlag
	TaskDist     TaskDist
	State        StepState
	TimeLimit    time.Duration
	StartTime    time.Time
	Gres         []GresSpec
	CredentialID uuid.UUID
}

type StepState int

const (
	StepStatePending StepState = iota
	StepStateRunning
	StepStateComplete
	StepStateCancelled
	StepStateFailed
)

// TaskDist controls how tasks (and therefore cores) are distributed across
// the step's sockets/nodes during core selection.
type TaskDist int

const (
	TaskDistBlock TaskDist = iota
	TaskDistCyclic
	TaskDistPlaneCyclic
	TaskDistArbitrary
)

// Credential is the opaque, signed token a step's launch is authorized
// with. See pkg/credential for issuance and pkg/security for the reference
// signer.
type Credential struct {
	ID        uuid.UUID
	JobID     uint32
	StepID    uint32
	UserID    uint32
	NodeNames []string
	ExpiresAt time.Time
	Signature []byte
}

// ForwardRequest is one hierarchical-forwarder request: a message fanned
// out to a set of nodes through an intermediate tree.
type ForwardRequest struct {
	Type       MessageType
	TargetNodes []string
	Payload    []byte
	Fanout     int
	StartTimeout   time.Duration
	PerHopTimeout  time.Duration
}

// ForwardResponse pairs a responding node with its reply or failure.
type ForwardResponse struct {
	Node    string
	Payload []byte
	Err     error
}

// MessageType is the wire-level request type code, matching the 16-bit
// type codes in the forwarder's binary protocol.
type MessageType uint16

const (
	MessageTypeForward MessageType = iota + 1
	MessageTypeForwardFailed
	MessageTypeShutdown
	MessageTypeReconfigure
	MessageTypeFileBcast
	MessageTypeJobStepCreate
	MessageTypeJobStepCancel
)

// BroadcastMessage is one block of a file broadcast, matching
// file_bcast_msg from the original implementation: a fixed-size
// (optionally compressed) chunk plus enough metadata for the receiver to
// reconstruct the file without coordination beyond the block sequence.
type BroadcastMessage struct {
	FileName     string
	FileMode     uint32
	BlockNumber  uint32
	BlockCount   uuid.UUID // broadcast session id, not a sequence count
	Offset       int64
	UncompressedLen uint32
	CompressedLen   uint32
	Compressed   bool
	Data         []byte
	Last         bool
	Force        bool
	Preserve     bool
}
