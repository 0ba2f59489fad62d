package controllerstate

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/ridgeline/pkg/types"
)

// FSM applies committed raft log entries to a Store and produces/restores
// snapshots of the full node/job/partition table set, adapted from the
// teacher's WarrenFSM to this module's command set.
type FSM struct {
	mu    sync.RWMutex
	store Store
}

func NewFSM(store Store) *FSM {
	return &FSM{store: store}
}

// Command is the raft log entry payload: an operation name plus its
// JSON-encoded argument.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case "update_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case "delete_node":
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeleteNode(name)

	case "create_job":
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.CreateJob(&job)

	case "update_job":
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.UpdateJob(&job)

	case "delete_job":
		var id uint32
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteJob(id)

	case "create_partition":
		var p types.Partition
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.CreatePartition(&p)

	case "update_partition":
		var p types.Partition
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.UpdatePartition(&p)

	case "delete_partition":
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeletePartition(name)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	jobs, err := f.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	partitions, err := f.store.ListPartitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	return &Snapshot{Nodes: nodes, Jobs: jobs, Partitions: partitions}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snap.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("restore node: %w", err)
		}
	}
	for _, job := range snap.Jobs {
		if err := f.store.CreateJob(job); err != nil {
			return fmt.Errorf("restore job: %w", err)
		}
	}
	for _, p := range snap.Partitions {
		if err := f.store.CreatePartition(p); err != nil {
			return fmt.Errorf("restore partition: %w", err)
		}
	}
	return nil
}

// Snapshot is the point-in-time state raft persists and ships to lagging
// followers.
type Snapshot struct {
	Nodes      []*types.Node
	Jobs       []*types.Job
	Partitions []*types.Partition
}

func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *Snapshot) Release() {}
