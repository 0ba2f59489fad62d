package controllerstate

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/types"
)

type memStore struct {
	nodes      map[string]*types.Node
	jobs       map[uint32]*types.Job
	partitions map[string]*types.Partition
}

func newMemStore() *memStore {
	return &memStore{
		nodes:      make(map[string]*types.Node),
		jobs:       make(map[uint32]*types.Job),
		partitions: make(map[string]*types.Partition),
	}
}

func (s *memStore) CreateNode(n *types.Node) error { s.nodes[n.Name] = n; return nil }
func (s *memStore) UpdateNode(n *types.Node) error  { s.nodes[n.Name] = n; return nil }
func (s *memStore) GetNode(name string) (*types.Node, error) {
	n, ok := s.nodes[name]
	if !ok {
		return nil, errNotFound
	}
	return n, nil
}
func (s *memStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out, nil
}
func (s *memStore) DeleteNode(name string) error { delete(s.nodes, name); return nil }

func (s *memStore) CreateJob(j *types.Job) error { s.jobs[j.ID] = j; return nil }
func (s *memStore) UpdateJob(j *types.Job) error  { s.jobs[j.ID] = j; return nil }
func (s *memStore) GetJob(id uint32) (*types.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, errNotFound
	}
	return j, nil
}
func (s *memStore) ListJobs() ([]*types.Job, error) {
	var out []*types.Job
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}
func (s *memStore) DeleteJob(id uint32) error { delete(s.jobs, id); return nil }

func (s *memStore) CreatePartition(p *types.Partition) error { s.partitions[p.Name] = p; return nil }
func (s *memStore) UpdatePartition(p *types.Partition) error { s.partitions[p.Name] = p; return nil }
func (s *memStore) GetPartition(name string) (*types.Partition, error) {
	p, ok := s.partitions[name]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}
func (s *memStore) ListPartitions() ([]*types.Partition, error) {
	var out []*types.Partition
	for _, p := range s.partitions {
		out = append(out, p)
	}
	return out, nil
}
func (s *memStore) DeletePartition(name string) error { delete(s.partitions, name); return nil }

func (s *memStore) SaveConfigLite(data []byte) error     { return nil }
func (s *memStore) LoadConfigLite() ([]byte, error)      { return nil, nil }
func (s *memStore) Close() error                         { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func applyCmd(t *testing.T, f *FSM, op string, data interface{}) interface{} {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cmd := Command{Op: op, Data: raw}
	encoded, err := json.Marshal(cmd)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: encoded})
}

func TestFSMAppliesNodeLifecycle(t *testing.T) {
	store := newMemStore()
	f := NewFSM(store)

	result := applyCmd(t, f, "create_node", &types.Node{Name: "node01", Sockets: 2, CoresPerSocket: 4})
	require.Nil(t, result)

	node, err := store.GetNode("node01")
	require.NoError(t, err)
	require.Equal(t, 2, node.Sockets)

	result = applyCmd(t, f, "delete_node", "node01")
	require.Nil(t, result)
	_, err = store.GetNode("node01")
	require.Error(t, err)
}

func TestFSMAppliesJobLifecycle(t *testing.T) {
	store := newMemStore()
	f := NewFSM(store)

	result := applyCmd(t, f, "create_job", &types.Job{ID: 7, UserID: 1})
	require.Nil(t, result)

	job, err := store.GetJob(7)
	require.NoError(t, err)
	require.Equal(t, uint32(1), job.UserID)
}

func TestFSMRejectsUnknownCommand(t *testing.T) {
	store := newMemStore()
	f := NewFSM(store)

	result := applyCmd(t, f, "frobnicate", map[string]string{})
	err, ok := result.(error)
	require.True(t, ok)
	require.Error(t, err)
}

func TestFSMSnapshotAndRestoreRoundTrip(t *testing.T) {
	store := newMemStore()
	f := NewFSM(store)

	require.Nil(t, applyCmd(t, f, "create_node", &types.Node{Name: "node01"}))
	require.Nil(t, applyCmd(t, f, "create_job", &types.Job{ID: 1}))
	require.Nil(t, applyCmd(t, f, "create_partition", &types.Partition{Name: "batch"}))

	snapIface, err := f.Snapshot()
	require.NoError(t, err)
	snap := snapIface.(*Snapshot)

	encoded, err := json.Marshal(snap)
	require.NoError(t, err)

	restoreStore := newMemStore()
	restoreFSM := NewFSM(restoreStore)
	require.NoError(t, restoreFSM.Restore(io.NopCloser(bytes.NewReader(encoded))))

	nodes, err := restoreStore.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	jobs, err := restoreStore.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}
