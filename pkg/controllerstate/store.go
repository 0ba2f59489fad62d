// Package controllerstate replicates the node, job, and partition tables
// across redundant controllers with hashicorp/raft, durably persisted to
// BoltDB, and exposes the read surfaces pkg/stepmgr and pkg/metrics need
// without either of those packages depending on raft directly.
package controllerstate

import "github.com/cuemby/ridgeline/pkg/types"

// Store is the durable state backing the FSM. BoltStore is the only
// implementation this module ships; tests that don't need durability use
// an in-memory fake satisfying the same interface.
type Store interface {
	CreateNode(node *types.Node) error
	GetNode(name string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(name string) error

	CreateJob(job *types.Job) error
	GetJob(id uint32) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id uint32) error

	CreatePartition(p *types.Partition) error
	GetPartition(name string) (*types.Partition, error)
	ListPartitions() ([]*types.Partition, error)
	UpdatePartition(p *types.Partition) error
	DeletePartition(name string) error

	// SaveConfigLite/LoadConfigLite persist the reconciler's identity
	// baseline (the "last_config_lite" the original writes alongside the
	// state file) across restarts.
	SaveConfigLite(data []byte) error
	LoadConfigLite() ([]byte, error)

	Close() error
}
