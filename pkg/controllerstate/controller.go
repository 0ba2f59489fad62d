package controllerstate

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/metrics"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

var logger = log.WithComponent("controllerstate")

// Controller owns one node's raft membership and the BoltDB-backed table
// it replicates: node, job, and partition state, adapted from the
// teacher's Manager with the container/DNS/ingress/CA/secrets/event-broker
// facilities this domain has no use for stripped out.
type Controller struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *FSM
	store Store
}

type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

func NewController(cfg *Config) (*Controller, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create controller state store: %w", err)
	}

	return &Controller{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
	}, nil
}

func (c *Controller) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(c.nodeID)
	// Tuned for LAN-latency deployments, not WAN: the defaults target a
	// failover well under the original's 2-minute node-not-responding
	// timeout, since controller failover should not itself become the
	// slowest part of recovering from a down node.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (c *Controller) setupRaft() (*raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(c.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(c.raftConfig(), c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}
	c.raft = r
	return transport, nil
}

// Bootstrap starts a new single-controller cluster.
func (c *Controller) Bootstrap() error {
	transport, err := c.setupRaft()
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.nodeID), Address: transport.LocalAddr()}},
	}
	if err := c.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}
	logger.Info().Str("node_id", c.nodeID).Msg("controller bootstrapped")
	return nil
}

// Join starts this controller's raft node without bootstrapping; the
// caller is expected to already be a voter added by the leader via
// AddVoter, or to add itself afterward.
func (c *Controller) Join() error {
	_, err := c.setupRaft()
	return err
}

func (c *Controller) AddVoter(nodeID, address string) error {
	if c.raft == nil {
		return ridgeerr.New(ridgeerr.CodeStructural, "raft not initialized")
	}
	if !c.IsLeader() {
		return ridgeerr.New(ridgeerr.CodeUserInput, "not the leader, current leader: "+c.LeaderAddr())
	}
	if err := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

func (c *Controller) RemoveServer(nodeID string) error {
	if c.raft == nil {
		return ridgeerr.New(ridgeerr.CodeStructural, "raft not initialized")
	}
	if !c.IsLeader() {
		return ridgeerr.New(ridgeerr.CodeUserInput, "not the leader")
	}
	if err := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

func (c *Controller) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

func (c *Controller) LeaderAddr() string {
	if c.raft == nil {
		return ""
	}
	return string(c.raft.Leader())
}

// RaftStats implements metrics.ClusterView's raft-sampling surface.
func (c *Controller) RaftStats() map[string]uint64 {
	if c.raft == nil {
		return nil
	}
	stats := map[string]uint64{
		"last_log_index": c.raft.LastIndex(),
		"applied_index":  c.raft.AppliedIndex(),
	}
	if cfgFuture := c.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	}
	return stats
}

// Apply submits a command to the raft log and waits for it to commit.
func (c *Controller) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if c.raft == nil {
		return ridgeerr.New(ridgeerr.CodeStructural, "raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := c.raft.Apply(data, 5*time.Second).Error(); err != nil {
		return fmt.Errorf("apply raft command: %w", err)
	}
	return nil
}

func (c *Controller) Close() error {
	if c.raft != nil {
		if err := c.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return c.store.Close()
}

// Get implements stepmgr.NodeTable directly against the local replica,
// bypassing Apply since node reads never need raft consensus.
func (c *Controller) Get(name string) (*types.Node, bool) {
	node, err := c.store.GetNode(name)
	if err != nil {
		return nil, false
	}
	return node, true
}

// ListNodes and ListJobs implement metrics.ClusterView.
func (c *Controller) ListNodes() ([]*types.Node, error) { return c.store.ListNodes() }
func (c *Controller) ListJobs() ([]*types.Job, error)   { return c.store.ListJobs() }
