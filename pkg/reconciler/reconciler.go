// Package reconciler re-reads the cluster configuration while the
// controller holds live state, validating that the new config is
// compatible with everything currently running before swapping it in.
// Unlike the teacher's reconciler, which polls node heartbeats and task
// health on a fixed ticker, this reconciler only runs on an explicit
// reconfigure request: the core operation is a snapshot/re-parse/
// validate/rebind sequence, not periodic health polling.
package reconciler

import (
	"fmt"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/metrics"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

var logger = log.WithComponent("reconciler")

// IdentityParams are the cluster-wide parameters the original treats as
// unsafe to change without a full restart: they select which plugin
// implementation is in effect, not a tunable within one implementation.
type IdentityParams struct {
	AuthKind         string
	CredKind         string
	SchedKind        string
	SwitchKind       string
	SelectTypeParams string
	PreemptMode      string
	BurstBufferKind  string
}

// diff returns the field names that changed between old and next.
func (old IdentityParams) diff(next IdentityParams) []string {
	var changed []string
	if old.AuthKind != next.AuthKind {
		changed = append(changed, "AuthKind")
	}
	if old.CredKind != next.CredKind {
		changed = append(changed, "CredKind")
	}
	if old.SchedKind != next.SchedKind {
		changed = append(changed, "SchedKind")
	}
	if old.SwitchKind != next.SwitchKind {
		changed = append(changed, "SwitchKind")
	}
	if old.SelectTypeParams != next.SelectTypeParams {
		changed = append(changed, "SelectTypeParams")
	}
	if old.PreemptMode != next.PreemptMode {
		changed = append(changed, "PreemptMode")
	}
	if old.BurstBufferKind != next.BurstBufferKind {
		changed = append(changed, "BurstBufferKind")
	}
	return changed
}

// Snapshot captures everything Reconcile needs to compare the live state
// against a freshly parsed configuration.
type Snapshot struct {
	Nodes            []*types.Node
	Partitions       []*types.Partition
	DefaultPartition string
	Identity         IdentityParams
}

// Report describes the outcome of one reconciliation: what was applied,
// what was reverted, and whether a full controller restart is required.
type Report struct {
	NeedRestart       bool
	RevertedFields    []string
	AbortedJobIDs     []uint32
	RescaledStepIDs   []uint32
	PreservedFeatures []string
}

// Reconcile validates an already re-parsed configuration against the
// snapshot of the currently running state (it reads no files itself), corresponding to the
// original's read_slurm_conf/validate_node_conf sequence. newNodes and
// newPartitions are the freshly parsed static tables; newIdentity is the
// identity parameter set read from that same parse; jobs are the live
// in-memory jobs the caller wants re-bound to them.
func Reconcile(snap Snapshot, newNodes []*types.Node, newPartitions []*types.Partition, newIdentity IdentityParams, jobs []*types.Job) (*Report, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	report := &Report{}

	if err := validateNodeIdentity(snap.Nodes, newNodes, report); err != nil {
		return report, err
	}

	revertIdentity(snap.Identity, newIdentity, report)

	byName := make(map[string]*types.Node, len(newNodes))
	for _, n := range newNodes {
		byName[n.Name] = n
	}

	for _, job := range jobs {
		if err := rebindJob(job, byName, newPartitions, report); err != nil {
			logger.Warn().Uint32("job_id", job.ID).Err(err).Msg("job aborted during reconfigure")
			report.AbortedJobIDs = append(report.AbortedJobIDs, job.ID)
		}
	}

	logger.Info().
		Bool("need_restart", report.NeedRestart).
		Int("jobs_aborted", len(report.AbortedJobIDs)).
		Int("steps_rescaled", len(report.RescaledStepIDs)).
		Msg("reconfigure reconciliation complete")

	return report, nil
}

// validateNodeIdentity enforces that node names and count are identical
// to the snapshot. Every node is checked; the node table has no notion of
// dynamic nodes, so none is exempt. A node whose CPU layout
// changed is allowed through but flagged with NeedRestart rather than
// rejected outright, matching the original's CPU-count-only leniency.
func validateNodeIdentity(oldNodes, newNodes []*types.Node, report *Report) error {
	oldByName := make(map[string]*types.Node, len(oldNodes))
	for _, n := range oldNodes {
		oldByName[n.Name] = n
	}
	newByName := make(map[string]*types.Node, len(newNodes))
	for _, n := range newNodes {
		newByName[n.Name] = n
	}

	if len(oldNodes) != len(newNodes) {
		return ridgeerr.Wrap(ridgeerr.CodeStructural,
			fmt.Sprintf("node count changed from %d to %d, restart required", len(oldNodes), len(newNodes)),
			ridgeerr.NeedRestart)
	}

	for name, old := range oldByName {
		next, ok := newByName[name]
		if !ok {
			return ridgeerr.Wrap(ridgeerr.CodeStructural,
				"node "+name+" missing from reloaded config, restart required", ridgeerr.NeedRestart)
		}
		if old.Sockets*old.CoresPerSocket != next.Sockets*next.CoresPerSocket {
			report.NeedRestart = true
			logger.Warn().Str("node", name).Msg("node core count changed, flagging NEED_RESTART")
		}
	}
	return nil
}

// revertIdentity reverts any identity parameter that changed between
// old and next back to old, recording which fields were reverted, since
// changing them live is unsafe in the original. The revert is recorded
// for the caller to act on (persist old back as the effective config);
// this function itself only classifies the change.
func revertIdentity(old, next IdentityParams, report *Report) {
	changed := old.diff(next)
	report.RevertedFields = changed
	if len(changed) > 0 {
		logger.Warn().Strs("fields", changed).Msg("identity parameters changed live, reverting to prior values")
	}
}

// rebindJob re-attaches job to the freshly parsed node table: its
// partition pointer by name, its node/step bitmaps re-materialized
// against the new node records. If the job's partition vanished or its
// job_resources are no longer consistent with the new node layout, the
// job is aborted (the caller is responsible for actually terminating it;
// this function only reports the decision).
func rebindJob(job *types.Job, nodesByName map[string]*types.Node, partitions []*types.Partition, report *Report) error {
	found := false
	for _, p := range partitions {
		if p.Name == job.Partition {
			found = true
			break
		}
	}
	if !found {
		return ridgeerr.New(ridgeerr.CodeStructural, "partition "+job.Partition+" vanished from reloaded config")
	}

	for i, name := range job.NodeNames {
		node, ok := nodesByName[name]
		if !ok {
			return ridgeerr.New(ridgeerr.CodeStructural, "node "+name+" vanished from job allocation")
		}
		if i < len(job.CoresPerNode) && int(job.CoresPerNode[i]) > node.TotalCores() {
			return ridgeerr.New(ridgeerr.CodeStructural,
				"job_resources inconsistent with new socket/core layout on node "+name)
		}
	}

	for _, step := range job.Steps {
		rescaled, err := RescaleStepCoreBitmaps(step, nodesByName)
		if err != nil {
			return err
		}
		if rescaled {
			report.RescaledStepIDs = append(report.RescaledStepIDs, step.ID)
		}
	}
	return nil
}
