/*
Package reconciler re-reads the cluster configuration file while the
controller holds live job and node state, and validates the new config
against what is currently running before it takes effect.

A reconfigure is not periodic; it runs once, on request, as a sequence:

 1. Snapshot the old node table, partition list, default partition, and
    identity parameters (auth/cred/sched/switch/select/preempt/burst-buffer
    kind).
 2. Re-parse the config into a fresh node/partition table (pkg/config).
 3. Validate node names and count against the snapshot; a node whose core
    count changed is allowed through but flagged NeedRestart. Identity
    parameters that changed are reverted to their snapshot values.
 4. Re-bind every live job's partition pointer and re-materialize its
    node and step core bitmaps against the new node records; a job whose
    partition vanished, or whose resource request no longer fits the new
    node layout, is aborted.
 5. Preserve plugin-controlled node features via a FeatureSource.

Reconcile returns a Report describing what was reverted, aborted, or
rescaled, so the caller can log and act on the outcome (terminate aborted
jobs, persist the reverted identity parameters, restart if NeedRestart is
set).
*/
package reconciler
