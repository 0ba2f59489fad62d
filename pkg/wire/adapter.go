package wire

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/ridgeline/pkg/forward"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// ForwarderBcastSender adapts a *forward.Forwarder into pkg/bcast.Sender,
// matching spec §4.2 step 4: each block is delivered by constructing a
// single forward request addressed to the allocation's node list, and
// SendBlock returns only once every node has replied for that block. It
// does not order blocks: pkg/bcast.SendFile runs up to MaxThreads
// SendBlock calls at once, so later blocks can be in flight before an
// earlier one has been acknowledged.
type ForwarderBcastSender struct {
	Forwarder     *forward.Forwarder
	Fanout        int
	StartTimeout  time.Duration
	PerHopTimeout time.Duration
}

func (s *ForwarderBcastSender) SendBlock(ctx context.Context, targets []string, msg types.BroadcastMessage) error {
	payload, err := EncodePayload(msg)
	if err != nil {
		return err
	}
	req := types.ForwardRequest{
		Type:          types.MessageTypeFileBcast,
		TargetNodes:   targets,
		Payload:       payload,
		Fanout:        s.Fanout,
		StartTimeout:  s.StartTimeout,
		PerHopTimeout: s.PerHopTimeout,
	}
	replies := s.Forwarder.Fanout(ctx, req)
	return worstOf(replies)
}

// worstOf aggregates every failed node's error into one joined error, or
// nil if every node acknowledged the block, matching spec §4.2's
// "record the worst per-node result... abort on any failure".
func worstOf(replies []types.ForwardResponse) error {
	var errs []error
	for _, r := range replies {
		if r.Err != nil {
			errs = append(errs, errors.New(r.Node+": "+r.Err.Error()))
		}
	}
	return errors.Join(errs...)
}

// ForwarderSignaler adapts a *forward.Forwarder into pkg/stepmgr.Signaler,
// delivering a single step signal to one node through the same tree
// construction the forwarder uses for a fan-out of many (the tree
// degenerates to a single root when len(TargetNodes) == 1).
type ForwarderSignaler struct {
	Forwarder     *forward.Forwarder
	StartTimeout  time.Duration
	PerHopTimeout time.Duration
}

func (s *ForwarderSignaler) SignalStepOnNode(ctx context.Context, node string, jobID, stepID uint32, signal int, flags types.StepFlag) error {
	payload, err := EncodePayload(SignalRequest{JobID: jobID, StepID: stepID, Signal: signal, Flags: flags})
	if err != nil {
		return err
	}
	req := types.ForwardRequest{
		Type:          types.MessageTypeJobStepCancel,
		TargetNodes:   []string{node},
		Payload:       payload,
		Fanout:        1,
		StartTimeout:  s.StartTimeout,
		PerHopTimeout: s.PerHopTimeout,
	}
	replies := s.Forwarder.Fanout(ctx, req)
	if len(replies) == 0 {
		return ridgeerr.Wrap(ridgeerr.CodeTransport, "signal step on "+node, ridgeerr.ForwardFailed)
	}
	return worstOf(replies)
}
