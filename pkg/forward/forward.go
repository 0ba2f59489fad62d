package forward

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/metrics"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

var logger = log.WithComponent("forward")

// Sender delivers a single request to one node and returns its reply. The
// forwarder never constructs a Sender itself; it is supplied by the
// transport layer (pkg/wire's Client for production, a fake in tests).
type Sender interface {
	Send(ctx context.Context, node string, req types.ForwardRequest) ([]byte, error)
}

// Budget computes the per-request timeout: a fixed start cost plus a
// per-hop cost scaled by the tree's depth, mirroring the original
// forward_wait_msecs formula (start_timeout + steps*per_message_timeout).
func Budget(startTimeout, perHop time.Duration, steps int) time.Duration {
	return startTimeout + time.Duration(steps)*perHop
}

// Forwarder fans a request out across a tree of nodes built with Span/
// BuildTree, collecting replies (or synthesized failures) under a single
// mutex-protected slice.
type Forwarder struct {
	sender Sender
}

func New(sender Sender) *Forwarder {
	return &Forwarder{sender: sender}
}

// Fanout forwards req to every target in req.TargetNodes through a tree of
// the configured fanout, returning one ForwardResponse per target
// (including synthesized failures for unreachable subtrees). Fire-and-
// forget message types (MessageTypeShutdown, MessageTypeReconfigure) are
// detected by IsFireAndForget and short-circuit straight to FanoutNoWait;
// every target is then reported as acknowledged without waiting for a
// reply. A zero timeout budget means no deadline is applied.
func (f *Forwarder) Fanout(ctx context.Context, req types.ForwardRequest) []types.ForwardResponse {
	if IsFireAndForget(req.Type) {
		f.FanoutNoWait(ctx, req)
		acks := make([]types.ForwardResponse, 0, len(req.TargetNodes))
		for _, node := range req.TargetNodes {
			acks = append(acks, types.ForwardResponse{Node: node})
		}
		return acks
	}

	roots := BuildTree(req.TargetNodes, req.Fanout)
	depth := Depth(roots)
	timeout := Budget(req.StartTimeout, req.PerHopTimeout, depth)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		out  []types.ForwardResponse
		wg   sync.WaitGroup
	)
	record := func(r types.ForwardResponse) {
		mu.Lock()
		out = append(out, r)
		mu.Unlock()
	}

	for _, root := range roots {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			f.walkSubtree(ctx, n, req, record)
		}(root)
	}
	wg.Wait()

	metrics.ForwardFanoutDepth.Observe(float64(depth))
	return out
}

// walkSubtree delivers req to n, then recurses into its children. If
// delivery to n fails, every node in n's subtree is recorded as failed via
// markAsFailedForward without attempting to contact them, matching the
// original's treatment of an intermediate-node failure as taking its whole
// subtree down with it.
func (f *Forwarder) walkSubtree(ctx context.Context, n *Node, req types.ForwardRequest, record func(types.ForwardResponse)) {
	payload, err := f.sender.Send(ctx, n.Addr, req)
	if err != nil {
		logger.Warn().Str("node", n.Addr).Err(err).Msg("forward failed")
		f.markAsFailedForward(n, err, record)
		metrics.ForwardFailuresTotal.Inc()
		return
	}
	record(types.ForwardResponse{Node: n.Addr, Payload: payload})

	var wg sync.WaitGroup
	for _, child := range n.Children {
		wg.Add(1)
		go func(c *Node) {
			defer wg.Done()
			f.walkSubtree(ctx, c, req, record)
		}(child)
	}
	wg.Wait()
}

// markAsFailedForward synthesizes a ForwardResponse carrying
// ridgeerr.ForwardFailed for n and every node in its subtree, matching
// mark_as_failed_forward in the original: a dead intermediate node takes
// its entire unreached subtree down with it rather than leaving those
// nodes unaccounted for.
func (f *Forwarder) markAsFailedForward(n *Node, cause error, record func(types.ForwardResponse)) {
	for _, addr := range Flatten([]*Node{n}) {
		record(types.ForwardResponse{
			Node: addr,
			Err:  ridgeerr.Wrap(ridgeerr.CodeTransport, "forward failed", cause),
		})
	}
}

// FanoutNoWait delivers req to every target without waiting for a reply or
// applying a read deadline, for REQUEST_SHUTDOWN/REQUEST_RECONFIGURE-class
// messages where the original protocol never expects a response.
func (f *Forwarder) FanoutNoWait(ctx context.Context, req types.ForwardRequest) {
	roots := BuildTree(req.TargetNodes, req.Fanout)
	for _, addr := range Flatten(roots) {
		go func(a string) {
			if _, err := f.sender.Send(ctx, a, req); err != nil {
				logger.Debug().Str("node", a).Err(err).Msg("fire-and-forget forward failed")
			}
		}(addr)
	}
}

// IsFireAndForget reports whether t is a message type that never expects a
// reply and must not impose a read deadline.
func IsFireAndForget(t types.MessageType) bool {
	return t == types.MessageTypeShutdown || t == types.MessageTypeReconfigure
}
