package wire

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/forward"
	"github.com/cuemby/ridgeline/pkg/types"
)

type fakeSender struct {
	failing map[string]bool
}

func (s *fakeSender) Send(ctx context.Context, node string, req types.ForwardRequest) ([]byte, error) {
	if s.failing[node] {
		return nil, fmt.Errorf("refused")
	}
	return []byte("ok"), nil
}

func TestForwarderBcastSenderSucceedsWhenAllNodesAck(t *testing.T) {
	f := forward.New(&fakeSender{failing: map[string]bool{}})
	s := &ForwarderBcastSender{Forwarder: f, Fanout: 2, StartTimeout: time.Second, PerHopTimeout: time.Second}

	err := s.SendBlock(context.Background(), []string{"n1", "n2", "n3"}, types.BroadcastMessage{FileName: "/tmp/x"})
	require.NoError(t, err)
}

func TestForwarderBcastSenderFailsWhenAnyNodeFails(t *testing.T) {
	f := forward.New(&fakeSender{failing: map[string]bool{"n2": true}})
	s := &ForwarderBcastSender{Forwarder: f, Fanout: 2, StartTimeout: time.Second, PerHopTimeout: time.Second}

	err := s.SendBlock(context.Background(), []string{"n1", "n2", "n3"}, types.BroadcastMessage{FileName: "/tmp/x"})
	assert.Error(t, err)
}

func TestForwarderSignalerSignalsSingleNode(t *testing.T) {
	f := forward.New(&fakeSender{failing: map[string]bool{}})
	s := &ForwarderSignaler{Forwarder: f, StartTimeout: time.Second, PerHopTimeout: time.Second}

	err := s.SignalStepOnNode(context.Background(), "n1", 1, 2, 15, 0)
	require.NoError(t, err)
}

func TestForwarderSignalerReportsFailure(t *testing.T) {
	f := forward.New(&fakeSender{failing: map[string]bool{"n1": true}})
	s := &ForwarderSignaler{Forwarder: f, StartTimeout: time.Second, PerHopTimeout: time.Second}

	err := s.SignalStepOnNode(context.Background(), "n1", 1, 2, 15, 0)
	assert.Error(t, err)
}
