package forward

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

type fakeSender struct {
	mu      sync.Mutex
	failing map[string]bool
	sent    []string
}

func (s *fakeSender) Send(ctx context.Context, node string, req types.ForwardRequest) ([]byte, error) {
	s.mu.Lock()
	s.sent = append(s.sent, node)
	fail := s.failing[node]
	s.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("connection refused")
	}
	return []byte("ok:" + node), nil
}

func TestBuildTreeRespectsFanout(t *testing.T) {
	targets := []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	roots := BuildTree(targets, 2)
	assert.LessOrEqual(t, len(roots), 2)
	assert.ElementsMatch(t, targets, Flatten(roots))
}

func TestSpanNeverExceedsTargetCount(t *testing.T) {
	assert.Equal(t, 3, Span(3, 8))
	assert.Equal(t, 8, Span(100, 8))
}

func TestBudgetScalesWithDepth(t *testing.T) {
	start := 500 * time.Millisecond
	perHop := 100 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, Budget(start, perHop, 0))
	assert.Equal(t, 800*time.Millisecond, Budget(start, perHop, 3))
}

func TestFanoutAllSucceed(t *testing.T) {
	sender := &fakeSender{failing: map[string]bool{}}
	f := New(sender)
	req := types.ForwardRequest{
		Type:          types.MessageTypeForward,
		TargetNodes:   []string{"n1", "n2", "n3", "n4"},
		Fanout:        2,
		StartTimeout:  time.Second,
		PerHopTimeout: time.Second,
	}
	resp := f.Fanout(context.Background(), req)
	require.Len(t, resp, 4)
	for _, r := range resp {
		assert.NoError(t, r.Err)
	}
}

func TestFanoutIntermediateFailureTakesSubtreeDown(t *testing.T) {
	sender := &fakeSender{failing: map[string]bool{"n1": true}}
	f := New(sender)
	req := types.ForwardRequest{
		Type:          types.MessageTypeForward,
		TargetNodes:   []string{"n1", "n2", "n3"},
		Fanout:        1,
		StartTimeout:  time.Second,
		PerHopTimeout: time.Second,
	}
	resp := f.Fanout(context.Background(), req)
	require.Len(t, resp, 3)
	byNode := make(map[string]types.ForwardResponse, len(resp))
	for _, r := range resp {
		byNode[r.Node] = r
	}
	assert.Error(t, byNode["n1"].Err)
	assert.True(t, ridgeerr.IsCode(byNode["n1"].Err, ridgeerr.CodeTransport))
	assert.Error(t, byNode["n2"].Err, "child of failed node should also be marked failed")
	assert.Error(t, byNode["n3"].Err)
}

func TestFireAndForgetNeverBlocks(t *testing.T) {
	sender := &fakeSender{failing: map[string]bool{}}
	f := New(sender)
	req := types.ForwardRequest{
		Type:        types.MessageTypeShutdown,
		TargetNodes: []string{"n1", "n2"},
		Fanout:      2,
	}
	resp := f.Fanout(context.Background(), req)
	require.Len(t, resp, 2)
	for _, r := range resp {
		assert.NoError(t, r.Err)
	}
}

func TestIsFireAndForget(t *testing.T) {
	assert.True(t, IsFireAndForget(types.MessageTypeShutdown))
	assert.True(t, IsFireAndForget(types.MessageTypeReconfigure))
	assert.False(t, IsFireAndForget(types.MessageTypeForward))
}
