package bcast

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/types"
)

type fakeSender struct {
	mu          sync.Mutex
	blocks      []types.BroadcastMessage
	inFlight    int32
	maxInFlight int32
}

func (s *fakeSender) SendBlock(ctx context.Context, targets []string, msg types.BroadcastMessage) error {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.maxInFlight {
		s.maxInFlight = n
	}
	s.blocks = append(s.blocks, msg)
	return nil
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := bytes.Repeat([]byte{0x42}, size)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSendFileSplitsIntoBlocks(t *testing.T) {
	src := writeTempFile(t, 25)
	sender := &fakeSender{}
	b := New(sender)

	err := b.SendFile(context.Background(), src, "/tmp/dest.bin", Options{
		TargetNodes: []string{"n1"},
		BlockSize:   10,
	})
	require.NoError(t, err)
	assert.Len(t, sender.blocks, 3)

	var total int
	lastCount := 0
	for _, blk := range sender.blocks {
		total += len(blk.Data)
		if blk.Last {
			lastCount++
		}
	}
	assert.Equal(t, 25, total)
	assert.Equal(t, 1, lastCount, "exactly one block must be marked Last")
}

func TestSendFileRespectsMaxThreads(t *testing.T) {
	src := writeTempFile(t, 1<<20)
	sender := &fakeSender{}
	b := New(sender)

	err := b.SendFile(context.Background(), src, "/tmp/dest.bin", Options{
		TargetNodes: []string{"n1"},
		BlockSize:   4096,
	})
	require.NoError(t, err)
	assert.Greater(t, len(sender.blocks), 1)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&sender.maxInFlight)), MaxThreads)
}

func TestCompressRoundTrip(t *testing.T) {
	src := writeTempFile(t, 4096)
	sender := &fakeSender{}
	b := New(sender)

	err := b.SendFile(context.Background(), src, "/tmp/dest.bin", Options{
		TargetNodes: []string{"n1"},
		BlockSize:   1024,
		Compress:    true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sender.blocks)

	for _, blk := range sender.blocks {
		assert.True(t, blk.Compressed)
		out, err := DecompressBlock(blk)
		require.NoError(t, err)
		assert.Len(t, out, int(blk.UncompressedLen))
	}
}

func TestDecompressBlockUncompressedPassthrough(t *testing.T) {
	msg := types.BroadcastMessage{Data: []byte("raw"), Compressed: false}
	out, err := DecompressBlock(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), out)
}
