// Package bcast implements the file broadcast agent: a source file is
// split into fixed-size blocks, each optionally LZ4-compressed, and
// delivered to a set of target nodes through pkg/forward with no more
// than MAX_THREADS concurrent block sends in flight.
package bcast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/ygrebnov/workers"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/metrics"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

// MaxThreads bounds the number of concurrent block sends, matching the
// original implementation's MAX_THREADS constant.
const MaxThreads = 8

// DefaultBlockSize is used when the caller does not specify one.
const DefaultBlockSize = 8 * 1024 * 1024

var logger = log.WithComponent("bcast")

// Sender delivers one broadcast block to the target node set. In
// production this is pkg/wire.ForwarderBcastSender, which wraps
// pkg/forward.Forwarder; tests supply a fake.
type Sender interface {
	SendBlock(ctx context.Context, targets []string, msg types.BroadcastMessage) error
}

// Options configures one broadcast run.
type Options struct {
	TargetNodes []string
	BlockSize   int64
	Compress    bool
	Force       bool
	Preserve    bool
	Fanout      int
	Timeout     time.Duration
}

func (o Options) blockSize() int64 {
	if o.BlockSize > 0 {
		return o.BlockSize
	}
	return DefaultBlockSize
}

// Broadcaster drives one sbcast-equivalent operation.
type Broadcaster struct {
	sender Sender
}

func New(sender Sender) *Broadcaster {
	return &Broadcaster{sender: sender}
}

// SendFile streams src to DestPath on every node in opts.TargetNodes,
// blocking until every block has been delivered to every target or the
// first unrecoverable error occurs.
func (b *Broadcaster) SendFile(ctx context.Context, srcPath, destPath string, opts Options) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput, "open broadcast source", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeUserInput, "stat broadcast source", err)
	}

	sessionID := uuid.New()
	blockSize := opts.blockSize()
	totalBlocks := (fi.Size() + blockSize - 1) / blockSize
	if fi.Size() == 0 {
		totalBlocks = 1
	}

	logger.Info().
		Str("src", srcPath).
		Str("dest", destPath).
		Int64("size", fi.Size()).
		Int64("blocks", totalBlocks).
		Msg("starting file broadcast")

	blockIdx := make([]int64, totalBlocks)
	for i := range blockIdx {
		blockIdx[i] = int64(i)
	}

	err = workers.ForEach(ctx, blockIdx, func(ctx context.Context, i int64) error {
		return b.sendOneBlock(ctx, f, destPath, sessionID, i, blockSize, fi, opts)
	}, workers.WithFixedPool(MaxThreads), workers.WithStopOnError())
	if err != nil {
		return ridgeerr.Wrap(ridgeerr.CodeTransport, "file broadcast failed", err)
	}
	return nil
}

func (b *Broadcaster) sendOneBlock(ctx context.Context, f *os.File, destPath string, sessionID uuid.UUID, blockNum int64, blockSize int64, fi os.FileInfo, opts Options) error {
	offset := blockNum * blockSize
	buf := make([]byte, blockSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return ridgeerr.Wrap(ridgeerr.CodeTransport, fmt.Sprintf("read block %d", blockNum), err)
	}
	buf = buf[:n]

	msg := types.BroadcastMessage{
		FileName:        destPath,
		FileMode:        uint32(fi.Mode().Perm()),
		BlockNumber:      uint32(blockNum),
		BlockCount:      sessionID,
		Offset:          offset,
		UncompressedLen: uint32(len(buf)),
		Data:            buf,
		Last:            offset+int64(n) >= fi.Size(),
		Force:           opts.Force,
		Preserve:        opts.Preserve,
	}

	if opts.Compress {
		timer := metrics.NewTimer()
		compressed, err := compressBlock(buf)
		timer.ObserveDuration(metrics.BcastCompressionDuration)
		if err != nil {
			logger.Warn().Err(err).Msg("lz4 compression unavailable for this block, sending uncompressed")
		} else {
			msg.Compressed = true
			msg.CompressedLen = uint32(len(compressed))
			msg.Data = compressed
		}
	}

	if err := b.sender.SendBlock(ctx, opts.TargetNodes, msg); err != nil {
		return err
	}
	metrics.BcastBlocksSentTotal.Inc()
	metrics.BcastBytesSentTotal.Add(float64(len(buf)))
	return nil
}

func compressBlock(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBlock reverses compressBlock on the receiving side. It
// returns ridgeerr.CodeTransport if the decompressed length does not
// match msg.UncompressedLen, matching the original's length-mismatch
// check after decompression.
func DecompressBlock(msg types.BroadcastMessage) ([]byte, error) {
	if !msg.Compressed {
		return msg.Data, nil
	}
	r := lz4.NewReader(bytes.NewReader(msg.Data))
	out := make([]byte, msg.UncompressedLen)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, ridgeerr.Wrap(ridgeerr.CodeTransport, "lz4 decompress block", err)
	}
	if uint32(n) != msg.UncompressedLen {
		return nil, ridgeerr.New(ridgeerr.CodeTransport,
			fmt.Sprintf("decompressed length mismatch: got %d want %d", n, msg.UncompressedLen))
	}
	return out, nil
}
