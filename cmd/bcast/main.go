// Command bcast implements the sbcast-equivalent CLI described in spec
// §6: it streams one local file to every node of a job allocation through
// the hierarchical forwarder, optionally LZ4-compressing each block and
// recursively broadcasting a program's shared-library dependencies.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ridgeline/pkg/bcast"
	"github.com/cuemby/ridgeline/pkg/forward"
	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/wire"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bcast: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var (
	flagForce     bool
	flagPreserve  bool
	flagCompress  string
	flagFanout    int
	flagSendLibs  bool
	flagExclude   string
	flagBlockSize int64
	flagTimeoutMS int64
	flagNodes     string
)

var rootCmd = &cobra.Command{
	Use:   "bcast [flags] SRC DST",
	Short: "Broadcast a file to every node of the current job allocation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.InfoLevel})

		nodes := strings.Split(flagNodes, ",")
		if flagNodes == "" {
			return ridgeerr.New(ridgeerr.CodeUserInput, "--nodes is required (node[:port] list for the current allocation)")
		}

		fanout := flagFanout
		if fanout <= 0 || fanout > bcast.MaxThreads {
			fanout = bcast.MaxThreads
		}

		f := forward.New(wire.NewClient())
		sender := &wire.ForwarderBcastSender{
			Forwarder:     f,
			Fanout:        fanout,
			StartTimeout:  time.Duration(flagTimeoutMS) * time.Millisecond,
			PerHopTimeout: time.Duration(flagTimeoutMS) * time.Millisecond,
		}
		b := bcast.New(sender)

		opts := bcast.Options{
			TargetNodes: nodes,
			BlockSize:   flagBlockSize,
			Compress:    strings.EqualFold(flagCompress, "lz4"),
			Force:       flagForce,
			Preserve:    flagPreserve,
			Fanout:      fanout,
			Timeout:     time.Duration(flagTimeoutMS) * time.Millisecond,
		}

		ctx := context.Background()
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		src, dst := args[0], args[1]

		if !flagSendLibs {
			if err := b.SendFile(ctx, src, dst, opts); err != nil {
				return err
			}
			fmt.Printf("broadcast complete: %s -> %s on %d node(s)\n", src, dst, len(nodes))
			return nil
		}

		exclude := map[string]bool{}
		for _, p := range strings.Split(flagExclude, ",") {
			if p != "" {
				exclude[p] = true
			}
		}
		cacheDir := dst + ".libs"
		libs, err := b.SendFileWithLibs(ctx, src, dst, opts, true, cacheDir, exclude)
		if err != nil {
			return err
		}
		fmt.Printf("broadcast complete: %s -> %s on %d node(s), plus %d shared librar%s to %s\n",
			src, dst, len(nodes), len(libs), plural(len(libs)), cacheDir)
		return nil
	},
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func init() {
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing destination file")
	rootCmd.Flags().BoolVar(&flagPreserve, "preserve", false, "preserve the source file's modification and access times")
	rootCmd.Flags().StringVar(&flagCompress, "compress", "none", "block compression: lz4|none")
	rootCmd.Flags().IntVar(&flagFanout, "fanout", bcast.MaxThreads, "forwarder tree fan-out, clamped to MAX_THREADS")
	rootCmd.Flags().BoolVar(&flagSendLibs, "send-libs", false, "also broadcast SRC's shared library dependencies")
	rootCmd.Flags().StringVar(&flagExclude, "exclude", "", "comma-separated library paths to skip with --send-libs")
	rootCmd.Flags().Int64Var(&flagBlockSize, "block-size", bcast.DefaultBlockSize, "block size in bytes")
	rootCmd.Flags().Int64Var(&flagTimeoutMS, "timeout", 0, "timeout in milliseconds, used as each block's forwarder budget and as a deadline for the whole broadcast (0 = no deadline)")
	rootCmd.Flags().StringVar(&flagNodes, "nodes", "", "comma-separated node[:port] list for the current job allocation")
}

// exitCodeFor maps a returned error to the process exit code spec §6
// reserves for broadcast/step failures.
func exitCodeFor(err error) int {
	switch {
	case ridgeerr.IsCode(err, ridgeerr.CodeUserInput):
		return 1
	case ridgeerr.IsCode(err, ridgeerr.CodeCapacity):
		return 2
	case ridgeerr.IsCode(err, ridgeerr.CodeTransport):
		return 3
	default:
		return 1
	}
}
