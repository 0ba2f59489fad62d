// Command scancel implements the step-signal CLI of spec §6: it resolves
// a signal name or number and asks the controller to deliver it to one
// job's step (or the whole job, with --full) over the wire protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ridgeline/pkg/log"
	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
	"github.com/cuemby/ridgeline/pkg/wire"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scancel: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var (
	flagFull      bool
	flagBatch     bool
	flagSignal    string
	flagNoKill    bool
	flagOOM       bool
	flagTarget    string
	flagTimeoutMS int64
)

var rootCmd = &cobra.Command{
	Use:   "scancel [flags] JOBID[.STEPID]",
	Short: "Signal or cancel a running job step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.InfoLevel})

		jobID, stepID, err := parseJobStep(args[0], flagFull, flagBatch)
		if err != nil {
			return err
		}
		sig, err := resolveSignal(flagSignal)
		if err != nil {
			return err
		}

		var flags types.StepFlag
		if flagNoKill {
			flags |= types.StepFlagNoKill
		}
		if flagOOM {
			flags |= types.StepFlagKillOOM
		}

		if flagTarget == "" {
			return ridgeerr.New(ridgeerr.CodeUserInput, "--controller is required (host:port of the cluster controller)")
		}

		payload, err := wire.EncodePayload(wire.SignalRequest{JobID: jobID, StepID: stepID, Signal: sig, Flags: flags})
		if err != nil {
			return err
		}

		ctx := context.Background()
		if flagTimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(flagTimeoutMS)*time.Millisecond)
			defer cancel()
		}

		c := wire.NewClient()
		_, err = c.Send(ctx, flagTarget, types.ForwardRequest{
			Type:    types.MessageTypeJobStepCancel,
			Payload: payload,
		})
		if err != nil {
			return err
		}
		fmt.Printf("signal %d sent to job %d step %d\n", sig, jobID, stepID)
		return nil
	},
}

func init() {
	rootCmd.Flags().BoolVar(&flagFull, "full", false, "signal the whole job, not one step")
	rootCmd.Flags().BoolVar(&flagBatch, "batch", false, "target the job's batch-script step")
	rootCmd.Flags().StringVar(&flagSignal, "signal", "TERM", "signal name or number")
	rootCmd.Flags().BoolVar(&flagNoKill, "no-kill", false, "don't fail the job if a node in the step cannot be reached")
	rootCmd.Flags().BoolVar(&flagOOM, "oom", false, "mark this signal as an out-of-memory kill for step completion accounting")
	rootCmd.Flags().StringVar(&flagTarget, "controller", "", "host:port of the cluster controller")
	rootCmd.Flags().Int64Var(&flagTimeoutMS, "timeout", 5000, "request timeout in milliseconds")
}

// parseJobStep accepts "JOBID" or "JOBID.STEPID". --full targets the
// whole job (step id 0 is not meaningful there, the controller signals
// every step); --batch targets the reserved BATCH_SCRIPT step.
func parseJobStep(arg string, full, batch bool) (uint32, uint32, error) {
	parts := strings.SplitN(arg, ".", 2)
	jobID64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, ridgeerr.Wrap(ridgeerr.CodeUserInput, "invalid job id "+parts[0], err)
	}
	jobID := uint32(jobID64)

	switch {
	case full:
		return jobID, 0, nil
	case batch:
		return jobID, types.StepIDBatchScript, nil
	case len(parts) == 2:
		stepID64, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, 0, ridgeerr.Wrap(ridgeerr.CodeUserInput, "invalid step id "+parts[1], err)
		}
		return jobID, uint32(stepID64), nil
	default:
		return jobID, types.StepIDBatchScript, nil
	}
}

var signalNames = map[string]int{
	"HUP": 1, "INT": 2, "QUIT": 3, "KILL": 9, "TERM": 15, "USR1": 10, "USR2": 12, "CONT": 18, "STOP": 19,
}

// resolveSignal accepts a bare number or a name with or without the
// conventional "SIG" prefix, case-insensitively.
func resolveSignal(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	name := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(s), "SIG"))
	if n, ok := signalNames[name]; ok {
		return n, nil
	}
	return 0, ridgeerr.New(ridgeerr.CodeUserInput, "unknown signal name "+s)
}

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
