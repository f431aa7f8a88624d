package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/dispatch"
)

// handoffTimeout bounds how long `worker -s` waits for its workers to adopt
// their claims before releasing them.
const handoffTimeout = 10 * time.Second

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var (
		spawn      bool
		noCron     bool
		jobID      int64
		claimant   int
		continuous bool
	)
	cmd := &cobra.Command{
		Use:   dispatch.WorkerCommand,
		Short: "Run queued jobs in this process, or dispatch workers once with -s",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID != 0 && claimant == 0 {
				return errors.New("--job requires --claimant")
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withRuntime(func(rt *runtime) error {
				out := cmd.OutOrStdout()
				switch {
				case jobID != 0:
					_, err := rt.dispatcher.RunAssigned(runCtx, jobID, claimant, continuous)
					return ignoreCancel(err)
				case spawn:
					result, err := rt.dispatcher.SpawnOnce(runCtx, !noCron, handoffTimeout)
					if err != nil {
						return ignoreCancel(err)
					}
					if result.InProcess != nil {
						printProcessResult(out, *result.InProcess)
						return nil
					}
					fmt.Fprintf(out, "spawned %d worker(s) (allowed %d, active %d)\n", len(result.Spawned), result.Allowed, result.Active)
					return nil
				default:
					result, err := rt.dispatcher.ProcessQueue(runCtx, !noCron)
					if err != nil {
						return ignoreCancel(err)
					}
					printProcessResult(out, result)
					return nil
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&spawn, "spawn", "s", false, "Run the dispatcher once and exit")
	cmd.Flags().BoolVarP(&noCron, "no_cron", "n", false, "Skip the time-based sweep for this invocation")
	cmd.Flags().Int64Var(&jobID, "job", 0, "Job claimed for this worker by the supervisor")
	cmd.Flags().IntVar(&claimant, "claimant", 0, "Pid holding the claim for --job")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Keep claiming jobs after the assigned one")
	for _, name := range []string{"job", "claimant", "continuous"} {
		_ = cmd.Flags().MarkHidden(name)
	}
	return cmd
}

func printProcessResult(out io.Writer, result dispatch.ProcessResult) {
	if result.Overloaded {
		fmt.Fprintln(out, "system overloaded; no jobs run")
		return
	}
	fmt.Fprintf(out, "executed %d job(s): %d succeeded, %d deferred, %d dead-lettered, %d released\n",
		result.Executed, result.Succeeded, result.Deferred, result.DeadLettered, result.Released)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
