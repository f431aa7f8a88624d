package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/daemon"
	"drover/internal/procutil"
	"drover/internal/scheduler"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var foreground bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the drover supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := ctx.configValue()
			if !foreground {
				sup := daemon.New(cfg, daemon.Options{Spawner: ctx.spawner()})
				result, err := sup.Start(cmd.Context(), false)
				return reportStart(out, result, err)
			}

			// Rotating the shared log under a live supervisor would split its
			// output, so check before the logger opens the file.
			running := daemon.New(cfg, daemon.Options{})
			if status, err := running.Status(cmd.Context()); err == nil && status.Outcome == daemon.OutcomeRunning {
				return reportStart(out, daemon.Result{Outcome: daemon.OutcomeAlreadyRunning, PID: status.PID}, daemon.ErrAlreadyRunning)
			}

			rt, err := ctx.openRuntime(runtimeOptions{rotateLogs: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			wait := time.Duration(cfg.Worker.CronInterval) * time.Minute
			loop := scheduler.New(rt.dispatcher, wait, scheduler.Options{
				Store:  rt.db,
				Wake:   rt.wake,
				Logger: rt.logger,
			})
			sup := daemon.New(cfg, daemon.Options{
				Spawner:   ctx.spawner(),
				Store:     rt.db,
				Loop:      loop,
				Wake:      rt.wake,
				PID:       rt.dispatcher.PID(),
				SessionID: rt.session,
				Logger:    rt.logger,
			})
			result, err := sup.Start(cmd.Context(), true)
			return reportStart(out, result, err)
		},
	}
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "Run the supervisor in this process instead of detaching")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the drover supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				sup := daemon.New(rt.cfg, daemon.Options{Store: rt.db, Logger: rt.logger})
				result, err := sup.Stop(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case result.Outcome == daemon.OutcomeKilled:
					fmt.Fprintf(out, "%s (pid %d)\n", result.Outcome, result.PID)
				case result.Stale:
					fmt.Fprintf(out, "%s (removed stale pidfile for pid %d)\n", result.Outcome, result.PID)
				default:
					fmt.Fprintln(out, result.Outcome)
				}
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				sup := daemon.New(rt.cfg, daemon.Options{Store: rt.db, Logger: rt.logger})
				result, err := sup.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Supervisor", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Supervisor", supervisorKind(result), supervisorDetail(result), colorize))
				fmt.Fprintln(out)

				stats, err := rt.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(out, line)
				}
				if stats.Total() == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderStatsTable(stats))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

// newDetachCommand is the intermediate process of a detached start.
func newDetachCommand() *cobra.Command {
	return &cobra.Command{
		Use:                procutil.DetachCommand,
		Hidden:             true,
		DisableFlagParsing: true,
		Annotations:        map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && args[0] == "--" {
				args = args[1:]
			}
			return procutil.RunIntermediate(args, cmd.OutOrStdout())
		},
	}
}

func reportStart(out io.Writer, result daemon.Result, err error) error {
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		if result.PID > 0 {
			fmt.Fprintf(out, "%s (pid %d)\n", daemon.OutcomeAlreadyRunning, result.PID)
		} else {
			fmt.Fprintln(out, daemon.OutcomeAlreadyRunning)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if result.Detached {
		fmt.Fprintf(out, "%s (pid %d)\n", result.Outcome, result.PID)
	}
	return nil
}

func supervisorKind(result daemon.Result) statusKind {
	if result.Outcome == daemon.OutcomeRunning {
		return statusOK
	}
	return statusWarn
}

func supervisorDetail(result daemon.Result) string {
	switch {
	case result.Outcome == daemon.OutcomeRunning:
		return fmt.Sprintf("%s (pid %d, %d workers)", titleCase(string(result.Outcome)), result.PID, result.Workers)
	case result.Stale:
		return fmt.Sprintf("%s (removed stale pidfile for pid %d)", titleCase(string(result.Outcome)), result.PID)
	default:
		return titleCase(string(result.Outcome))
	}
}
