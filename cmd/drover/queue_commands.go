package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))
	queueCmd.AddCommand(newQueueRequeueCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeDeadCommand(ctx))
	queueCmd.AddCommand(newQueueSchedulesCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				jobs, err := rt.queue.List(cmd.Context(), queue.ListFilter{State: state, Limit: limit})
				if err != nil {
					return err
				}
				printJobs(cmd, jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only list pending, deferred, claimed or dead jobs")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to show")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state and priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				stats, err := rt.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if stats.Total() == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatsTable(stats))
				return nil
			})
		},
	}
}

func newQueueSchedulesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List time-based jobs with their last and next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				entries := rt.schedules.Entries()
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No schedules configured")
					return nil
				}
				lastRuns := make(map[string]time.Time, len(entries))
				for _, entry := range entries {
					last, ran, err := rt.schedules.LastRun(cmd.Context(), entry.Name)
					if err != nil {
						return err
					}
					if ran {
						lastRuns[entry.Name] = last
					}
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSchedulesTable(entries, lastRuns, time.Now()))
				return nil
			})
		},
	}
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				jobs, err := rt.queue.DeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered jobs")
					return nil
				}
				printJobs(cmd, jobs)
				return nil
			})
		},
	}
}

func newQueueRequeueCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "requeue [ID...]",
		Short: "Return dead-lettered jobs to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("specify job ids or --all")
			}
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *runtime) error {
				if all {
					dead, err := rt.queue.DeadLetters(cmd.Context())
					if err != nil {
						return err
					}
					for _, job := range dead {
						ids = append(ids, job.ID)
					}
				}
				n, err := rt.queue.Requeue(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Requeue every dead-lettered job")
	return cmd
}

func newQueuePurgeDeadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-dead",
		Short: "Delete every dead-lettered job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *runtime) error {
				n, err := rt.queue.PurgeDead(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead-lettered job(s)\n", n)
				return nil
			})
		},
	}
}

func printJobs(cmd *cobra.Command, jobs []*queue.Job) {
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprint(out, renderJobsTable(jobs, time.Now()))
}

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
