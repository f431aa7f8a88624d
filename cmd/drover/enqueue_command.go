package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		priorityFlag  string
		delay         time.Duration
		maxRetries    int
		forcePriority bool
		jsonParams    bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue COMMAND [PARAM...]",
		Short: "Add a job to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := queue.ParsePriority(priorityFlag)
			if err != nil {
				return err
			}
			params, err := parseParams(args[1:], jsonParams)
			if err != nil {
				return err
			}
			opts := queue.EnqueueOptions{ForcePriority: forcePriority}
			if delay > 0 {
				opts.NotBefore = time.Now().Add(delay)
			}
			if cmd.Flags().Changed("max-retries") {
				opts.MaxRetries = &maxRetries
			}

			return ctx.withRuntime(func(rt *runtime) error {
				result, err := rt.queue.Enqueue(cmd.Context(), args[0], priority, params, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case result.Created:
					fmt.Fprintf(out, "enqueued job %d\n", result.ID)
				case result.PriorityChanged:
					fmt.Fprintf(out, "job %d already queued; priority set to %s\n", result.ID, priority)
				default:
					fmt.Fprintf(out, "job %d already queued\n", result.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", queue.PriorityMedium.String(), "Priority: critical, high, medium, low or negligible")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes eligible")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override worker.default_max_retries for this job")
	cmd.Flags().BoolVar(&forcePriority, "force-priority", false, "Update the priority of an identical waiting job")
	cmd.Flags().BoolVar(&jsonParams, "json", false, "Decode each parameter as a JSON value")
	return cmd
}

func parseParams(raw []string, decode bool) ([]any, error) {
	params := make([]any, 0, len(raw))
	for i, value := range raw {
		if !decode {
			params = append(params, value)
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		params = append(params, v)
	}
	return params, nil
}
