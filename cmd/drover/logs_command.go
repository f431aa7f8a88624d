package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"drover/internal/logging"
	"drover/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		jobID  int64
		grep   []string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the shared supervisor and worker log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			filter := logs.Filter(grep)
			if jobID > 0 {
				filter = append(filter, jobTerm(cfg.Logging.Format, jobID))
			}

			out := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines, filter)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, offset, filter, logs.DefaultPoll, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().Int64Var(&jobID, "job", 0, "Only show lines for this job id")
	cmd.Flags().StringArrayVar(&grep, "grep", nil, "Only show lines containing this text (repeatable)")
	return cmd
}

// jobTerm matches the job subject the configured log format writes.
func jobTerm(format string, id int64) string {
	n := strconv.FormatInt(id, 10)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return `"` + logging.FieldJobID + `":` + n + `,`
	}
	return "Job #" + n + " "
}
