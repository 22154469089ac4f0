package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"squish/internal/logging"
	"squish/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the squish log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg)
			if path == "" {
				return fmt.Errorf("paths.log_dir is not configured")
			}
			out := cmd.OutOrStdout()
			emit := func(line string) { fmt.Fprintln(out, line) }

			if follow {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return logs.Follow(runCtx, path, lines, emit)
			}

			result, err := logs.Tail(cmd.Context(), path, logs.Options{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			if len(result.Lines) == 0 {
				fmt.Fprintf(out, "No log output yet (%s)\n", path)
				return nil
			}
			for _, line := range result.Lines {
				emit(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines until interrupted")
	return cmd
}
