package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"squish/internal/daemon"
	"squish/internal/logging"
	"squish/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run batches on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("run-on-start") {
				cfg.Schedule.RunOnStart = runOnStart
			}

			runner, err := workflow.NewRunner(cfg, logger)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, func(runCtx context.Context) error {
				_, err := runner.Run(runCtx)
				return err
			}, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Start(signalCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			d.Wait(signalCtx)
			logger.Info("squish daemon shutting down", logging.Int("runs", d.Status().Runs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Start a batch immediately instead of waiting for the first tick")
	return cmd
}
