package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"squish/internal/config"
	"squish/internal/progress"
	"squish/internal/report"
	"squish/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the input directory once",
		// Config errors are handled in RunE so they still produce a crash report.
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Long: "Discover videos under the input directory, transcode every file not yet\n" +
			"completed, and write the dated run report. Intended to be invoked from cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, logger, err := ctx.newLogger()
			if err != nil {
				if path, werr := writeConfigCrash(ctx, err); werr == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Crash report: %s\n", path)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "Crash report not written: %v\n", werr)
				}
				return err
			}
			runner, err := workflow.NewRunner(cfg, logger,
				workflow.WithForce(force),
				workflow.WithPreflight(!skipPreflight),
			)
			if err != nil {
				return err
			}

			outcome, runErr := runner.Run(signalCtx)
			printOutcome(cmd.OutOrStdout(), outcome)
			if runErr != nil && errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("run interrupted: %w", runErr)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear a status file left behind by a run that is no longer active")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Do not run readiness checks before the batch")
	return cmd
}

// writeConfigCrash records a configuration failure in the report directory the
// config file names, or in the working directory when that cannot be used.
func writeConfigCrash(ctx *commandContext, cause error) (string, error) {
	var configPath string
	if ctx.configFlag != nil {
		configPath = strings.TrimSpace(*ctx.configFlag)
	}
	now := time.Now()
	if dir := config.ReportDirHint(configPath); dir != "" {
		if path, err := report.WriteCrash(dir, now, cause); err == nil {
			return path, nil
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return report.WriteCrash(cwd, now, cause)
}

func printOutcome(out io.Writer, outcome workflow.Outcome) {
	switch outcome.Status {
	case workflow.StatusAlreadyRunning:
		fmt.Fprintln(out, "Another squish run is active; nothing processed.")
		if outcome.ReportPath != "" {
			fmt.Fprintf(out, "Report: %s\n", outcome.ReportPath)
		}
		return
	case workflow.StatusCrashed:
		fmt.Fprintf(out, "Run %s failed.\n", outcome.RunID)
		if outcome.ReportPath != "" {
			fmt.Fprintf(out, "Crash report: %s\n", outcome.ReportPath)
		}
		return
	}

	s := outcome.Summary
	elapsed := outcome.Finished.Sub(outcome.Started)
	fmt.Fprintf(out, "Run %s %s in %s\n", outcome.RunID, outcome.Status, progress.FormatElapsed(elapsed))
	rows := [][]string{
		{"Detected", strconv.Itoa(s.Detected())},
		{"Queued", strconv.Itoa(len(s.Queued))},
		{"Skipped", strconv.Itoa(len(s.Skipped))},
		{"Succeeded", strconv.Itoa(len(s.Succeeded))},
		{"Source not deleted", strconv.Itoa(len(s.SourceNotDeleted))},
		{"Failed in HandBrake", strconv.Itoa(len(s.EngineFailed))},
		{"Error opening HandBrake", strconv.Itoa(len(s.InvokeFailed))},
	}
	if len(s.Interrupted) > 0 || len(s.Unstarted) > 0 {
		rows = append(rows,
			[]string{"Interrupted", strconv.Itoa(len(s.Interrupted))},
			[]string{"Not started", strconv.Itoa(len(s.Unstarted))},
		)
	}
	fmt.Fprintln(out, renderTable([]string{"Outcome", "Videos"}, rows, []columnAlignment{alignLeft, alignRight}))
	if outcome.ReportPath != "" {
		fmt.Fprintf(out, "Report: %s\n", outcome.ReportPath)
	}
}
