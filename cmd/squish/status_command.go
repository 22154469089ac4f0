package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"squish/internal/history"
	"squish/internal/logging"
	"squish/internal/queuestate"
	"squish/internal/runguard"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a run is active and summarize queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			state, err := runguard.Inspect(cfg.Paths.StatusFile, cfg.LockPath())
			if err != nil {
				return fmt.Errorf("inspect run guard: %w", err)
			}

			lines := renderSectionHeader("Squish Status", colorize)
			switch state {
			case runguard.StateRunning:
				lines = append(lines, renderLine("Run", lineInfo, "running", colorize))
			case runguard.StateStale:
				lines = append(lines, renderLine("Run", lineWarn, "status file present but no run holds the lock; use 'squish run --force'", colorize))
			default:
				lines = append(lines, renderLine("Run", lineOK, "idle", colorize))
			}
			lines = append(lines, renderLine("Input directory", lineInfo, cfg.Paths.InputDir, colorize))
			lines = append(lines, renderLine("Delete source", lineInfo, yesNo(cfg.Output.DeleteSource), colorize))

			qs := queuestate.NewStore(cfg.Paths.QueueStateFile, logging.NewNop()).Load()
			queueLine := fmt.Sprintf("%d completed, %d failed", len(qs.Completed), len(qs.Failed))
			if !qs.UpdatedAt.IsZero() {
				queueLine += fmt.Sprintf(" (updated %s)", qs.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			lines = append(lines, renderLine("Queue state", lineInfo, queueLine, colorize))

			if cfg.History.Enabled {
				lines = append(lines, lastRunLine(cmd, cfg.HistoryPath(), colorize))
			}

			for _, line := range lines {
				fmt.Fprintln(out, line)
			}

			if state != runguard.StateIdle {
				data, err := os.ReadFile(cfg.Paths.StatusFile)
				if err == nil && len(data) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, strings.TrimRight(string(data), "\n"))
				}
			}
			return nil
		},
	}
}

func lastRunLine(cmd *cobra.Command, path string, colorize bool) string {
	if _, err := os.Stat(path); err != nil {
		return renderLine("Last run", lineInfo, "none recorded", colorize)
	}
	store, err := history.Open(path)
	if err != nil {
		return renderLine("Last run", lineWarn, err.Error(), colorize)
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), 1)
	if err != nil {
		return renderLine("Last run", lineWarn, err.Error(), colorize)
	}
	if len(runs) == 0 {
		return renderLine("Last run", lineInfo, "none recorded", colorize)
	}
	run := runs[0]
	kind := lineOK
	if run.Error != "" || run.EngineFailed+run.InvokeFailed > 0 {
		kind = lineWarn
	}
	detail := fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped",
		run.StartedAt.Local().Format("2006-01-02 15:04"),
		run.Succeeded+run.SourceNotDeleted,
		run.EngineFailed+run.InvokeFailed,
		run.Skipped,
	)
	return renderLine("Last run", kind, detail, colorize)
}
