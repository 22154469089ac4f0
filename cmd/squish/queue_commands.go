package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"squish/internal/config"
	"squish/internal/logging"
	"squish/internal/queuestate"
	"squish/internal/runguard"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the persisted queue state",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueForgetCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var onlyFailed bool
	var onlyCompleted bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List completed and failed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if onlyFailed && onlyCompleted {
				return errors.New("--failed and --completed are mutually exclusive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			state := openQueueState(cfg).Load()

			var rows [][]string
			if !onlyFailed {
				for _, path := range state.Completed {
					rows = append(rows, []string{strconv.Itoa(len(rows) + 1), "completed", path})
				}
			}
			if !onlyCompleted {
				for _, path := range state.Failed {
					rows = append(rows, []string{strconv.Itoa(len(rows) + 1), "failed", path})
				}
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "Queue state is empty")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"#", "State", "Path"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&onlyFailed, "failed", false, "Show only failed files")
	cmd.Flags().BoolVar(&onlyCompleted, "completed", false, "Show only completed files")
	return cmd
}

func newQueueForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget PATH...",
		Short: "Remove files from queue state so the next run considers them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := requireIdle(cfg); err != nil {
				return err
			}
			store := openQueueState(cfg)
			state := store.Load()

			out := cmd.OutOrStdout()
			removed := 0
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				if state.Forget(path) {
					removed++
					fmt.Fprintf(out, "Forgot %s\n", path)
				} else {
					fmt.Fprintf(out, "Not in queue state: %s\n", path)
				}
			}
			if removed == 0 {
				return nil
			}
			if err := store.Save(state); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d entr%s\n", removed, plural(removed, "y", "ies"))
			return nil
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Drop every failed entry from queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := requireIdle(cfg); err != nil {
				return err
			}
			store := openQueueState(cfg)
			state := store.Load()
			cleared := state.ClearFailed()
			out := cmd.OutOrStdout()
			if cleared == 0 {
				fmt.Fprintln(out, "No failed entries")
				return nil
			}
			if err := store.Save(state); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared %d failed entr%s\n", cleared, plural(cleared, "y", "ies"))
			return nil
		},
	}
}

func openQueueState(cfg *config.Config) *queuestate.Store {
	return queuestate.NewStore(cfg.Paths.QueueStateFile, logging.NewNop())
}

// requireIdle refuses queue edits while a run holds the guard; the run would
// overwrite them on its next save.
func requireIdle(cfg *config.Config) error {
	state, err := runguard.Inspect(cfg.Paths.StatusFile, cfg.LockPath())
	if err != nil {
		return fmt.Errorf("inspect run guard: %w", err)
	}
	if state == runguard.StateRunning {
		return errors.New("a squish run is active; retry when it finishes")
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
