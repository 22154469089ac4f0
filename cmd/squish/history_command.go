package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"squish/internal/history"
	"squish/internal/progress"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs, or the files of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.History.Enabled {
				fmt.Fprintln(out, "Run history is disabled (history.enabled = false)")
				return nil
			}
			if _, err := os.Stat(cfg.HistoryPath()); os.IsNotExist(err) {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				files, err := store.Files(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(out, "Run processed no files")
					return nil
				}
				rows := make([][]string, 0, len(files))
				for _, f := range files {
					rows = append(rows, []string{
						filepath.Base(f.Path),
						f.ProfileGroup,
						f.Outcome,
						progress.FormatElapsed(f.Duration),
						f.Error,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"File", "Group", "Outcome", "Duration", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignWrap},
				))
				return nil
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				id := run.ID
				if len(id) > 8 {
					id = id[:8]
				}
				rows = append(rows, []string{
					id,
					run.StartedAt.Local().Format("2006-01-02 15:04"),
					progress.FormatElapsed(run.FinishedAt.Sub(run.StartedAt)),
					strconv.Itoa(run.Detected),
					strconv.Itoa(run.Succeeded + run.SourceNotDeleted),
					strconv.Itoa(run.EngineFailed + run.InvokeFailed),
					strconv.Itoa(run.Skipped),
					run.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Elapsed", "Detected", "Succeeded", "Failed", "Skipped", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignWrap},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "files", "", "Show the files of the run with this ID (a unique prefix works)")
	return cmd
}
