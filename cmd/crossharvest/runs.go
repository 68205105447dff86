package main

import (
	"errors"
	"strconv"

	"github.com/crossharvest/crossharvest/internal/storage"
	"github.com/spf13/cobra"
)

var runsLimit int

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect harvest run provenance",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		exitWithError(ExitError, "listing runs: %v", err)
	}

	if humanOutput {
		if len(runs) == 0 {
			outputHuman("No runs recorded\n")
			return nil
		}
		for _, r := range runs {
			outputHuman("%4d  %s  %-15s %6d rows  %s\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04"), orDash(r.Outcome), r.RowsIngested, r.Key)
		}
		return nil
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	outputJSON(runs)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitWithError(ExitError, "invalid run id %q", args[0])
	}

	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	run, err := db.GetRun(cmd.Context(), id)
	if errors.Is(err, storage.ErrRunNotFound) {
		exitWithError(ExitDataError, "run %d not found", id)
	}
	if err != nil {
		exitWithError(ExitError, "getting run: %v", err)
	}

	if !humanOutput {
		outputJSON(run)
		return nil
	}

	outputHuman("Run %d (%s)\n", run.ID, run.Key)
	outputHuman("  started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if run.EndedAt != nil {
		outputHuman("  ended:    %s (%s)\n", run.EndedAt.Format("2006-01-02 15:04:05 MST"), formatDuration(run.EndedAt.Sub(run.StartedAt)))
	}
	outputHuman("  outcome:  %s\n", orDash(run.Outcome))
	outputHuman("  rows:     %d\n", run.RowsIngested)
	outputHuman("  cursor:   %s -> %s\n", orDash(run.CursorStart), orDash(run.CursorEnd))
	outputHuman("  query:    %s\n", run.Query)
	outputHuman("  hash:     %s\n", run.QueryHash)
	if run.Notes != "" {
		outputHuman("  notes:    %s\n", run.Notes)
	}
	if run.Error != "" {
		outputHuman("  error:    %s\n", run.Error)
	}
	return nil
}
