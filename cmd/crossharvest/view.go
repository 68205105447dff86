package main

import (
	"github.com/spf13/cobra"
)

func init() {
	viewCmd.AddCommand(viewRebuildCmd)
	rootCmd.AddCommand(viewCmd)
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Manage the denormalized analysis view",
}

var viewRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the analysis view from the current store",
	Long: `Rebuild the analysis view: one row per work with its authors,
affiliations, sites, areas, countries and topics aggregated and joined
with "; ". The view is replaced atomically.`,
	Args: cobra.NoArgs,
	RunE: runViewRebuild,
}

func runViewRebuild(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	n, err := db.RebuildAnalysisView(cmd.Context())
	if err != nil {
		exitWithError(ExitError, "rebuilding analysis view: %v", err)
	}

	if humanOutput {
		outputHuman("Analysis view rebuilt: %d rows\n", n)
	} else {
		outputJSON(StatusResponse{Status: "rebuilt", Count: n})
	}
	return nil
}
