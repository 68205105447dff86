package main

import (
	"bufio"
	"io"
	"os"

	"github.com/crossharvest/crossharvest/internal/export"
	"github.com/crossharvest/crossharvest/internal/storage"
	"github.com/spf13/cobra"
)

var (
	exportFormat     string
	exportOut        string
	exportRebuild    bool
	exportTargetOnly bool
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "jsonl", "Output format: jsonl or bibtex")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportRebuild, "rebuild", false, "Rebuild the analysis view before exporting")
	exportCmd.Flags().BoolVar(&exportTargetOnly, "target-only", false, "Only export rows flagged as target-institution works")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the analysis view",
	Long: `Export the analysis view as JSONL (one object per work) or BibTeX.

Examples:
  crossharvest export > works.jsonl
  crossharvest export --format bibtex --out works.bib
  crossharvest export --rebuild --target-only`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	write, ok := exportWriters[exportFormat]
	if !ok {
		exitWithError(ExitError, "unknown format %q (want jsonl or bibtex)", exportFormat)
	}

	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	if exportRebuild {
		if _, err := db.RebuildAnalysisView(cmd.Context()); err != nil {
			exitWithError(ExitError, "rebuilding analysis view: %v", err)
		}
	}

	rows, err := db.ListViewRows(cmd.Context())
	if err != nil {
		exitWithError(ExitError, "reading analysis view: %v", err)
	}
	if exportTargetOnly {
		rows = filterTarget(rows)
	}

	var out io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			exitWithError(ExitError, "creating %s: %v", exportOut, err)
		}
		defer f.Close()
		bw := bufio.NewWriter(f)
		defer bw.Flush()
		out = bw
	}

	// Export output is the data itself, never wrapped in JSON.
	if err := write(out, rows); err != nil {
		exitWithError(ExitError, "writing export: %v", err)
	}
	if exportOut != "" && humanOutput {
		outputHuman("Exported %d rows to %s\n", len(rows), exportOut)
	}
	return nil
}

var exportWriters = map[string]func(io.Writer, []storage.ViewRow) error{
	"jsonl":  export.WriteJSONL,
	"bibtex": export.WriteBibTeX,
}

func filterTarget(rows []storage.ViewRow) []storage.ViewRow {
	out := rows[:0]
	for _, r := range rows {
		if r.TargetFlag {
			out = append(out, r)
		}
	}
	return out
}
