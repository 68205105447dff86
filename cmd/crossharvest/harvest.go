package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crossharvest/crossharvest/internal/config"
	"github.com/crossharvest/crossharvest/internal/crossref"
	"github.com/crossharvest/crossharvest/internal/harvest"
	"github.com/crossharvest/crossharvest/internal/reconcile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	harvestMaxWorks    int
	harvestNoHitsLimit int
	harvestRows        int
	harvestFrom        string
	harvestUntil       string
	harvestVariants    bool
	harvestNoTopics    bool
	harvestRebuildView bool
)

func init() {
	harvestCmd.Flags().IntVar(&harvestMaxWorks, "max-works", 0, "Stop after this many accepted works (overrides max_works)")
	harvestCmd.Flags().IntVar(&harvestNoHitsLimit, "no-hits-limit", 0, "Stop after this many consecutive pages without an accepted work")
	harvestCmd.Flags().IntVar(&harvestRows, "rows", 0, "Page size, 1-1000 (overrides rows)")
	harvestCmd.Flags().StringVar(&harvestFrom, "from", "", "Earliest publication date, YYYY-MM-DD")
	harvestCmd.Flags().StringVar(&harvestUntil, "until", "", "Latest publication date, YYYY-MM-DD")
	harvestCmd.Flags().BoolVar(&harvestVariants, "variants", false, "Also accept the configured name variants as target matches")
	harvestCmd.Flags().BoolVar(&harvestNoTopics, "no-topics", false, "Do not record subject topics")
	harvestCmd.Flags().BoolVar(&harvestRebuildView, "rebuild-view", false, "Rebuild the analysis view after the run")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one harvest against Crossref",
	Long: `Run one harvest: page through Crossref with a deep-paging cursor,
keep works that have at least one author affiliated with the target
institution, and reconcile them into the database.

The run stops when results are exhausted, the work ceiling is reached, the
cursor stalls, too many pages in a row yield nothing, or a transport or store
error occurs. SIGINT ends the run cleanly and its provenance is still written.

Examples:
  crossharvest harvest
  crossharvest harvest --max-works 500 --from 2020-01-01 --rebuild-view
  crossharvest harvest --variants --no-topics --human`,
	Args: cobra.NoArgs,
	RunE: runHarvest,
}

// applyHarvestFlags copies explicitly set flags over cfg.
func applyHarvestFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("max-works") {
		cfg.MaxWorks = harvestMaxWorks
	}
	if flags.Changed("no-hits-limit") {
		cfg.NoHitsLimit = harvestNoHitsLimit
	}
	if flags.Changed("rows") {
		cfg.Rows = harvestRows
	}
	if flags.Changed("from") {
		cfg.FromDate = harvestFrom
	}
	if flags.Changed("until") {
		cfg.UntilDate = harvestUntil
	}
	if flags.Changed("variants") {
		cfg.UseVariants = harvestVariants
	}
	if flags.Changed("no-topics") {
		cfg.InsertTopics = !harvestNoTopics
	}
}

// newClient builds the Crossref client from cfg.
func newClient(cfg *config.Config, opts ...crossref.ClientOption) *crossref.Client {
	base := []crossref.ClientOption{
		crossref.WithBaseURL(cfg.BaseURL),
		crossref.WithUserAgent(cfg.UserAgent, cfg.Mailto),
		crossref.WithRetry(cfg.MaxTries, cfg.BaseBackoff, cfg.MaxBackoff),
		crossref.WithPagePause(cfg.PagePause),
		crossref.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	}
	return crossref.NewClient(append(base, opts...)...)
}

// HarvestResponse is the JSON output of the harvest command.
type HarvestResponse struct {
	*harvest.Result
	Elapsed     string `json:"elapsed"`
	ViewRows    *int   `json:"view_rows,omitempty"`
	ViewRebuild string `json:"view_error,omitempty"`
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	applyHarvestFlags(cmd.Flags(), cfg)
	mustValidate(cfg)

	log := mustNewLogger(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := mustOpenDatabase(cfg)
	defer db.Close()

	mustSyncConfiguredSites(ctx, cfg, db)
	classifier := mustNewClassifier(ctx, cfg, db)
	client := newClient(cfg, crossref.WithLogger(log))
	reconciler := reconcile.New(db, classifier, cfg.InsertTopics)
	h := harvest.New(client, reconciler, db, harvest.OptionsFromConfig(cfg), harvest.WithLogger(log))

	started := time.Now()
	res, runErr := h.Run(ctx)
	if res == nil {
		exitWithError(ExitError, "%v", runErr)
	}

	resp := HarvestResponse{Result: res, Elapsed: formatDuration(time.Since(started))}
	if harvestRebuildView && res.Outcome != harvest.Canceled {
		n, err := db.RebuildAnalysisView(context.WithoutCancel(ctx))
		if err != nil {
			log.Error("rebuilding analysis view failed", "error", err)
			resp.ViewRebuild = err.Error()
		} else {
			resp.ViewRows = &n
		}
	}

	if humanOutput {
		printHarvestHuman(resp)
	} else {
		outputJSON(resp)
	}

	if code := harvestExitCode(res.Outcome); code != ExitSuccess {
		db.Close()
		log.Sync()
		os.Exit(code)
	}
	return nil
}

// harvestExitCode maps a run outcome to the process exit code. Limits,
// stalls and streaks are normal endings.
func harvestExitCode(o harvest.Outcome) int {
	switch o {
	case harvest.Canceled:
		return ExitInterrupted
	case harvest.TransportError, harvest.StoreError:
		return ExitRunFailed
	}
	return ExitSuccess
}

func printHarvestHuman(r HarvestResponse) {
	outputHuman("Run %d (%s): %s after %d pages in %s\n", r.RunID, r.RunKey, r.Outcome, r.Pages, r.Elapsed)
	outputHuman("  accepted:          %d\n", r.Accepted)
	outputHuman("  discarded:         %d\n", r.Discarded)
	outputHuman("  already stored:    %d\n", r.SkippedStored)
	outputHuman("  repeated in run:   %d\n", r.SkippedSeen)
	outputHuman("  invalid DOI:       %d\n", r.SkippedInvalid)
	outputHuman("  links / topics:    %d / %d\n", r.Links, r.Topics)
	if r.MalformedPages > 0 {
		outputHuman("  malformed pages:   %d\n", r.MalformedPages)
	}
	for _, d := range r.Degradations {
		outputHuman("  degraded query:    %s\n", d)
	}
	outputHuman("  cursor:            %s -> %s\n", r.CursorStart, r.CursorEnd)
	if r.Error != "" {
		outputHuman("  error:             %s\n", r.Error)
	}
	if r.ViewRows != nil {
		outputHuman("Analysis view rebuilt: %d rows\n", *r.ViewRows)
	}
	if r.ViewRebuild != "" {
		outputHuman("Analysis view rebuild failed: %s\n", r.ViewRebuild)
	}
}
