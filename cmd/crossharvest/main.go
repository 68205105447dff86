// Package main provides the crossharvest CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/crossharvest/crossharvest/internal/classify"
	"github.com/crossharvest/crossharvest/internal/config"
	"github.com/crossharvest/crossharvest/internal/logger"
	"github.com/crossharvest/crossharvest/internal/storage"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	dbPath      string
	logMode     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so cobra errors (unknown flags) are printed here
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crossharvest",
	Short: "Harvest and reconcile institutional affiliations from Crossref",
	Long: `crossharvest pages through Crossref works whose author affiliations
mention a target institution, keeps the records that really belong to it,
and reconciles works, authors, affiliations and topics into SQLite.

Configuration is read from $XDG_CONFIG_HOME/crossharvest/config.yml (or
--config), a .env file in the working directory and CROSSHARVEST_* variables.
All commands output JSON by default; use --human for text.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $XDG_CONFIG_HOME/crossharvest/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database (overrides db_path)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "Log mode: dev or prod (overrides log_mode)")
	rootCmd.Version = Version
}

// mustLoadConfig loads and validates configuration, exits on error.
func mustLoadConfig() *config.Config {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandPath(dbPath)
	}
	if logMode != "" {
		cfg.LogMode = logMode
	}
	return cfg
}

// mustValidate exits with ExitConfigError when cfg is unusable.
func mustValidate(cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
}

// mustOpenDatabase opens the SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// mustNewLogger builds the zap logger for cfg.LogMode, exits on error.
func mustNewLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		exitWithError(ExitConfigError, "building logger: %v", err)
	}
	return log
}

// mustSyncConfiguredSites merges sites listed in the config file into the
// stored catalog. Without a sites: section the stored catalog is left alone.
func mustSyncConfiguredSites(ctx context.Context, cfg *config.Config, db *storage.DB) {
	if len(cfg.Sites) == 0 {
		return
	}
	if err := db.UpsertSites(ctx, cfg.Sites); err != nil {
		exitWithError(ExitError, "syncing configured sites: %v", err)
	}
}

// mustNewClassifier builds a classifier over the site catalog stored in db.
func mustNewClassifier(ctx context.Context, cfg *config.Config, db *storage.DB) *classify.Classifier {
	sites, err := db.ListSites(ctx)
	if err != nil {
		exitWithError(ExitError, "listing sites: %v", err)
	}

	opts := cfg.ClassifierOptions()
	opts.Sites = sites
	c, err := classify.New(opts)
	if err != nil {
		exitWithError(ExitConfigError, "building classifier: %v", err)
	}
	return c
}
