package main

import (
	"fmt"
	"os"

	"github.com/crossharvest/crossharvest/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after defaults, the config file,
.env and CROSSHARVEST_* variables have been applied.

Usage:
  crossharvest config            # Show effective config as JSON
  crossharvest config --human    # Show effective config as YAML
  crossharvest config init       # Write the defaults to the config file
  crossharvest config path       # Print the config file location`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(effectiveConfigPath())
		return nil
	},
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	if humanOutput {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			exitWithError(ExitError, "encoding config: %v", err)
		}
		fmt.Print(string(data))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		return nil
	}
	outputJSON(cfg)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := effectiveConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		exitWithError(ExitConfigError, "config file %s already exists (use --force to overwrite)", path)
	}

	if err := config.Defaults().Save(path); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		outputHuman("Wrote default config to %s\n", path)
	} else {
		outputJSON(StatusResponse{Status: "written", Path: path})
	}
	return nil
}
