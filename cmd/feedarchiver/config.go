package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"feedarchiver/pkg/auth"
	"feedarchiver/pkg/config"
	"feedarchiver/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage feedarchiver configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (FEEDARCHIVER_*, .env files included)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write the default configuration to '.feedarchiver.yaml' in the current
directory, or to the path given with --config. Existing files are kept.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from all sources and check it.

This command checks:
  - YAML syntax
  - Value ranges
  - Output and log directories can be created`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".feedarchiver.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Store your login with 'feedarchiver auth login'")
	fmt.Fprintln(ui.Output, "2. Run 'feedarchiver config validate' to check the configuration")
	fmt.Fprintln(ui.Output, "3. Start archiving with 'feedarchiver run'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))

	if env := os.Getenv(auth.EnvEmail); env != "" {
		masked := auth.SanitizeAccount(&auth.Account{Email: env, Password: os.Getenv(auth.EnvPassword)})
		fmt.Fprintf(ui.Output, "\nEnvironment account: %s (password %s)\n", masked.Email, masked.Password)
	}

	fmt.Fprintln(ui.Output, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(ui.Output, "1. Command line flags")
	fmt.Fprintln(ui.Output, "2. Environment variables (FEEDARCHIVER_*)")
	if configFile != "" {
		fmt.Fprintf(ui.Output, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(ui.Output, "3. Configuration file: (searched in default locations)")
	}
	fmt.Fprintln(ui.Output, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	var problems []error
	if err := os.MkdirAll(cfg.Download.BaseDirectory, 0755); err != nil {
		problems = append(problems, fmt.Errorf("cannot create output directory: %w", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Errorf("cannot create log directory: %w", err))
		}
	}
	if err := errors.Join(problems...); err != nil {
		return err
	}

	if cfg.Feed.LookbackHours > 24*14 {
		ui.PrintWarning(fmt.Sprintf("Lookback of %dh is long; the traversal stops after %d scrolls anyway", cfg.Feed.LookbackHours, cfg.Feed.ScrollSteps))
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(ui.Output, "\nConfiguration summary:")
	fmt.Fprintf(ui.Output, "  Output directory: %s\n", cfg.Download.BaseDirectory)
	fmt.Fprintf(ui.Output, "  Lookback: %dh, %d scrolls, %s apart\n", cfg.Feed.LookbackHours, cfg.Feed.ScrollSteps, cfg.Feed.ScrollWait)
	fmt.Fprintf(ui.Output, "  Original size ceiling: %d bytes\n", cfg.Download.MaxOriginalBytes)
	fmt.Fprintf(ui.Output, "  Ledger: %s\n", ledgerDescription(cfg))
	fmt.Fprintf(ui.Output, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

func ledgerDescription(cfg *config.Config) string {
	if !cfg.Ledger.Enabled {
		return "disabled"
	}
	return cfg.LedgerPath()
}
