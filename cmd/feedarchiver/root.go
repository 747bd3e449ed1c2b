package main

import (
	"fmt"
	"os"
	"runtime"

	"feedarchiver/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	notify     bool
	quiet      bool
)

// rootCmd runs an archival pass when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "feedarchiver",
	Short: "Archive recent photos from the codmon feed",
	Long: `feedarchiver signs in to the codmon parent app, walks the home feed
newest-first and saves the photos of every post inside the lookback window
into a per-day directory. Files already present are never downloaded again.

Features:
  - Credentials kept in the system keychain or an encrypted file
  - Original resolution first, bounded resolution as fallback
  - Early stop once the feed is past the lookback window
  - Download history with 'feedarchiver history'`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.Output = nopWriter{}
		}
		if !quiet && (cmd.Name() == "feedarchiver" || cmd.Name() == "run") {
			ui.PrintBanner()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(cmd, args)
	},
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.feedarchiver.yaml or ~/.config/feedarchiver/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress terminal output except logs")

	addRunFlags(rootCmd)

	rootCmd.SetVersionTemplate(`feedarchiver {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
