package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedarchiver/internal/archiver"
	"feedarchiver/pkg/auth"
	"feedarchiver/pkg/config"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/ui"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Run command flags
var (
	outputDir        string
	lookbackHours    int
	scrollSteps      int
	scrollWait       time.Duration
	maxOriginalBytes int64
	headless         bool
	accountEmail     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Archive the photos of recent posts",
	Long: `Sign in, walk the feed and download the photos of every post inside the
lookback window into <output>/<YYYY-MM-DD>/.

Credentials are taken from --account, then FEEDARCHIVER_EMAIL and
FEEDARCHIVER_PASSWORD, then the first stored account.`,
	Example: `  # Archive the last three days with default settings
  feedarchiver run

  # Only the last day, into a specific directory
  feedarchiver run --lookback-hours 24 --output ~/Pictures/codmon

  # Watch the browser while it works
  feedarchiver run --headless=false --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&outputDir, "output", "o", "", "base directory for downloads")
	f.IntVar(&lookbackHours, "lookback-hours", 0, "only archive posts newer than this many hours")
	f.IntVar(&scrollSteps, "scroll-steps", 0, "maximum number of feed scrolls")
	f.DurationVar(&scrollWait, "scroll-wait", 0, "wait after each scroll")
	f.Int64Var(&maxOriginalBytes, "max-original-bytes", 0, "size ceiling for original resolution downloads")
	f.BoolVar(&headless, "headless", true, "run the browser without a window")
	f.StringVarP(&accountEmail, "account", "a", "", "stored account to sign in with")
}

// changedFlags maps the flags the user set onto config keys
func changedFlags(fs *pflag.FlagSet) map[string]interface{} {
	flags := make(map[string]interface{})
	if fs.Changed("output") {
		flags["output"] = outputDir
	}
	if fs.Changed("lookback-hours") {
		flags["lookback-hours"] = lookbackHours
	}
	if fs.Changed("scroll-steps") {
		flags["scroll-steps"] = scrollSteps
	}
	if fs.Changed("scroll-wait") {
		flags["scroll-wait"] = scrollWait
	}
	if fs.Changed("max-original-bytes") {
		flags["max-original-bytes"] = maxOriginalBytes
	}
	if fs.Changed("headless") {
		flags["headless"] = headless
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, changedFlags(cmd.Flags()))
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger().WithField("version", version)

	account, err := resolveAccount(accountEmail)
	if err != nil {
		return err
	}
	ui.PrintInfo("Account", account.Email)
	ui.PrintInfo("Output", cfg.Download.BaseDirectory)
	ui.PrintInfo("Lookback", fmt.Sprintf("%dh", cfg.Feed.LookbackHours))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := ui.NewNotifierWith(nil)
	if notify {
		notifier = ui.NewNotifier()
	}

	summary, err := archiver.Run(ctx, cfg, account, log)
	if summary != nil {
		ui.PrintSummary(*summary)
	}
	if err != nil {
		log.WithError(err).Error("run aborted")
		notifier.RunFailed(err)
		return err
	}

	notifier.RunFinished(*summary)
	return nil
}

// resolveAccount picks the explicitly requested account, else the default one
func resolveAccount(email string) (*auth.Account, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if email != "" {
		account, err := manager.Retrieve(email)
		if err != nil {
			return nil, fmt.Errorf("account %s not found, see 'feedarchiver auth list': %w", email, err)
		}
		return account, nil
	}

	account, err := manager.RetrieveDefault()
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		return nil, errors.New("no credentials found; run 'feedarchiver auth login' or set FEEDARCHIVER_EMAIL and FEEDARCHIVER_PASSWORD")
	}
	return account, err
}
