package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"feedarchiver/pkg/config"
	"feedarchiver/pkg/ledger"
	"feedarchiver/pkg/ui"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Long:  `List the most recent runs recorded in the download ledger, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		ui.PrintWarning("The ledger is disabled in the configuration")
		return nil
	}

	path := cfg.LedgerPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		ui.PrintInfo("No runs recorded yet", path)
		return nil
	}

	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.RecentRuns(historyLimit)
	if err != nil {
		return err
	}

	now := time.Now()
	var total int64
	ui.PrintHighlight(fmt.Sprintf("Last %d runs", len(runs)))
	for _, run := range runs {
		fmt.Fprintln(ui.Output, ui.FormatRun(run, now))
		total += run.Bytes
	}
	fmt.Fprintf(ui.Output, "\n%s written in total\n", humanize.Bytes(uint64(total)))
	return nil
}
