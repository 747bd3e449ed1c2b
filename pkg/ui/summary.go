package ui

import (
	"fmt"
	"strings"
	"time"

	"feedarchiver/pkg/models"

	"github.com/dustin/go-humanize"
)

// FormatSummary renders the outcome of a run as a short block of text
func FormatSummary(s models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d downloaded, %d skipped",
		Green("[DONE]"), s.Downloaded, s.Skipped)
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %s", Red(fmt.Sprintf("%d failed", s.Failed)))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "  %s %d images found in the feed\n", Dim("collected"), s.Collected)
	if s.Downloaded > 0 {
		fmt.Fprintf(&b, "  %s %s (%d original, %d bounded)\n",
			Dim("written  "), humanize.Bytes(uint64(s.Bytes)), s.Original, s.Bounded)
	}
	if s.Directory != "" {
		fmt.Fprintf(&b, "  %s %s\n", Dim("directory"), s.Directory)
	}
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(&b, "  %s %s\n", Dim("took     "), d.Round(time.Second))
	}
	return b.String()
}

// PrintSummary prints FormatSummary to Output
func PrintSummary(s models.Summary) {
	fmt.Fprint(Output, FormatSummary(s))
}

// FormatRun renders one past run as a single history line
func FormatRun(s models.Summary, now time.Time) string {
	line := fmt.Sprintf("%s  %-10s %3d new  %3d skipped  %8s",
		s.StartedAt.Local().Format("2006-01-02 15:04"),
		humanize.RelTime(s.StartedAt, now, "ago", "from now"),
		s.Downloaded, s.Skipped, humanize.Bytes(uint64(s.Bytes)))
	if s.Failed > 0 {
		line += "  " + Red(fmt.Sprintf("%d failed", s.Failed))
	}
	return line
}
