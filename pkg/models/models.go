package models

import "time"

// Card is a feed entry as seen during one traversal pass
type Card struct {
	Index    int
	Label    string
	Title    string
	VisitKey string
}

// Post is the content behind an opened card
type Post struct {
	ID   string
	Date time.Time
	// RelativeDate is set when Date was computed from an "N ago" label and
	// so moves with the clock from one run to the next
	RelativeDate bool
	ImageURLs    []string
}

// HasDate reports whether a date was resolved for the post
func (p *Post) HasDate() bool {
	return !p.Date.IsZero()
}

// ImageReference is one image to archive
type ImageReference struct {
	URL       string
	Timestamp time.Time
	Key       string
}

// Tier identifies which resolution variant was downloaded
type Tier string

const (
	TierOriginal Tier = "original"
	TierBounded  Tier = "bounded"
)

// DownloadResult describes a file written by the acquirer
type DownloadResult struct {
	Tier  Tier
	Path  string
	Bytes int64
}

// Summary counts the outcome of a run
type Summary struct {
	RunID      string
	Collected  int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Original   int
	Bounded    int
	Directory  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
