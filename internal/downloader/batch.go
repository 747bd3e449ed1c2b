package downloader

import (
	"context"
	"time"

	"feedarchiver/pkg/imageurl"
	"feedarchiver/pkg/ledger"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/storage"
)

// ImageFetcher downloads one image to a destination path
type ImageFetcher interface {
	Acquire(ctx context.Context, src, dest string) (*models.DownloadResult, error)
}

// Batch downloads collected references one at a time into a single output
// directory. The destination filename is the only idempotency key: a name
// already present in the directory is never fetched again.
type Batch struct {
	fetcher ImageFetcher
	store   *storage.Manager
	ledger  ledger.Store
	runID   string
	log     logger.Logger
	now     func() time.Time
}

// NewBatch creates a Batch. A nil ledger records nothing.
func NewBatch(fetcher ImageFetcher, store *storage.Manager, l ledger.Store, runID string, log logger.Logger) *Batch {
	if l == nil {
		l = ledger.Nop()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Batch{
		fetcher: fetcher,
		store:   store,
		ledger:  l,
		runID:   runID,
		log:     log.WithField("component", "batch"),
		now:     time.Now,
	}
}

// Run processes refs in order. Per-image failures are logged and counted;
// only cancellation stops the batch early.
func (b *Batch) Run(ctx context.Context, refs []models.ImageReference) models.Summary {
	summary := models.Summary{
		RunID:     b.runID,
		Collected: len(refs),
		Directory: b.store.GetOutputDir(),
	}

	b.log.InfoWithFields("download batch started", map[string]interface{}{
		"images":   len(refs),
		"existing": b.store.Count(),
	})

	for _, ref := range refs {
		if ctx.Err() != nil {
			b.log.Warn("download batch interrupted")
			break
		}
		b.process(ctx, ref, &summary)
	}

	b.log.InfoWithFields("download batch finished", map[string]interface{}{
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"bytes":      summary.Bytes,
	})
	return summary
}

func (b *Batch) process(ctx context.Context, ref models.ImageReference, summary *models.Summary) {
	name, err := imageurl.DestinationName(ref.Key, ref.URL)
	if err != nil {
		b.log.WithError(err).WithField("url", ref.URL).Warn("no filename for image")
		summary.Failed++
		return
	}

	if b.store.Has(name) {
		b.logSkip(name)
		summary.Skipped++
		return
	}

	result, err := b.fetcher.Acquire(ctx, ref.URL, b.store.Path(name))
	if err != nil {
		b.log.WithError(err).WithFields(map[string]interface{}{
			"file": name,
			"url":  ref.URL,
		}).Error("download failed")
		summary.Failed++
		return
	}

	b.store.Mark(name)
	summary.Downloaded++
	summary.Bytes += result.Bytes
	if result.Tier == models.TierOriginal {
		summary.Original++
	} else {
		summary.Bounded++
	}

	b.log.WithFields(map[string]interface{}{
		"file":  name,
		"tier":  string(result.Tier),
		"bytes": result.Bytes,
	}).Info("image saved")

	entry := ledger.Entry{
		Filename:  name,
		URL:       ref.URL,
		Key:       ref.Key,
		Tier:      result.Tier,
		Bytes:     result.Bytes,
		RunID:     b.runID,
		PostedAt:  ref.Timestamp,
		SavedAt:   b.now(),
		Directory: b.store.GetOutputDir(),
	}
	if err := b.ledger.Record(entry); err != nil {
		b.log.WithError(err).WithField("file", name).Warn("ledger record failed")
	}
}

// logSkip notes an image that is already on disk, with the run that saved it
// when the ledger knows.
func (b *Batch) logSkip(name string) {
	log := b.log.WithField("file", name)
	entry, found, err := b.ledger.Lookup(name)
	switch {
	case err != nil:
		log = log.WithError(err)
	case found:
		log = log.WithFields(map[string]interface{}{
			"saved_by": entry.RunID,
			"saved_at": entry.SavedAt,
			"tier":     string(entry.Tier),
		})
	}
	log.Debug("already archived")
}
