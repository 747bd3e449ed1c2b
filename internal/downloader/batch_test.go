package downloader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedarchiver/pkg/ledger"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refsFor(base string) []models.ImageReference {
	ts := time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)
	return []models.ImageReference{
		{URL: base + "/diaries/1/IMG%201.jpg?width=640", Timestamp: ts, Key: "1"},
		{URL: base + "/diaries/1/IMG+2.jpg", Timestamp: ts, Key: "1"},
		{URL: base + "/comments/9/c.jpg", Timestamp: ts, Key: "093000-abc123"},
	}
}

func TestBatchWritesFilesAndCounts(t *testing.T) {
	_, base := newHost(t, serveImage("original"), serveImage("bounded"))
	dir := t.TempDir()
	store, err := storage.NewManager(dir)
	require.NoError(t, err)

	summary := NewBatch(newTestAcquirer(1000), store, nil, "run-1", logger.NewNopLogger()).
		Run(context.Background(), refsFor(base))

	assert.Equal(t, 3, summary.Collected)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, 3, summary.Original)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, int64(3*len("original")), summary.Bytes)
	assert.Equal(t, dir, summary.Directory)

	for _, name := range []string{"1_IMG_1.jpg", "1_IMG_2.jpg", "093000-abc123_c.jpg"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestBatchIsIdempotentAcrossRuns(t *testing.T) {
	host, base := newHost(t, serveImage("original"), serveImage("bounded"))
	dir := t.TempDir()
	refs := refsFor(base)

	run := func() models.Summary {
		store, err := storage.NewManager(dir)
		require.NoError(t, err)
		return NewBatch(newTestAcquirer(1000), store, nil, "run", nil).Run(context.Background(), refs)
	}

	first := run()
	require.Equal(t, 3, first.Downloaded)
	hitsAfterFirst := host.hits()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	filesAfterFirst := len(entries)

	second := run()
	assert.Zero(t, second.Downloaded)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, hitsAfterFirst, host.hits(), "no requests on the second run")

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filesAfterFirst, len(entries))
}

func TestBatchSkipsNamesMarkedDuringRun(t *testing.T) {
	host, base := newHost(t, serveImage("original"), serveImage("bounded"))
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	ref := refsFor(base)[0]
	summary := NewBatch(newTestAcquirer(1000), store, nil, "run", nil).
		Run(context.Background(), []models.ImageReference{ref, ref})

	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, host.hits())
}

func TestBatchCountsFailuresAndContinues(t *testing.T) {
	notFound := func(w http.ResponseWriter, r *http.Request) {
		if filepath.Base(r.URL.Path) == "c.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		serveImage("ok")(w, r)
	}
	_, base := newHost(t, notFound, notFound)
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	log := logger.NewTestLogger()

	summary := NewBatch(newTestAcquirer(1000), store, nil, "run", log).Run(context.Background(), refsFor(base))

	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, log.HasMessage("download failed"))
}

func TestBatchRecordsLedgerEntries(t *testing.T) {
	_, base := newHost(t, serveStatus(http.StatusNotFound), serveImage("bounded"))
	dir := t.TempDir()
	store, err := storage.NewManager(dir)
	require.NoError(t, err)

	l, err := ledger.Open(filepath.Join(dir, "_ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	refs := refsFor(base)[:1]
	summary := NewBatch(newTestAcquirer(1000), store, l, "run-7", nil).Run(context.Background(), refs)
	require.Equal(t, 1, summary.Bounded)

	entry, ok, err := l.Lookup("1_IMG_1.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-7", entry.RunID)
	assert.Equal(t, models.TierBounded, entry.Tier)
	assert.Equal(t, refs[0].URL, entry.URL)
	assert.True(t, entry.PostedAt.Equal(refs[0].Timestamp))
}

func TestBatchLogsEarlierRunWhenSkipping(t *testing.T) {
	_, base := newHost(t, serveImage("original"), serveImage("bounded"))
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "_ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	refs := refsFor(base)[:1]
	run := func(runID string, log logger.Logger) models.Summary {
		store, err := storage.NewManager(dir)
		require.NoError(t, err)
		return NewBatch(newTestAcquirer(1000), store, l, runID, log).Run(context.Background(), refs)
	}

	require.Equal(t, 1, run("run-1", nil).Downloaded)

	log := logger.NewTestLogger()
	second := run("run-2", log)
	require.Equal(t, 1, second.Skipped)

	skips := log.GetMessagesByLevel("DEBUG")
	var found bool
	for _, msg := range skips {
		if msg.Message != "already archived" {
			continue
		}
		found = true
		assert.Equal(t, "1_IMG_1.jpg", msg.Fields["file"])
		assert.Equal(t, "run-1", msg.Fields["saved_by"])
		assert.Equal(t, string(models.TierOriginal), msg.Fields["tier"])
	}
	assert.True(t, found, "skip is logged")
}

func TestBatchStopsWhenCancelled(t *testing.T) {
	host, base := newHost(t, serveImage("original"), serveImage("bounded"))
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := NewBatch(newTestAcquirer(1000), store, nil, "run", nil).Run(ctx, refsFor(base))
	assert.Zero(t, summary.Downloaded)
	assert.Zero(t, host.hits())
}
