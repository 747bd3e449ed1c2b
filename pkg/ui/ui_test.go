package ui

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSummary(t *testing.T) {
	start := time.Date(2025, 10, 2, 7, 0, 0, 0, time.UTC)
	out := FormatSummary(models.Summary{
		Collected:  12,
		Downloaded: 5,
		Skipped:    6,
		Failed:     1,
		Bytes:      3_500_000,
		Original:   4,
		Bounded:    1,
		Directory:  "/photos/2025-10-02",
		StartedAt:  start,
		FinishedAt: start.Add(95 * time.Second),
	})

	assert.Contains(t, out, "5 downloaded, 6 skipped")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "12 images")
	assert.Contains(t, out, "3.5 MB")
	assert.Contains(t, out, "4 original, 1 bounded")
	assert.Contains(t, out, "/photos/2025-10-02")
	assert.Contains(t, out, "1m35s")
}

func TestFormatSummaryNothingNew(t *testing.T) {
	out := FormatSummary(models.Summary{Collected: 3, Skipped: 3})

	assert.Contains(t, out, "0 downloaded, 3 skipped")
	assert.NotContains(t, out, "failed")
	assert.NotContains(t, out, "written")
}

func TestFormatRun(t *testing.T) {
	now := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	line := FormatRun(models.Summary{
		StartedAt:  now.Add(-2 * time.Hour),
		Downloaded: 7,
		Skipped:    2,
		Bytes:      2048,
	}, now)

	assert.Contains(t, line, "2 hours ago")
	assert.Contains(t, line, "7 new")
	assert.Contains(t, line, "2.0 kB")
}

type recordingSender struct {
	messages []string
}

func (r *recordingSender) send(title, message string) error {
	r.messages = append(r.messages, title+": "+message)
	return nil
}

func TestNotifierRunFinished(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifierWith(sender.send)

	n.RunFinished(models.Summary{Downloaded: 5, Bytes: 2_000_000})
	n.RunFinished(models.Summary{Skipped: 9})
	n.RunFinished(models.Summary{Downloaded: 1, Failed: 2, Bytes: 1000})

	assert.Equal(t, []string{
		"feedarchiver: 5 new photos saved (2.0 MB)",
		"feedarchiver: 1 new photos saved (1.0 kB), 2 failed",
	}, sender.messages)
}

func TestNotifierRunFailed(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifierWith(sender.send)

	n.RunFailed(errors.New(errors.ErrorTypeFatalSession, "login form not found"))
	n.RunFailed(fmt.Errorf("collect: %w", context.Canceled))
	n.RunFailed(stderrors.New("disk full"))
	n.RunFailed(nil)

	require.Len(t, sender.messages, 2)
	assert.Contains(t, sender.messages[0], "could not reach the feed")
	assert.Equal(t, "feedarchiver: run failed: disk full", sender.messages[1])
}

func TestNotifierWithoutSender(t *testing.T) {
	n := NewNotifierWith(nil)
	assert.NotPanics(t, func() {
		n.RunFinished(models.Summary{Downloaded: 3})
		n.RunFailed(stderrors.New("boom"))
	})
}

func TestDesktopSender(t *testing.T) {
	assert.NotNil(t, desktopSender("linux"))
	assert.NotNil(t, desktopSender("darwin"))
	assert.Nil(t, desktopSender("plan9"))
}
