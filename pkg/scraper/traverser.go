package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/imageurl"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/timeparse"
)

// visitKeyTitleRunes bounds the part of the card title used in its visit key
const visitKeyTitleRunes = 50

// TraverserOptions configures a Traverser
type TraverserOptions struct {
	Lookback      time.Duration
	MaxIterations int
	ScrollWait    time.Duration
	Selectors     Selectors
}

// Traverser walks the feed newest-first, opening every card that is not
// older than the lookback window, and collects the images of those posts.
type Traverser struct {
	page     Page
	resolver *Resolver
	opts     TraverserOptions
	log      logger.Logger
	sleep    SleepFunc
}

// NewTraverser creates a Traverser
func NewTraverser(page Page, resolver *Resolver, opts TraverserOptions, log logger.Logger) *Traverser {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Traverser{
		page:     page,
		resolver: resolver,
		opts:     opts,
		log:      log.WithField("component", "traverser"),
		sleep:    defaultSleep,
	}
}

// SetSleep replaces the wait after each scroll
func (t *Traverser) SetSleep(fn SleepFunc) {
	t.sleep = fn
}

// pass holds the state of one traversal
type pass struct {
	now       time.Time
	threshold time.Time
	visited   map[string]bool
	refs      *collector
}

// Collect traverses the feed and returns the images of fresh posts, each URL
// once, in the order first seen. Errors on individual cards are logged and
// skipped. An error is returned only when the feed cannot be enumerated or
// scrolled, or ctx is done; the references gathered so far are returned
// with it.
func (t *Traverser) Collect(ctx context.Context, now time.Time) ([]models.ImageReference, error) {
	p := &pass{
		now:       now,
		threshold: now.Add(-t.opts.Lookback),
		visited:   make(map[string]bool),
		refs:      newCollector(),
	}

	t.log.WithFields(map[string]interface{}{
		"threshold":      p.threshold,
		"max_iterations": t.opts.MaxIterations,
	}).Info("feed traversal started")

	for iteration := 1; iteration <= t.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return p.refs.list(), err
		}

		visible, err := t.page.Count(ctx, t.opts.Selectors.Card)
		if err != nil {
			return p.refs.list(), errors.Wrap(errors.ErrorTypeFatalSession, err, "enumerate feed cards")
		}

		expired := 0
		for idx := 0; idx < visible && ctx.Err() == nil; idx++ {
			if t.visitCard(ctx, p, idx) {
				expired++
			}
		}

		t.log.WithFields(map[string]interface{}{
			"iteration": iteration,
			"visible":   visible,
			"expired":   expired,
			"images":    p.refs.len(),
		}).Info("feed sweep finished")

		// the feed is newest-first: a mostly expired screen means the rest is older
		if visible > 0 && expired*2 >= visible {
			t.log.Info("most visible cards are past the lookback window, stopping")
			break
		}

		grew, err := t.scroll(ctx)
		if err != nil {
			return p.refs.list(), err
		}
		if !grew {
			t.log.Info("feed height unchanged after scrolling, stopping")
			break
		}
	}

	return p.refs.list(), nil
}

// scroll moves to the bottom of the feed, waits, and reports whether the
// page grew.
func (t *Traverser) scroll(ctx context.Context) (bool, error) {
	before, err := t.page.ScrollHeight(ctx)
	if err != nil {
		return false, errors.Wrap(errors.ErrorTypeFatalSession, err, "read feed height")
	}
	if err := t.page.ScrollToBottom(ctx); err != nil {
		return false, errors.Wrap(errors.ErrorTypeFatalSession, err, "scroll feed")
	}
	if err := t.sleep(ctx, t.opts.ScrollWait); err != nil {
		return false, err
	}
	after, err := t.page.ScrollHeight(ctx)
	if err != nil {
		return false, errors.Wrap(errors.ErrorTypeFatalSession, err, "read feed height")
	}
	return after != before, nil
}

// visitCard handles the card at idx and reports whether it was counted as
// expired. Each card is visited at most once per pass.
func (t *Traverser) visitCard(ctx context.Context, p *pass, idx int) bool {
	card := t.readCard(ctx, idx)
	if p.visited[card.VisitKey] {
		return false
	}
	p.visited[card.VisitKey] = true

	log := t.log.WithFields(map[string]interface{}{
		"card":  idx,
		"label": card.Label,
	})

	cardTime, parseErr := timeparse.Parse(card.Label, p.now)
	if parseErr == nil && cardTime.Before(p.threshold) {
		log.Debug("card is past the lookback window")
		return true
	}

	var fallback Fallback
	if parseErr == nil {
		fallback = Fallback{Time: cardTime, Relative: timeparse.IsRelative(card.Label)}
	} else {
		log.WithError(parseErr).Debug("card label unparsable, opening post")
	}

	target := Target{Selector: t.opts.Selectors.Card, Index: idx}
	post, err := t.resolver.Resolve(ctx, target, p.now, fallback)
	if err != nil {
		log.WithError(err).Warn("card skipped")
		return false
	}

	if !post.HasDate() {
		// the feed was re-rendered by the round trip; read the label again
		label, _ := t.page.Text(ctx, target, t.opts.Selectors.CardDate)
		ts, err := timeparse.Parse(label, p.now)
		if err != nil {
			extractErr := errors.Wrap(errors.ErrorTypeExtraction, err, "no date for post")
			log.WithError(extractErr).WithField("images", len(post.ImageURLs)).Warn("post images dropped")
			return false
		}
		post.Date, post.RelativeDate = ts, timeparse.IsRelative(label)
	}

	for _, u := range post.ImageURLs {
		p.refs.add(models.ImageReference{
			URL:       u,
			Timestamp: post.Date,
			Key:       imageurl.CorrelationKey(post.ID, stableTime(post), u),
		})
	}

	log.WithFields(map[string]interface{}{
		"post":   post.ID,
		"date":   post.Date,
		"images": len(post.ImageURLs),
	}).Debug("card resolved")
	return false
}

// readCard reads the label and title of the card at idx. Missing parts are
// left empty.
func (t *Traverser) readCard(ctx context.Context, idx int) models.Card {
	target := Target{Selector: t.opts.Selectors.Card, Index: idx}

	label, _ := t.page.Text(ctx, target, t.opts.Selectors.CardDate)
	var title string
	if t.opts.Selectors.CardTitle != "" {
		title, _ = t.page.Text(ctx, target, t.opts.Selectors.CardTitle)
	}

	card := models.Card{
		Index: idx,
		Label: strings.TrimSpace(label),
		Title: strings.TrimSpace(title),
	}
	card.VisitKey = visitKey(card)
	return card
}

// stableTime returns the post time when it reads the same on every run, or
// zero when it was derived from a relative label.
func stableTime(post *models.Post) time.Time {
	if post.RelativeDate {
		return time.Time{}
	}
	return post.Date
}

func visitKey(c models.Card) string {
	title := []rune(c.Title)
	if len(title) > visitKeyTitleRunes {
		title = title[:visitKeyTitleRunes]
	}
	switch {
	case len(title) > 0:
		return c.Label + "_" + string(title)
	case c.Label != "":
		return c.Label
	default:
		return fmt.Sprintf("#%d", c.Index)
	}
}

// collector deduplicates references by URL, keeping the first one seen
type collector struct {
	order []models.ImageReference
	index map[string]int
}

func newCollector() *collector {
	return &collector{index: make(map[string]int)}
}

func (c *collector) add(ref models.ImageReference) bool {
	if _, ok := c.index[ref.URL]; ok {
		return false
	}
	c.index[ref.URL] = len(c.order)
	c.order = append(c.order, ref)
	return true
}

func (c *collector) len() int {
	return len(c.order)
}

func (c *collector) list() []models.ImageReference {
	out := make([]models.ImageReference, len(c.order))
	copy(out, c.order)
	return out
}
