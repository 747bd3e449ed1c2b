package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/imageurl"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/timeparse"

	"github.com/PuerkitoBio/goquery"
)

// leadingTextRunes bounds the slice of visible text searched for a date
const leadingTextRunes = 200

// imageAttributes lists attributes that may carry an image source, in the
// order they are read from each element.
var imageAttributes = []string{
	"src",
	"data-src",
	"data-original",
	"data-lazy-src",
	"data-lazy",
	"data-srcset",
	"srcset",
}

// clickChain is the order in which click delivery methods are attempted
var clickChain = []ClickMode{ClickDefault, ClickScript, ClickPointer}

// Selectors names the markup the traversal relies on
type Selectors struct {
	Card        string
	CardDate    string
	CardTitle   string
	Feed        string
	DetailRoots []string
	DetailDates []string
	BackButtons []string
}

// ResolverOptions configures a Resolver
type ResolverOptions struct {
	Selectors     Selectors
	ImagePrefix   string
	DetailWait    time.Duration
	ReturnTimeout time.Duration
	PollInterval  time.Duration
}

// Resolver opens a post from the feed, reads its date and images, and goes
// back to the feed.
type Resolver struct {
	page    Page
	filter  *imageurl.Filter
	opts    ResolverOptions
	log     logger.Logger
	sleep   SleepFunc
	sources []dateSource
}

// dateSource yields one candidate text that may contain the post date
type dateSource struct {
	name string
	text func(doc *goquery.Document, root *goquery.Selection) string
}

// NewResolver creates a Resolver
func NewResolver(page Page, opts ResolverOptions, log logger.Logger) *Resolver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	r := &Resolver{
		page:   page,
		filter: imageurl.NewFilter(opts.ImagePrefix),
		opts:   opts,
		log:    log.WithField("component", "resolver"),
		sleep:  defaultSleep,
	}
	r.sources = buildDateSources(opts.Selectors.DetailDates)
	return r
}

// SetSleep replaces the blocking wait used between page actions
func (r *Resolver) SetSleep(fn SleepFunc) {
	r.sleep = fn
}

func buildDateSources(dateSelectors []string) []dateSource {
	sources := make([]dateSource, 0, len(dateSelectors)+2)
	for _, sel := range dateSelectors {
		sel := sel
		sources = append(sources, dateSource{
			name: sel,
			text: func(_ *goquery.Document, root *goquery.Selection) string {
				return strings.TrimSpace(root.Find(sel).First().Text())
			},
		})
	}
	sources = append(sources,
		dateSource{
			name: "title",
			text: func(doc *goquery.Document, _ *goquery.Selection) string {
				return strings.TrimSpace(doc.Find("title").First().Text())
			},
		},
		dateSource{
			name: "leading text",
			text: func(_ *goquery.Document, root *goquery.Selection) string {
				return leadingText(root, leadingTextRunes)
			},
		},
	)
	return sources
}

// Fallback is the date used for a post whose detail page carries none,
// normally taken from the card label.
type Fallback struct {
	Time     time.Time
	Relative bool
}

// Resolve opens the card, extracts the post and returns to the feed. The
// return is attempted even when extraction fails; a failed return is only
// logged.
func (r *Resolver) Resolve(ctx context.Context, card Target, now time.Time, fallback Fallback) (*models.Post, error) {
	if err := r.Open(ctx, card); err != nil {
		return nil, err
	}

	if err := r.sleep(ctx, r.opts.DetailWait); err != nil {
		return nil, err
	}

	post, err := r.extractCurrent(ctx, now, fallback)

	if retErr := r.ReturnToFeed(ctx); retErr != nil {
		r.log.WithError(retErr).Warn("return to feed not confirmed")
	}

	return post, err
}

func (r *Resolver) extractCurrent(ctx context.Context, now time.Time, fallback Fallback) (*models.Post, error) {
	content, err := r.page.HTML(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeExtraction, err, "read detail markup")
	}
	return r.Extract(content, now, fallback)
}

// Open scrolls the card into view and clicks it, falling back through the
// click chain until one delivery method succeeds.
func (r *Resolver) Open(ctx context.Context, card Target) error {
	if err := r.page.ScrollIntoView(ctx, card); err != nil {
		r.log.WithError(err).Debug("scroll into view failed")
	}

	var failures []error
	for _, mode := range clickChain {
		err := r.page.Click(ctx, card, mode)
		if err == nil {
			if mode != ClickDefault {
				r.log.WithField("mode", mode.String()).Debug("card opened with fallback click")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures = append(failures, fmt.Errorf("%s click: %w", mode, err))
	}

	return errors.Wrap(errors.ErrorTypeNavigation, stderrors.Join(failures...), "open card %d", card.Index)
}

// Extract reads the post date and image URLs from detail markup. The date
// comes from the first source whose text parses; fallback is used when none
// does and its time may be zero.
func (r *Resolver) Extract(content string, now time.Time, fallback Fallback) (*models.Post, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeExtraction, err, "parse detail markup")
	}

	root := r.detailRoot(doc)
	post := &models.Post{}
	post.Date, post.RelativeDate = r.resolveDate(doc, root, now)
	if !post.HasDate() {
		post.Date, post.RelativeDate = fallback.Time, fallback.Relative
	}
	post.ID, post.ImageURLs = scopeToPost(r.collectImages(root))
	return post, nil
}

// detailRoot returns the most recently rendered detail container, or the
// whole document when no container selector matches.
func (r *Resolver) detailRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range r.opts.Selectors.DetailRoots {
		if found := doc.Find(sel); found.Length() > 0 {
			return found.Last()
		}
	}
	return doc.Selection
}

// resolveDate returns the first source date that parses and whether it came
// from a relative label.
func (r *Resolver) resolveDate(doc *goquery.Document, root *goquery.Selection, now time.Time) (time.Time, bool) {
	for _, source := range r.sources {
		label := timeparse.Locate(source.text(doc, root))
		if label == "" {
			continue
		}
		ts, err := timeparse.Parse(label, now)
		if err != nil {
			continue
		}
		r.log.WithFields(map[string]interface{}{"source": source.name, "date": ts}).Debug("post date resolved")
		return ts, timeparse.IsRelative(label)
	}
	return time.Time{}, false
}

// collectImages walks every element under root in document order and
// gathers trusted image URLs from source attributes and link targets.
func (r *Resolver) collectImages(root *goquery.Selection) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(raw string) {
		u, ok := r.filter.Canonical(raw)
		if !ok || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	root.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range imageAttributes {
			if v, ok := s.Attr(attr); ok {
				for _, c := range imageurl.Candidates(attr, v) {
					add(c)
				}
			}
		}
		if goquery.NodeName(s) == "a" {
			if href, ok := s.Attr("href"); ok {
				add(href)
			}
		}
	})
	return urls
}

// scopeToPost drops images that belong to a different post than the first
// identified one. Images without a post id in their path are kept.
func scopeToPost(urls []string) (string, []string) {
	id := ""
	for _, u := range urls {
		if id = imageurl.PostID(u); id != "" {
			break
		}
	}
	if id == "" {
		return "", urls
	}

	kept := urls[:0:0]
	for _, u := range urls {
		if other := imageurl.PostID(u); other != "" && other != id {
			continue
		}
		kept = append(kept, u)
	}
	return id, kept
}

// ReturnToFeed clicks the first visible back affordance, or navigates back
// when there is none, then waits for the feed to be visible again.
func (r *Resolver) ReturnToFeed(ctx context.Context) error {
	if !r.clickBackAffordance(ctx) {
		if err := r.page.Back(ctx); err != nil {
			r.log.WithError(err).Debug("history back failed")
		}
	}

	if r.waitVisible(ctx, r.opts.Selectors.Feed, r.opts.ReturnTimeout) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New(errors.ErrorTypeNavigation, "feed not visible after %s", r.opts.ReturnTimeout)
}

func (r *Resolver) clickBackAffordance(ctx context.Context) bool {
	for _, sel := range r.opts.Selectors.BackButtons {
		n, err := r.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		// stacked pages keep older buttons in the DOM; the newest one is last
		for i := n - 1; i >= 0; i-- {
			t := Target{Selector: sel, Index: i}
			if ok, err := r.page.Interactable(ctx, t); err != nil || !ok {
				continue
			}
			for _, mode := range []ClickMode{ClickDefault, ClickScript} {
				if err := r.page.Click(ctx, t, mode); err == nil {
					return true
				}
			}
		}
	}
	return false
}

// waitVisible polls until the first element matching selector is visible or
// timeout worth of polling has elapsed.
func (r *Resolver) waitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	if selector == "" {
		return false
	}
	for waited := time.Duration(0); ; waited += r.opts.PollInterval {
		if n, err := r.page.Count(ctx, selector); err == nil && n > 0 {
			if ok, err := r.page.Interactable(ctx, Target{Selector: selector}); err == nil && ok {
				return true
			}
		}
		if waited >= timeout {
			return false
		}
		if err := r.sleep(ctx, r.opts.PollInterval); err != nil {
			return false
		}
	}
}

func leadingText(root *goquery.Selection, limit int) string {
	text := strings.Join(strings.Fields(root.Text()), " ")
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
