// Package archiver wires the browser session, the feed traversal and the
// download batch into a single run.
package archiver

import (
	"context"
	"net/http"
	"time"

	"feedarchiver/internal/browser"
	"feedarchiver/internal/downloader"
	"feedarchiver/internal/session"
	"feedarchiver/pkg/auth"
	"feedarchiver/pkg/config"
	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/ledger"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/ratelimit"
	"feedarchiver/pkg/retry"
	"feedarchiver/pkg/scraper"
	"feedarchiver/pkg/storage"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Page is everything a run needs from the browser
type Page interface {
	scraper.Page
	session.FormPage
	Close() error
}

// LaunchFunc starts a browser
type LaunchFunc func(ctx context.Context, opts browser.Options, log logger.Logger) (Page, error)

func launchRod(ctx context.Context, opts browser.Options, log logger.Logger) (Page, error) {
	return browser.Launch(ctx, opts, log)
}

// Archiver runs one archival pass per Run call
type Archiver struct {
	cfg       *config.Config
	log       logger.Logger
	launch    LaunchFunc
	now       func() time.Time
	transport http.RoundTripper
	sleep     scraper.SleepFunc
}

// Option customizes an Archiver
type Option func(*Archiver)

// WithLauncher replaces the go-rod launcher
func WithLauncher(fn LaunchFunc) Option {
	return func(a *Archiver) { a.launch = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// WithTransport sets the round tripper of the image client
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Archiver) { a.transport = rt }
}

// WithSleep replaces the blocking waits of login and traversal
func WithSleep(fn scraper.SleepFunc) Option {
	return func(a *Archiver) { a.sleep = fn }
}

// New creates an Archiver
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}
	a := &Archiver{
		cfg:    cfg,
		log:    log,
		launch: launchRod,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run archives with the default options
func Run(ctx context.Context, cfg *config.Config, account *auth.Account, log logger.Logger) (*models.Summary, error) {
	return New(cfg, log).Run(ctx, account)
}

// Run logs in, collects the fresh posts and downloads their images into
// today's directory. Per-card and per-image failures only show up in the
// summary; a returned error means the run was aborted.
func (a *Archiver) Run(ctx context.Context, account *auth.Account) (*models.Summary, error) {
	started := a.now()
	runID := uuid.NewString()
	log := a.log.WithField("run", runID)

	dir := storage.DayDirectory(a.cfg.Download.BaseDirectory, started)
	store, err := storage.NewManager(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "prepare output directory")
	}

	history := a.openLedger(log)
	defer history.Close()

	log.WithFields(map[string]interface{}{
		"directory": dir,
		"existing":  store.Count(),
		"lookback":  a.cfg.Feed.LookbackWindow().String(),
	}).Info("run started")

	page, err := a.launch(ctx, a.browserOptions(), log)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "start browser")
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.WithError(err).Debug("browser close failed")
		}
	}()

	if err := session.Login(ctx, page, account, a.loginOptions(), log); err != nil {
		return nil, err
	}

	client, err := a.httpClient(ctx, page)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "carry session to http client")
	}

	refs, err := a.traverser(page, log).Collect(ctx, started)
	if err != nil {
		log.WithError(err).WithField("collected", len(refs)).Error("feed traversal aborted")
		return nil, err
	}

	acquirer := downloader.NewAcquirer(client, downloader.AcquirerOptions{
		MaxOriginalBytes: a.cfg.Download.MaxOriginalBytes,
		Retry: &retry.Config{
			MaxAttempts: a.cfg.Download.RetryAttempts,
			Backoff:     retry.DefaultBackoff(),
			RetryIf:     retry.DefaultRetryIf,
			Logger:      log,
		},
		Limiter: ratelimit.PerMinute(a.cfg.Download.RequestsPerMinute),
	}, log)

	summary := downloader.NewBatch(acquirer, store, history, runID, log).Run(ctx, refs)
	summary.StartedAt = started
	summary.FinishedAt = a.now()

	if err := history.SaveRun(summary); err != nil {
		log.WithError(err).Warn("run not recorded in ledger")
	}

	log.WithFields(map[string]interface{}{
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
	}).Info("run finished")

	return &summary, ctx.Err()
}

// openLedger opens the history database. The ledger only records, so a
// failure to open it degrades to no history.
func (a *Archiver) openLedger(log logger.Logger) ledger.Store {
	if !a.cfg.Ledger.Enabled {
		return ledger.Nop()
	}
	l, err := ledger.Open(a.cfg.LedgerPath())
	if err != nil {
		log.WithError(err).WithField("path", a.cfg.LedgerPath()).Warn("ledger unavailable, history disabled for this run")
		return ledger.Nop()
	}
	return l
}

func (a *Archiver) browserOptions() browser.Options {
	b := a.cfg.Browser
	return browser.Options{
		Headless:      b.Headless,
		BinaryPath:    b.BinaryPath,
		UserAgent:     b.UserAgent,
		Language:      b.Language,
		WindowWidth:   b.WindowWidth,
		WindowHeight:  b.WindowHeight,
		ActionTimeout: b.PageTimeout,
	}
}

func (a *Archiver) loginOptions() session.LoginOptions {
	opts := session.LoginOptions{
		LoginURL:     a.cfg.Site.LoginURL,
		HomeURL:      a.cfg.Site.HomeURL,
		FeedSelector: a.cfg.Site.Selectors.Feed,
		FormTimeout:  a.cfg.Browser.PageTimeout,
		SettleWait:   a.cfg.Feed.DetailWait,
	}
	if a.sleep != nil {
		opts.Sleep = a.sleep
	}
	return opts
}

func (a *Archiver) httpClient(ctx context.Context, page Page) (*resty.Client, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	ua, err := page.UserAgent(ctx)
	if err != nil {
		a.log.WithError(err).Debug("user agent unavailable, using configured one")
		ua = a.cfg.Browser.UserAgent
	}

	client, err := session.NewHTTPClient(cookies, ua, session.ClientOptions{
		CookieDomain: a.cfg.Site.CookieDomain,
		Timeout:      a.cfg.Download.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if a.transport != nil {
		client.SetTransport(a.transport)
	}
	return client, nil
}

func (a *Archiver) traverser(page Page, log logger.Logger) *scraper.Traverser {
	sel := a.cfg.Site.Selectors
	selectors := scraper.Selectors{
		Card:        sel.Card,
		CardDate:    sel.CardDate,
		CardTitle:   sel.CardTitle,
		Feed:        sel.Feed,
		DetailRoots: sel.DetailRoots,
		DetailDates: sel.DetailDates,
		BackButtons: sel.BackButtons,
	}

	resolver := scraper.NewResolver(page, scraper.ResolverOptions{
		Selectors:     selectors,
		ImagePrefix:   a.cfg.Site.ImageHostPrefix,
		DetailWait:    a.cfg.Feed.DetailWait,
		ReturnTimeout: a.cfg.Feed.ReturnTimeout,
	}, log)

	t := scraper.NewTraverser(page, resolver, scraper.TraverserOptions{
		Lookback:      a.cfg.Feed.LookbackWindow(),
		MaxIterations: a.cfg.Feed.ScrollSteps,
		ScrollWait:    a.cfg.Feed.ScrollWait,
		Selectors:     selectors,
	}, log)

	if a.sleep != nil {
		resolver.SetSleep(a.sleep)
		t.SetSleep(a.sleep)
	}
	return t
}
