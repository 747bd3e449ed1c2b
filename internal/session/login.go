// Package session establishes an authenticated feed session in the browser
// and hands its cookies to an HTTP client.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"feedarchiver/pkg/auth"
	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/retry"
)

// FormPage is what the login flow needs from a page. Selector arguments
// address the first matching element.
type FormPage interface {
	Navigate(ctx context.Context, url string) error
	Count(ctx context.Context, selector string) (int, error)
	// SetValue assigns the value and dispatches input and change events
	SetValue(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector string) error
	// SubmitForm submits the form that contains the element
	SubmitForm(ctx context.Context, selector string) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	UserAgent(ctx context.Context) (string, error)
}

// FormStrategy maps the email, password and submit roles to selectors.
// Reveal, when set, is clicked first to bring the form on screen.
type FormStrategy struct {
	Name     string
	Reveal   string
	Email    string
	Password string
	Submit   string
}

// DefaultStrategies are tried in order until one finds both fields
var DefaultStrategies = []FormStrategy{
	{
		Name:     "name attributes",
		Email:    `input[name="email"]`,
		Password: `input[name="password"]`,
		Submit:   `button[type="submit"]`,
	},
	{
		Name:     "type attributes",
		Email:    `input[type="email"]`,
		Password: `input[type="password"]`,
		Submit:   `button, input[type="submit"]`,
	},
	{
		Name:     "id attributes",
		Email:    `#email`,
		Password: `#password`,
		Submit:   `button[type="submit"], input[type="submit"]`,
	},
	{
		Name:     "login menu",
		Reveal:   `.menu__loginLink`,
		Email:    `.loginMain input[type="text"][autocomplete="email"]`,
		Password: `.loginMain input[type="password"][autocomplete="current-password"]`,
		Submit:   `.loginMain__submit`,
	},
}

// LoginOptions configures Login
type LoginOptions struct {
	LoginURL string
	HomeURL  string
	// FeedSelector must match on the home page for the login to count
	FeedSelector string
	Strategies   []FormStrategy
	// FormTimeout bounds the wait for a revealed form and for the feed
	FormTimeout  time.Duration
	SettleWait   time.Duration
	PollInterval time.Duration
	Retry        *retry.Config
	Sleep        func(ctx context.Context, d time.Duration) error
}

func (o *LoginOptions) defaults() {
	if len(o.Strategies) == 0 {
		o.Strategies = DefaultStrategies
	}
	if o.FormTimeout <= 0 {
		o.FormTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.Retry == nil {
		o.Retry = retry.DefaultConfig()
	}
	if o.Sleep == nil {
		o.Sleep = retry.Wait
	}
}

// Login signs in through the first strategy whose form is present, then
// loads the home page. Any failure is a FatalSession error.
func Login(ctx context.Context, page FormPage, account *auth.Account, opts LoginOptions, log logger.Logger) error {
	opts.defaults()
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithField("component", "session")

	if !account.SignsInTo(opts.LoginURL) {
		return errors.New(errors.ErrorTypeFatalSession, "account %s is saved for %s, not %s",
			account.Email, account.Site, auth.SiteOf(opts.LoginURL))
	}

	if err := navigate(ctx, page, opts.LoginURL, opts); err != nil {
		return errors.Wrap(errors.ErrorTypeFatalSession, err, "load login page")
	}
	if err := opts.Sleep(ctx, opts.SettleWait); err != nil {
		return err
	}

	strategy, err := submitCredentials(ctx, page, account, opts, log)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeFatalSession, err, "submit login form")
	}
	log.WithField("strategy", strategy).Info("login form submitted")

	if err := opts.Sleep(ctx, opts.SettleWait); err != nil {
		return err
	}
	if err := navigate(ctx, page, opts.HomeURL, opts); err != nil {
		return errors.Wrap(errors.ErrorTypeFatalSession, err, "load home page")
	}
	if opts.FeedSelector != "" && !waitFor(ctx, page, opts.FeedSelector, opts) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New(errors.ErrorTypeFatalSession, "feed not visible after login")
	}

	log.Info("session established")
	return nil
}

func navigate(ctx context.Context, page FormPage, url string, opts LoginOptions) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		if err := page.Navigate(ctx, url); err != nil {
			return errors.Wrap(errors.ErrorTypeNetwork, err, "navigate to %s", url)
		}
		return nil
	}, opts.Retry)
}

func submitCredentials(ctx context.Context, page FormPage, account *auth.Account, opts LoginOptions, log logger.Logger) (string, error) {
	for _, s := range opts.Strategies {
		if s.Reveal != "" {
			if !present(ctx, page, s.Reveal) {
				continue
			}
			if err := page.Press(ctx, s.Reveal); err != nil {
				log.WithError(err).WithField("strategy", s.Name).Debug("reveal failed")
				continue
			}
			if !waitFor(ctx, page, s.Email, opts) {
				log.WithField("strategy", s.Name).Debug("revealed form did not appear")
				continue
			}
		}

		if !present(ctx, page, s.Email) || !present(ctx, page, s.Password) {
			continue
		}

		if err := page.SetValue(ctx, s.Email, account.Email); err != nil {
			return s.Name, fmt.Errorf("fill email: %w", err)
		}
		if err := page.SetValue(ctx, s.Password, account.Password); err != nil {
			return s.Name, fmt.Errorf("fill password: %w", err)
		}

		if present(ctx, page, s.Submit) {
			if err := page.Press(ctx, s.Submit); err == nil {
				return s.Name, nil
			}
		}
		if err := page.SubmitForm(ctx, s.Password); err != nil {
			return s.Name, fmt.Errorf("submit form: %w", err)
		}
		return s.Name, nil
	}
	return "", fmt.Errorf("no login form found (%d strategies tried)", len(opts.Strategies))
}

func present(ctx context.Context, page FormPage, selector string) bool {
	n, err := page.Count(ctx, selector)
	return err == nil && n > 0
}

func waitFor(ctx context.Context, page FormPage, selector string, opts LoginOptions) bool {
	for waited := time.Duration(0); ; waited += opts.PollInterval {
		if present(ctx, page, selector) {
			return true
		}
		if waited >= opts.FormTimeout {
			return false
		}
		if err := opts.Sleep(ctx, opts.PollInterval); err != nil {
			return false
		}
	}
}
