// Package browser drives a headless Chromium through go-rod. A Browser
// satisfies both scraper.Page and session.FormPage.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/logger"
	"feedarchiver/pkg/scraper"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures Launch
type Options struct {
	Headless     bool
	BinaryPath   string
	UserAgent    string
	Language     string
	WindowWidth  int
	WindowHeight int
	// ActionTimeout bounds a single navigation or click
	ActionTimeout time.Duration
	// IgnoreCertErrors accepts self-signed certificates
	IgnoreCertErrors bool
}

// Browser is one browser process with a single tab
type Browser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
	log      logger.Logger
}

// Launch starts the browser and opens a blank tab
func Launch(ctx context.Context, opts Options, log logger.Logger) (*Browser, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}

	l := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")
	if opts.BinaryPath != "" {
		l = l.Bin(opts.BinaryPath)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", opts.WindowWidth, opts.WindowHeight))
	}
	if opts.Language != "" {
		l = l.Set("lang", opts.Language)
	}
	if opts.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "launch browser")
	}

	b := &Browser{launcher: l, timeout: opts.ActionTimeout, log: log.WithField("component", "browser")}

	b.browser = rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.browser.Connect(); err != nil {
		l.Kill()
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "connect to browser")
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		b.Close()
		return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "open tab")
	}
	b.page = page

	if opts.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: opts.Language,
		})
		if err != nil {
			b.Close()
			return nil, errors.Wrap(errors.ErrorTypeFatalSession, err, "set user agent")
		}
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.WindowWidth,
			Height:            opts.WindowHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			b.log.WithError(err).Debug("viewport not applied")
		}
	}

	b.log.WithFields(map[string]interface{}{
		"headless": opts.Headless,
		"bin":      opts.BinaryPath,
	}).Debug("browser launched")
	return b, nil
}

// Close shuts the browser down and removes its profile directory
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	return err
}

func (b *Browser) withTimeout(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return b.page.Context(ctx), cancel
}

// Navigate loads url and waits for the load event
func (b *Browser) Navigate(ctx context.Context, url string) error {
	page, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// Back performs a history back navigation
func (b *Browser) Back(ctx context.Context) error {
	page, cancel := b.withTimeout(ctx)
	defer cancel()
	return page.NavigateBack()
}

// HTML returns the serialized document
func (b *Browser) HTML(ctx context.Context) (string, error) {
	return b.page.Context(ctx).HTML()
}

// Count returns the number of elements matching selector right now
func (b *Browser) Count(ctx context.Context, selector string) (int, error) {
	els, err := b.page.Context(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (b *Browser) element(ctx context.Context, t scraper.Target) (*rod.Element, error) {
	els, err := b.page.Context(ctx).Elements(t.Selector)
	if err != nil {
		return nil, err
	}
	if t.Index < 0 || t.Index >= len(els) {
		return nil, &ElementNotFoundError{Selector: t.Selector, Index: t.Index}
	}
	return els[t.Index], nil
}

// Text returns the text of the target, or of its first descendant matching
// child when child is set.
func (b *Browser) Text(ctx context.Context, t scraper.Target, child string) (string, error) {
	el, err := b.element(ctx, t)
	if err != nil {
		return "", err
	}
	if child != "" {
		// Elements does not wait, unlike Element
		children, err := el.Elements(child)
		if err != nil {
			return "", err
		}
		if len(children) == 0 {
			return "", &ElementNotFoundError{Selector: t.Selector + " " + child}
		}
		el = children[0]
	}
	return el.Text()
}

const disabledJS = `() => !!this.disabled || this.getAttribute('aria-disabled') === 'true'`

// Interactable reports whether the target is rendered visible and not disabled
func (b *Browser) Interactable(ctx context.Context, t scraper.Target) (bool, error) {
	el, err := b.element(ctx, t)
	if err != nil {
		return false, err
	}
	visible, err := el.Visible()
	if err != nil || !visible {
		return false, err
	}
	res, err := el.Eval(disabledJS)
	if err != nil {
		return false, err
	}
	return !res.Value.Bool(), nil
}

// ScrollIntoView scrolls the target into the viewport
func (b *Browser) ScrollIntoView(ctx context.Context, t scraper.Target) error {
	el, err := b.element(ctx, t)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

// Click delivers a click to the target using mode
func (b *Browser) Click(ctx context.Context, t scraper.Target, mode scraper.ClickMode) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	el, err := b.element(ctx, t)
	if err != nil {
		return err
	}
	return b.click(ctx, el, mode)
}

func (b *Browser) click(ctx context.Context, el *rod.Element, mode scraper.ClickMode) error {
	el = el.Context(ctx)
	switch mode {
	case scraper.ClickDefault:
		return el.Click(proto.InputMouseButtonLeft, 1)
	case scraper.ClickScript:
		_, err := el.Eval(`() => this.click()`)
		return err
	case scraper.ClickPointer:
		shape, err := el.Shape()
		if err != nil {
			return err
		}
		pt := shape.OnePointInside()
		if pt == nil {
			return fmt.Errorf("element has no clickable area")
		}
		// page.Mouse stays bound to the launch context, so events go through
		// a page carrying the action deadline
		page := b.page.Context(ctx)
		for _, ev := range pointerClick(*pt) {
			if err := ev.Call(page); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown click mode %d", mode)
	}
}

// pointerClick is a left button press and release at pt, preceded by a move
func pointerClick(pt proto.Point) []proto.InputDispatchMouseEvent {
	return []proto.InputDispatchMouseEvent{
		{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: pt.X, Y: pt.Y},
		{Type: proto.InputDispatchMouseEventTypeMousePressed, X: pt.X, Y: pt.Y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: pt.X, Y: pt.Y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
	}
}

// ScrollToBottom scrolls the window to the end of the document
func (b *Browser) ScrollToBottom(ctx context.Context) error {
	_, err := b.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

// ScrollHeight returns the document body's scroll height
func (b *Browser) ScrollHeight(ctx context.Context) (int, error) {
	res, err := b.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (b *Browser) first(ctx context.Context, selector string) (*rod.Element, error) {
	return b.element(ctx, scraper.Target{Selector: selector})
}

// SetValue replaces the value of the first element matching selector
func (b *Browser) SetValue(ctx context.Context, selector, value string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	el, err := b.first(ctx, selector)
	if err != nil {
		return err
	}
	el = el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if err := el.Input(value); err != nil {
		return err
	}
	_, err = el.Eval(`() => this.dispatchEvent(new Event('change', { bubbles: true }))`)
	return err
}

// Press clicks the first element matching selector, falling back to a
// scripted click.
func (b *Browser) Press(ctx context.Context, selector string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	el, err := b.first(ctx, selector)
	if err != nil {
		return err
	}
	if err := b.click(ctx, el, scraper.ClickDefault); err == nil {
		return nil
	}
	return b.click(ctx, el, scraper.ClickScript)
}

const submitJS = `() => {
	const form = this.form || this.closest('form');
	if (!form) return false;
	if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
	return true;
}`

// SubmitForm submits the form owning the first element matching selector
func (b *Browser) SubmitForm(ctx context.Context, selector string) error {
	el, err := b.first(ctx, selector)
	if err != nil {
		return err
	}
	res, err := el.Eval(submitJS)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("no form around %s", selector)
	}
	return nil
}

// Cookies returns every cookie of the browser context
func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	cookies, err := b.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	return toHTTPCookies(cookies), nil
}

// UserAgent returns the user agent the page reports
func (b *Browser) UserAgent(ctx context.Context) (string, error) {
	res, err := b.page.Context(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func toHTTPCookies(in []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if hc.Path == "" {
			hc.Path = "/"
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		switch strings.ToLower(string(c.SameSite)) {
		case "strict":
			hc.SameSite = http.SameSiteStrictMode
		case "lax":
			hc.SameSite = http.SameSiteLaxMode
		case "none":
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}

// ElementNotFoundError is returned when a target has no matching element
type ElementNotFoundError struct {
	Selector string
	Index    int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element %q at index %d", e.Selector, e.Index)
}
