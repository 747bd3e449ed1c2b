package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedarchiver/pkg/logger"
)

const (
	cardSel  = "div.homeCard"
	dateSel  = "div.homeCard_date span"
	titleSel = "div.homeCard__title"
	backSel  = "ons-back-button"
	imgHost  = "https://image.codmon.com/"
)

var errNotFound = errors.New("element not found")

type fakeCard struct {
	label string
	// labelAfterOpen replaces label once the card has been opened
	labelAfterOpen string
	title          string
	detail         string
	clickErr       map[ClickMode]error
}

type fakePage struct {
	cards   []fakeCard
	visible int
	step    int

	open   int
	opened map[int]bool

	clicks    []string
	opens     map[int]int
	scrolls   int
	backCalls int

	noBackButton bool
	feedHidden   bool
	heightErr    error
	heightCalls  int
}

func newFakePage(visible, step int, cards ...fakeCard) *fakePage {
	if visible > len(cards) {
		visible = len(cards)
	}
	return &fakePage{
		cards:   cards,
		visible: visible,
		step:    step,
		open:    -1,
		opened:  make(map[int]bool),
		opens:   make(map[int]int),
	}
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	if p.open >= 0 {
		return p.cards[p.open].detail, nil
	}
	return "<html><body><div class=\"home\"></div></body></html>", nil
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	switch selector {
	case cardSel:
		return p.visible, nil
	case backSel:
		if p.open >= 0 && !p.noBackButton {
			return 1, nil
		}
	}
	return 0, nil
}

func (p *fakePage) Text(ctx context.Context, t Target, child string) (string, error) {
	if t.Selector != cardSel || t.Index >= p.visible {
		return "", errNotFound
	}
	c := p.cards[t.Index]
	var text string
	switch child {
	case dateSel:
		text = c.label
		if p.opened[t.Index] && c.labelAfterOpen != "" {
			text = c.labelAfterOpen
		}
	case titleSel:
		text = c.title
	}
	if text == "" {
		return "", errNotFound
	}
	return text, nil
}

func (p *fakePage) Interactable(ctx context.Context, t Target) (bool, error) {
	switch t.Selector {
	case backSel:
		return p.open >= 0, nil
	case cardSel:
		return p.open < 0 && !p.feedHidden && p.visible > 0, nil
	}
	return false, nil
}

func (p *fakePage) ScrollIntoView(ctx context.Context, t Target) error {
	return nil
}

func (p *fakePage) Click(ctx context.Context, t Target, mode ClickMode) error {
	switch t.Selector {
	case cardSel:
		p.clicks = append(p.clicks, fmt.Sprintf("%d:%s", t.Index, mode))
		if p.open >= 0 {
			return errors.New("element click intercepted")
		}
		if err := p.cards[t.Index].clickErr[mode]; err != nil {
			return err
		}
		p.open = t.Index
		p.opened[t.Index] = true
		p.opens[t.Index]++
		return nil
	case backSel:
		p.open = -1
		return nil
	}
	return errNotFound
}

func (p *fakePage) Back(ctx context.Context) error {
	p.backCalls++
	p.open = -1
	return nil
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	p.scrolls++
	p.visible += p.step
	if p.visible > len(p.cards) {
		p.visible = len(p.cards)
	}
	return nil
}

func (p *fakePage) ScrollHeight(ctx context.Context) (int, error) {
	p.heightCalls++
	if p.heightErr != nil {
		return 0, p.heightErr
	}
	return p.visible * 100, nil
}

func testSelectors() Selectors {
	return Selectors{
		Card:        cardSel,
		CardDate:    dateSel,
		CardTitle:   titleSel,
		Feed:        cardSel,
		DetailRoots: []string{"ons-page.diaryDetail"},
		DetailDates: []string{"div.diaryDetailTitle"},
		BackButtons: []string{"ons-toolbar-button.close", backSel},
	}
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestResolver(page Page, log logger.Logger) *Resolver {
	r := NewResolver(page, ResolverOptions{
		Selectors:     testSelectors(),
		ImagePrefix:   imgHost,
		DetailWait:    time.Second,
		ReturnTimeout: time.Second,
		PollInterval:  250 * time.Millisecond,
	}, log)
	r.sleep = noSleep
	return r
}

func newTestTraverser(page Page, maxIterations int, log logger.Logger) *Traverser {
	t := NewTraverser(page, newTestResolver(page, log), TraverserOptions{
		Lookback:      72 * time.Hour,
		MaxIterations: maxIterations,
		ScrollWait:    time.Second,
		Selectors:     testSelectors(),
	}, log)
	t.sleep = noSleep
	return t
}

// detailHTML renders a post detail page with a date label and carousel images
func detailHTML(date string, urls ...string) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>連絡帳</title></head><body>`)
	b.WriteString(`<ons-page class="home"><div class="homeCard"><img src="` + imgHost + `diaries/999/feed.jpg"></div></ons-page>`)
	b.WriteString(`<ons-page class="diaryDetail"><ons-toolbar><ons-back-button>戻る</ons-back-button></ons-toolbar>`)
	if date != "" {
		b.WriteString(`<div class="diaryDetailTitle">` + date + `</div>`)
	}
	b.WriteString(`<ons-carousel>`)
	for _, u := range urls {
		b.WriteString(`<ons-carousel-item><img src="` + u + `"></ons-carousel-item>`)
	}
	b.WriteString(`</ons-carousel></ons-page></body></html>`)
	return b.String()
}

func img(path string) string {
	return imgHost + path
}
