package scraper

import (
	"context"
	"time"

	"feedarchiver/pkg/retry"
)

// Target addresses an element by selector and position. Elements are always
// looked up again from a Target right before use; handles are never kept
// across navigations.
type Target struct {
	Selector string
	Index    int
}

// ClickMode selects how a click is delivered
type ClickMode int

const (
	// ClickDefault is the automation layer's regular element click
	ClickDefault ClickMode = iota
	// ClickScript calls the element's click() from inside the page
	ClickScript
	// ClickPointer moves the mouse to the element's box and presses there
	ClickPointer
)

func (m ClickMode) String() string {
	switch m {
	case ClickDefault:
		return "default"
	case ClickScript:
		return "script"
	case ClickPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// Page is the page interaction capability the traversal runs against
type Page interface {
	// HTML returns the serialized markup of the current document
	HTML(ctx context.Context) (string, error)
	// Count returns how many elements currently match selector
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the text of the first element matching child inside the
	// target, or of the target itself when child is empty
	Text(ctx context.Context, t Target, child string) (string, error)
	// Interactable reports whether the target is visible and enabled
	Interactable(ctx context.Context, t Target) (bool, error)
	ScrollIntoView(ctx context.Context, t Target) error
	Click(ctx context.Context, t Target, mode ClickMode) error
	// Back performs a generic history back navigation
	Back(ctx context.Context) error
	ScrollToBottom(ctx context.Context) error
	ScrollHeight(ctx context.Context) (int, error)
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

var defaultSleep SleepFunc = retry.Wait
