// Package browser defines the page-automation capability the harvest actors drive,
// and a chromedp-backed implementation of it.
package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/chromedp/chromedp/kb"
)

// ErrNotFound is returned when no element matches a locator.
var ErrNotFound = errors.New("element not found")

// Keys understood by SendKeys.
var (
	KeyEscape = kb.Escape
	KeyEnter  = kb.Enter
)

// Strategy selects how a Locator query is evaluated.
type Strategy int

const (
	ByCSS Strategy = iota
	ByXPath
)

// Locator is a declarative element query.
type Locator struct {
	Query string
	By    Strategy
}

func CSS(q string) Locator   { return Locator{Query: q, By: ByCSS} }
func XPath(q string) Locator { return Locator{Query: q, By: ByXPath} }

func (l Locator) String() string {
	if l.By == ByXPath {
		return "xpath:" + l.Query
	}
	return "css:" + l.Query
}

// Element is a handle to a node in a live page. Handles are only meaningful to
// the Session that produced them.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attr returns the attribute or DOM property value; ok is false when absent.
	Attr(ctx context.Context, name string) (value string, ok bool, err error)
	Visible(ctx context.Context) (bool, error)
	Find(ctx context.Context, loc Locator) (Element, error)
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
}

// Session is one browser page owned by exactly one actor.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Location returns the URL currently displayed.
	Location(ctx context.Context) (string, error)
	// Find waits for the first element matching loc, bounded by ctx.
	Find(ctx context.Context, loc Locator) (Element, error)
	// FindAll returns the elements currently matching loc without waiting.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// Click dispatches a script click on el.
	Click(ctx context.Context, el Element) error
	// PointerClick simulates a mouse click at el's position.
	PointerClick(ctx context.Context, el Element) error
	ScrollIntoView(ctx context.Context, el Element) error
	// ScrollHeight returns the scrollable height of a container.
	ScrollHeight(ctx context.Context, el Element) (int, error)
	SetScrollTop(ctx context.Context, el Element, value int) error
	// SendKeys types keys into el, or into the focused page when el is nil.
	SendKeys(ctx context.Context, el Element, keys string) error
	ClearCookies(ctx context.Context) error
	Close() error
}

// Launcher creates the browser session for a pipeline slot.
type Launcher func(ctx context.Context, slot int) (Session, error)

// FirstVisible evaluates locators in order and returns the first visible match.
func FirstVisible(ctx context.Context, s Session, locs []Locator) (Element, Locator, error) {
	for _, loc := range locs {
		els, err := s.FindAll(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Locator{}, ctx.Err()
			}
			continue
		}
		for _, el := range els {
			if ok, err := el.Visible(ctx); err == nil && ok {
				return el, loc, nil
			}
		}
	}
	return nil, Locator{}, ErrNotFound
}

// FirstText evaluates locators in order, scoped to el, and returns the first
// non-empty text.
func FirstText(ctx context.Context, el Element, locs []Locator) (string, bool) {
	for _, loc := range locs {
		child, err := el.Find(ctx, loc)
		if err != nil {
			continue
		}
		text, err := child.Text(ctx)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, true
		}
	}
	return "", false
}
