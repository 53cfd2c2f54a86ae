// Package browsertest provides a scripted maps results page for exercising
// harvest actors without a real browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rendis/mapharvest/internal/engine/browser"
)

// ErrClosed is returned by every operation on a closed session.
var ErrClosed = errors.New("session closed")

// Listing is one business shown by the surface.
type Listing struct {
	Name       string
	Address    string
	Phone      string
	Website    string
	Rating     string
	Reviews    string
	Hours      string
	Categories []string
	PlaceURL   string
}

// Surface is a results feed shared by every session it creates. Each session
// keeps its own page state and scroll position.
type Surface struct {
	Listings []Listing
	// Initial is the number of listings shown right after a search.
	Initial int
	// PerScroll is the number of listings revealed by each scroll to the bottom.
	PerScroll int
	// FailSubmissions makes the first N search-box lookups fail.
	FailSubmissions int
	// FailClicks makes the first N script clicks on entries fail.
	FailClicks int
	// ExactMiss and ContainsMiss disable the exact and substring XPath matches.
	ExactMiss    bool
	ContainsMiss bool
	// Block, when set, makes Navigate hang until it is closed, ignoring cancellation.
	Block chan struct{}
	// FailLaunches makes the first N launches fail.
	FailLaunches int

	mu          sync.Mutex
	sessions    []*Session
	lookups     int
	clicks      int
	launches    int
	submitted   []string
	scrollCalls int
}

// Launcher returns a browser.Launcher creating sessions on s.
func (s *Surface) Launcher() browser.Launcher {
	return func(ctx context.Context, slot int) (browser.Session, error) {
		s.mu.Lock()
		s.launches++
		fail := s.launches <= s.FailLaunches
		s.mu.Unlock()
		if fail {
			return nil, fmt.Errorf("launch %d refused", slot)
		}
		return s.NewSession(), nil
	}
}

func (s *Surface) NewSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{surface: s, id: len(s.sessions)}
	s.sessions = append(s.sessions, sess)
	return sess
}

// Submitted returns the search texts submitted so far.
func (s *Surface) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

// OpenSessions returns the number of sessions not yet closed.
func (s *Surface) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.closed {
			n++
		}
	}
	return n
}

func (s *Surface) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ScrollCalls returns how many times any feed was scrolled.
func (s *Surface) ScrollCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollCalls
}

type page int

const (
	pageBlank page = iota
	pageMaps
	pageResults
)

// Session is a browser.Session over a Surface.
type Session struct {
	surface  *Surface
	id       int
	page     page
	typed    string
	revealed int
	open     *Listing
	closed   bool
}

type kind int

const (
	kindSearchBox kind = iota
	kindSearchButton
	kindFeed
	kindEntry
	kindName
	kindField
	kindTitle
)

type element struct {
	sess    *Session
	kind    kind
	listing int
	text    string
	attrs   map[string]string
}

var literalRe = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)

func (s *Session) Navigate(ctx context.Context, url string) error {
	if block := s.surface.Block; block != nil {
		<-block
	}
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.open = nil
	switch {
	case strings.Contains(url, "/maps/search/"):
		s.page = pageResults
		s.revealed = min(s.surface.Initial, len(s.surface.Listings))
	case strings.Contains(url, "/maps"):
		s.page = pageMaps
		s.typed = ""
	default:
		s.page = pageBlank
	}
	return nil
}

func (s *Session) Location(ctx context.Context) (string, error) {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.open != nil {
		return s.open.PlaceURL, nil
	}
	return "https://www.google.com/maps", nil
}

func (s *Session) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	els, err := s.FindAll(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return els[0], nil
}

func (s *Session) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.query(loc), nil
}

// query evaluates loc against the page. Callers hold the surface lock.
func (s *Session) query(loc browser.Locator) []browser.Element {
	q := loc.Query
	sf := s.surface

	if loc.By == browser.ByXPath {
		return s.queryXPath(q)
	}

	switch {
	case strings.Contains(q, "searchboxinput"):
		if s.page == pageBlank {
			return nil
		}
		sf.lookups++
		if sf.lookups <= sf.FailSubmissions {
			return nil
		}
		return []browser.Element{&element{sess: s, kind: kindSearchBox}}
	case strings.Contains(q, "searchbox-searchbutton"):
		if s.page == pageBlank {
			return nil
		}
		return []browser.Element{&element{sess: s, kind: kindSearchButton}}
	case strings.Contains(q, `role="feed"`):
		if s.page != pageResults {
			return nil
		}
		return []browser.Element{&element{sess: s, kind: kindFeed}}
	case strings.Contains(q, `role="article"`):
		if s.page != pageResults {
			return nil
		}
		out := make([]browser.Element, 0, s.revealed)
		for i := range s.revealed {
			out = append(out, s.entry(i))
		}
		return out
	}

	if s.open == nil {
		return nil
	}
	l := s.open
	field := func(text string, attrs map[string]string) []browser.Element {
		if text == "" && len(attrs) == 0 {
			return nil
		}
		return []browser.Element{&element{sess: s, kind: kindField, text: text, attrs: attrs}}
	}
	switch {
	case strings.Contains(q, "DUwDvf"):
		return []browser.Element{&element{sess: s, kind: kindTitle, text: l.Name}}
	case strings.Contains(q, "address"):
		return field(l.Address, nil)
	case strings.Contains(q, "phone"):
		return field(l.Phone, nil)
	case strings.Contains(q, "authority"):
		if l.Website == "" {
			return nil
		}
		return field("", map[string]string{"href": l.Website})
	case strings.Contains(q, "fontDisplayLarge"), strings.Contains(q, "aria-hidden"):
		return field(l.Rating, nil)
	case strings.Contains(q, "review"):
		return field(l.Reviews, nil)
	case strings.Contains(q, "Hours"):
		return field(l.Hours, nil)
	case strings.Contains(q, "category"):
		var out []browser.Element
		for _, c := range l.Categories {
			out = append(out, &element{sess: s, kind: kindField, text: c})
		}
		return out
	}
	return nil
}

func (s *Session) queryXPath(q string) []browser.Element {
	if s.page != pageResults {
		return nil
	}
	m := literalRe.FindStringSubmatch(q)
	if m == nil {
		return nil
	}
	lit := m[1] + m[2]
	exact := strings.Contains(q, "normalize-space")
	if (exact && s.surface.ExactMiss) || (!exact && s.surface.ContainsMiss) {
		return nil
	}
	for i := range s.revealed {
		name := s.surface.Listings[i].Name
		if (exact && name == lit) || (!exact && strings.Contains(name, lit)) {
			return []browser.Element{s.entry(i)}
		}
	}
	return nil
}

func (s *Session) entry(i int) *element {
	l := s.surface.Listings[i]
	return &element{
		sess:    s,
		kind:    kindEntry,
		listing: i,
		text:    l.Name + "\n" + l.Address,
		attrs:   map[string]string{"aria-label": l.Name},
	}
}

func (s *Session) own(el browser.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e.sess != s {
		return nil, errors.New("foreign element")
	}
	if s.closed {
		return nil, ErrClosed
	}
	return e, nil
}

func (s *Session) Click(ctx context.Context, el browser.Element) error {
	return s.click(ctx, el, true)
}

func (s *Session) PointerClick(ctx context.Context, el browser.Element) error {
	return s.click(ctx, el, false)
}

func (s *Session) click(ctx context.Context, el browser.Element, script bool) error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	e, err := s.own(el)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch e.kind {
	case kindSearchButton:
		if s.typed == "" {
			return errors.New("empty search")
		}
		s.surface.submitted = append(s.surface.submitted, s.typed)
		s.page = pageResults
		s.revealed = min(s.surface.Initial, len(s.surface.Listings))
	case kindEntry:
		if script {
			s.surface.clicks++
			if s.surface.clicks <= s.surface.FailClicks {
				return errors.New("element click intercepted")
			}
		}
		l := s.surface.Listings[e.listing]
		s.open = &l
	}
	return nil
}

func (s *Session) ScrollIntoView(ctx context.Context, el browser.Element) error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	_, err := s.own(el)
	return err
}

func (s *Session) ScrollHeight(ctx context.Context, el browser.Element) (int, error) {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if _, err := s.own(el); err != nil {
		return 0, err
	}
	return 1000 * (s.revealed + 1), nil
}

func (s *Session) SetScrollTop(ctx context.Context, el browser.Element, value int) error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	e, err := s.own(el)
	if err != nil {
		return err
	}
	if e.kind != kindFeed {
		return nil
	}
	s.surface.scrollCalls++
	if value >= 1000*(s.revealed+1) {
		s.revealed = min(s.revealed+s.surface.PerScroll, len(s.surface.Listings))
	}
	return nil
}

func (s *Session) SendKeys(ctx context.Context, el browser.Element, keys string) error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if el == nil {
		if keys == browser.KeyEscape {
			s.open = nil
		}
		return nil
	}
	e, err := s.own(el)
	if err != nil {
		return err
	}
	if e.kind == kindSearchBox {
		s.typed += keys
	}
	return nil
}

func (s *Session) ClearCookies(ctx context.Context) error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) Close() error {
	s.surface.mu.Lock()
	defer s.surface.mu.Unlock()
	s.closed = true
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.text, nil
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	return true, nil
}

func (e *element) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	els, err := e.FindAll(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return els[0], nil
}

func (e *element) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	if e.kind != kindEntry {
		return nil, nil
	}
	if strings.Contains(loc.Query, "fontHeadlineSmall") {
		e.sess.surface.mu.Lock()
		name := e.sess.surface.Listings[e.listing].Name
		e.sess.surface.mu.Unlock()
		return []browser.Element{&element{sess: e.sess, kind: kindName, text: name}}, nil
	}
	return nil, nil
}
