// Package listing knows how Google Maps lays out a results feed and a place
// detail panel. Every target is an ordered list of locators evaluated with
// first-match-wins semantics so markup drift degrades one strategy at a time.
package listing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rendis/mapharvest/internal/engine/browser"
)

const mapsBaseURL = "https://www.google.com/maps"

var (
	ContainerLocators = []browser.Locator{
		browser.CSS(`div[role="feed"]`),
		browser.CSS(`div.m6QErb.DxyBCb.kA9KIf.dS8AEf`),
		browser.CSS(`div[aria-label*="Results"]`),
	}

	EntryLocators = []browser.Locator{
		browser.CSS(`div[role="article"]`),
		browser.CSS(`div.Nv2PK`),
		browser.CSS(`a[href^="/maps/place"]`),
	}

	NameLocators = []browser.Locator{
		browser.CSS(`span.fontHeadlineSmall`),
		browser.CSS(`div.qBF1Pd`),
		browser.CSS(`div[role="heading"]`),
		browser.CSS(`div.fontHeadlineSmall`),
	}

	SearchBoxLocator    = browser.CSS(`input#searchboxinput`)
	SearchButtonLocator = browser.CSS(`button#searchbox-searchbutton`)

	ConsentLocators = []browser.Locator{
		browser.CSS(`button[aria-label*="Accept all"]`),
		browser.CSS(`form[action*="consent"] button`),
		browser.CSS(`button#L2AGLb`),
	}

	entryLinkLocator = browser.CSS(`a.hfpxzc`)
)

// Entry is a listing visible in a results feed.
type Entry struct {
	Name    string
	Element browser.Element
}

// HomeURL is the maps landing page where a search is typed.
func HomeURL(lang string) string {
	if lang == "" {
		return mapsBaseURL
	}
	return mapsBaseURL + "?hl=" + url.QueryEscape(lang)
}

// ViewportURL is the maps landing page centered on lat/lng.
func ViewportURL(lang string, lat, lng float64) string {
	u := fmt.Sprintf("%s/@%.6f,%.6f,13z", mapsBaseURL, lat, lng)
	if lang != "" {
		u += "?hl=" + url.QueryEscape(lang)
	}
	return u
}

// SearchURL opens a results feed for text directly, optionally centered on lat/lng.
func SearchURL(text, lang string, lat, lng float64, hasCenter bool) string {
	u := mapsBaseURL + "/search/" + url.PathEscape(strings.TrimSpace(text))
	if hasCenter {
		u += fmt.Sprintf("/@%.6f,%.6f,13z", lat, lng)
	}
	if lang != "" {
		u += "?hl=" + url.QueryEscape(lang)
	}
	return u
}

// LocateResultsContainer returns the scrollable results feed.
func LocateResultsContainer(ctx context.Context, s browser.Session) (browser.Element, error) {
	el, _, err := browser.FirstVisible(ctx, s, ContainerLocators)
	if err != nil {
		return nil, fmt.Errorf("results container: %w", err)
	}
	return el, nil
}

// ListNewEntries enumerates feed entries whose name is not in seen, in page order.
// Entries without a resolvable name are skipped. seen is not modified.
func ListNewEntries(ctx context.Context, s browser.Session, seen map[string]struct{}) ([]Entry, error) {
	var els []browser.Element
	for _, loc := range EntryLocators {
		found, err := s.FindAll(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(found) > 0 {
			els = found
			break
		}
	}

	batch := make(map[string]struct{}, len(els))
	var out []Entry
	for _, el := range els {
		name := entryName(ctx, el)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		if _, ok := batch[name]; ok {
			continue
		}
		batch[name] = struct{}{}
		out = append(out, Entry{Name: name, Element: el})
	}
	return out, nil
}

func entryName(ctx context.Context, el browser.Element) string {
	if name, ok := browser.FirstText(ctx, el, NameLocators); ok {
		return name
	}
	if label, ok, err := el.Attr(ctx, "aria-label"); err == nil && ok {
		return strings.TrimSpace(label)
	}
	return ""
}

// ResolveEntry finds a clickable element for name in the session's own page:
// exact text, then substring text, then a scan of every entry.
func ResolveEntry(ctx context.Context, s browser.Session, name string) (browser.Element, error) {
	lit := xpathLiteral(name)
	cascade := []browser.Locator{
		browser.XPath(fmt.Sprintf(`//div[normalize-space(text())=%s]`, lit)),
		browser.XPath(fmt.Sprintf(`//div[contains(text(), %s)]`, lit)),
	}
	for _, loc := range cascade {
		els, err := s.FindAll(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}

	articles, err := s.FindAll(ctx, EntryLocators[0])
	if err != nil {
		return nil, fmt.Errorf("scanning entries for %q: %w", name, err)
	}
	for _, a := range articles {
		text, err := a.Text(ctx)
		if err != nil || !strings.Contains(text, name) {
			continue
		}
		if link, err := a.Find(ctx, entryLinkLocator); err == nil {
			return link, nil
		}
		return a, nil
	}
	return nil, fmt.Errorf("entry %q: %w", name, browser.ErrNotFound)
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// DismissConsent clicks through a cookie consent dialog when one is shown.
func DismissConsent(ctx context.Context, s browser.Session) bool {
	el, _, err := browser.FirstVisible(ctx, s, ConsentLocators)
	if err != nil {
		return false
	}
	return s.Click(ctx, el) == nil
}
