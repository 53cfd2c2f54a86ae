package listing

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/rendis/mapharvest/internal/engine/browser"
)

var (
	DetailReadyLocator = browser.CSS(`h1.DUwDvf`)

	AddressLocators = []browser.Locator{
		browser.CSS(`button[data-item-id="address"]`),
		browser.CSS(`button[data-item-id*="address"]`),
		browser.CSS(`div[aria-label^="Address"]`),
	}
	PhoneLocators = []browser.Locator{
		browser.CSS(`button[data-item-id^="phone:tel:"]`),
		browser.CSS(`button[data-item-id*="phone"]`),
	}
	WebsiteLocators = []browser.Locator{
		browser.CSS(`a[data-item-id="authority"]`),
		browser.CSS(`a[data-item-id*="authority"]`),
	}
	RatingLocators = []browser.Locator{
		browser.CSS(`div.F7nice span[aria-hidden="true"]`),
		browser.CSS(`span.fontDisplayLarge`),
	}
	ReviewsLocators = []browser.Locator{
		browser.CSS(`div.F7nice span[aria-label*="review"]`),
		browser.CSS(`button[jsaction*="reviewChart"] span[aria-label*="review"]`),
	}
	HoursLocators = []browser.Locator{
		browser.CSS(`div[aria-label*="Hours"]`),
		browser.CSS(`div.t39EBf`),
	}
	CategoryLocator = browser.CSS(`button[jsaction*="category"]`)
)

var (
	placeCoordsRe = regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`)
	viewCoordsRe  = regexp.MustCompile(`@(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)`)
	ratingRe      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// Details holds what the detail panel of an open listing shows. Every field is
// best-effort; a missing one stays at its zero value.
type Details struct {
	Address    string
	Phone      string
	Website    string
	Rating     float64
	Reviews    int
	Hours      string
	Categories []string
	PlaceURL   string
	Point      orb.Point
	HasPoint   bool
}

// ExtractDetails reads every field of the open detail panel independently.
func ExtractDetails(ctx context.Context, s browser.Session) Details {
	var d Details
	d.Address, _ = firstFieldText(ctx, s, AddressLocators)
	d.Phone, _ = firstFieldText(ctx, s, PhoneLocators)
	d.Website = UnwrapRedirect(firstFieldAttr(ctx, s, WebsiteLocators, "href"))
	if text, ok := firstFieldText(ctx, s, RatingLocators); ok {
		d.Rating = ParseRating(text)
	}
	if text, ok := firstFieldText(ctx, s, ReviewsLocators); ok {
		d.Reviews = ParseReviews(text)
	}
	if text, ok := firstFieldText(ctx, s, HoursLocators); ok {
		d.Hours = text
	} else {
		d.Hours = firstFieldAttr(ctx, s, HoursLocators, "aria-label")
	}
	d.Categories = categories(ctx, s)

	if loc, err := s.Location(ctx); err == nil {
		d.PlaceURL = loc
		d.Point, d.HasPoint = ParseCoordinates(loc)
	}
	return d
}

func firstFieldText(ctx context.Context, s browser.Session, locs []browser.Locator) (string, bool) {
	for _, loc := range locs {
		els, err := s.FindAll(ctx, loc)
		if err != nil {
			continue
		}
		for _, el := range els {
			text, err := el.Text(ctx)
			if err != nil {
				continue
			}
			if text = CleanText(text); text != "" {
				return text, true
			}
		}
	}
	return "", false
}

func firstFieldAttr(ctx context.Context, s browser.Session, locs []browser.Locator, attr string) string {
	for _, loc := range locs {
		els, err := s.FindAll(ctx, loc)
		if err != nil {
			continue
		}
		for _, el := range els {
			v, ok, err := el.Attr(ctx, attr)
			if err == nil && ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func categories(ctx context.Context, s browser.Session) []string {
	els, err := s.FindAll(ctx, CategoryLocator)
	if err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{}, len(els))
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		text = CleanText(text)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// CleanText drops icon glyphs (private use runes) and collapses whitespace.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.In(r, unicode.Co) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseRating reads "4,5" or "4.5 stars" as 4.5.
func ParseRating(s string) float64 {
	m := ratingRe.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseReviews keeps only the digits of a label such as "(1,234)" or "1.234 reviews".
func ParseReviews(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

// ParseCoordinates extracts the place position from a maps URL, preferring the
// place marker (!3d/!4d) over the viewport center (@lat,lng).
func ParseCoordinates(rawURL string) (orb.Point, bool) {
	for _, re := range []*regexp.Regexp{placeCoordsRe, viewCoordsRe} {
		m := re.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lng, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return orb.Point{lng, lat}, true
	}
	return orb.Point{}, false
}

// UnwrapRedirect returns the target of a google.com/url?q= redirect link.
func UnwrapRedirect(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if strings.Contains(u.Host, "google.") && u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
		if q := u.Query().Get("url"); q != "" {
			return q
		}
	}
	return link
}
