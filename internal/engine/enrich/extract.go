package enrich

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

var (
	plainEmailRe = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	mailtoRe     = regexp.MustCompile(`(?i)mailto:([^"'\s<>()]+)`)
	obfuscatedRe = regexp.MustCompile(`(?i)[a-z0-9._%+-]+\s*[\[\(\{]\s*at\s*[\]\)\}]\s*[a-z0-9.-]+(?:\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*[a-z0-9-]+)*`)
	obfAtRe      = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*`)
	obfDotRe     = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*`)
	validEmailRe = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}$`)
)

// Denylist holds substrings that mark placeholder or asset addresses.
var Denylist = []string{
	"example.com",
	"domain.com",
	"email.com",
	"wordpress",
	"yourdomain",
	"company.com",
	"website.com",
	"sentry",
	"wixpress",
	".png",
	".jpg",
	".jpeg",
	".gif",
	".svg",
	".webp",
}

// ContactPaths are fetched relative to a site's root.
var ContactPaths = []string{
	"/contact",
	"/contact-us",
	"/about",
	"/about-us",
	"/reach-us",
	"/get-in-touch",
	"/connect",
}

var socialPlatforms = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
}

// NormalizeEmail lower-cases a candidate, strips mailto: and any query suffix, and
// reports whether the result is a well-formed, non-placeholder address.
func NormalizeEmail(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "mailto:")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.Trim(s, " .,;:'\"<>")
	if !validEmailRe.MatchString(s) {
		return "", false
	}
	for _, bad := range Denylist {
		if strings.Contains(s, bad) {
			return "", false
		}
	}
	return s, true
}

// pageScan is what one fetched page contributes.
type pageScan struct {
	emails []string
	social map[string]string
}

// scanPage extracts candidate emails, in discovery order, and social profile links.
// mailto targets come first, then plain addresses in the page text, then obfuscated ones.
func scanPage(body []byte, pageURL string) pageScan {
	scan := pageScan{social: map[string]string{}}
	var candidates []string

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	text := string(body)
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			href = strings.TrimSpace(href)
			if strings.HasPrefix(strings.ToLower(href), "mailto:") {
				candidates = append(candidates, href)
				return
			}
			if platform, link, ok := socialLink(href, pageURL); ok {
				if _, seen := scan.social[platform]; !seen {
					scan.social[platform] = link
				}
			}
		})
		text = doc.Text()
	}

	for _, m := range mailtoRe.FindAllStringSubmatch(string(body), -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, plainEmailRe.FindAllString(text, -1)...)
	for _, m := range obfuscatedRe.FindAllString(text, -1) {
		m = obfAtRe.ReplaceAllString(m, "@")
		m = obfDotRe.ReplaceAllString(m, ".")
		candidates = append(candidates, m)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		email, ok := NormalizeEmail(c)
		if !ok {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		scan.emails = append(scan.emails, email)
	}
	return scan
}

// socialLink classifies href as a profile on a known platform. Share and intent
// links are ignored.
func socialLink(href, base string) (platform, link string, ok bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", "", false
	}
	if !u.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", "", false
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	domain, err := RegistrableDomain(u.Hostname())
	if err != nil {
		return "", "", false
	}
	platform, ok = socialPlatforms[domain]
	if !ok {
		return "", "", false
	}
	p := strings.ToLower(u.Path)
	if p == "" || p == "/" || strings.Contains(p, "sharer") || strings.Contains(p, "/intent/") || strings.HasPrefix(p, "/share") {
		return "", "", false
	}
	return platform, u.String(), true
}

// RegistrableDomain returns the effective TLD+1 of host, without any www prefix.
func RegistrableDomain(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	host = strings.TrimPrefix(host, "www.")
	return publicsuffix.EffectiveTLDPlusOne(host)
}
